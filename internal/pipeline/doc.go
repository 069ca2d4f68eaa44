// Package pipeline drives batch conversion: it discovers .mdl inputs under
// a path, runs the enabled stages on each one in order, and reports what
// happened through a progress channel and a RunResult.
//
// A Coordinator is configured once with tool paths, a step policy and run
// options. Start launches a run on a background goroutine and returns a
// Handle immediately; Run is the blocking form.
//
// Without Force the first failing item ends the run. With Force every
// item gets an outcome and failures are collected in the result.
package pipeline
