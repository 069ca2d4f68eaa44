package pipeline

import (
	"time"

	"github.com/backmassage/s2g/internal/stage"
)

// Outcome is the final state of one item.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
)

func (o Outcome) String() string {
	if o == Failed {
		return "failed"
	}
	return "ok"
}

// ItemResult records what happened to one discovered model.
type ItemResult struct {
	Path    string
	Outcome Outcome
	// Stage is the failing stage; meaningful only when Outcome is Failed.
	Stage stage.ID
	Err   error
	// Output is the compiled model path when the compile stage ran.
	Output          string
	OutputBytes     int64
	MissingTextures []string
	Elapsed         time.Duration
}

// RunResult maps every attempted item to its outcome. Items not attempted
// (after a non-forced failure or a stop) are absent.
type RunResult struct {
	Items       []ItemResult
	Total       int // models discovered
	Succeeded   int
	Failed      int
	Interrupted bool
	DryRun      bool
	Elapsed     time.Duration
}

func (r *RunResult) add(ir ItemResult) {
	r.Items = append(r.Items, ir)
	if ir.Outcome == Failed {
		r.Failed++
	} else {
		r.Succeeded++
	}
}

// Lookup returns the result recorded for path.
func (r RunResult) Lookup(path string) (ItemResult, bool) {
	for _, ir := range r.Items {
		if ir.Path == path {
			return ir, true
		}
	}
	return ItemResult{}, false
}

// Failures returns the failed items in processing order.
func (r RunResult) Failures() []ItemResult {
	var out []ItemResult
	for _, ir := range r.Items {
		if ir.Outcome == Failed {
			out = append(out, ir)
		}
	}
	return out
}

// OutputBytes sums the size of every compiled model.
func (r RunResult) OutputBytes() int64 {
	var n int64
	for _, ir := range r.Items {
		n += ir.OutputBytes
	}
	return n
}

// OK reports whether every discovered item was attempted and succeeded.
func (r RunResult) OK() bool {
	return !r.Interrupted && r.Failed == 0 && len(r.Items) == r.Total
}
