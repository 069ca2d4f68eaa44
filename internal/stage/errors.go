package stage

import (
	"errors"
	"fmt"
)

var (
	// ErrNoQC means no decompiled .qc exists for the item.
	ErrNoQC = errors.New("no decompiled .qc found")
	// ErrNoOutput means the compiler exited cleanly without writing the model.
	ErrNoOutput = errors.New("compiler produced no model")
	// ErrUnknownStage is returned by Invoke for an unregistered ID.
	ErrUnknownStage = errors.New("unknown stage")
)

// Error is a failed stage of one item. Output holds whatever the external
// tool printed, verbatim.
type Error struct {
	Stage  ID
	Path   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(id ID, path, output string, err error) *Error {
	return &Error{Stage: id, Path: path, Output: output, Err: err}
}
