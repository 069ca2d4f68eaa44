package pipeline

import (
	"context"
	"fmt"

	"github.com/backmassage/s2g/internal/progress"
)

// Handle tracks one run started with Start.
type Handle struct {
	done     chan struct{}
	cancel   context.CancelFunc
	progress *progress.Channel
	res      RunResult
	err      error
}

// Start launches a run on its own goroutine and returns at once. The
// progress channel is reset and marked running before Start returns; it is
// marked not running before the handle reports done.
//
// A second Start while a run is active returns a handle that is already
// done with ErrRunInProgress, leaving the active run untouched.
func (c *Coordinator) Start(ctx context.Context, root string) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{done: make(chan struct{}), cancel: cancel, progress: c.progress}

	if !c.busy.CompareAndSwap(false, true) {
		h.err = ErrRunInProgress
		cancel()
		close(h.done)
		return h
	}

	c.progress.Reset()
	c.progress.SetRunning(true)

	go func() {
		defer close(h.done)
		defer c.busy.Store(false)
		defer c.progress.SetRunning(false)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("pipeline panic: %v", r)
				c.errorf("%v", h.err)
			}
		}()
		defer cancel()

		h.res, h.err = c.run(ctx, root)
	}()
	return h
}

// Done is closed when the run has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsDone reports whether the run has finished. Once true it stays true.
func (h *Handle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the run finishes and returns its result.
func (h *Handle) Wait() (RunResult, error) {
	<-h.done
	return h.res, h.err
}

// Stop asks the run to end once the current item finishes. No new item is
// started after Stop.
func (h *Handle) Stop() { h.cancel() }

// Progress returns the channel the run reports to.
func (h *Handle) Progress() *progress.Channel { return h.progress }
