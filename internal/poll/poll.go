// Package poll runs bounded, fixed-interval condition checks.
package poll

import (
	"context"
	"time"
)

// Result is how a poll ended
type Result int

const (
	Satisfied Result = iota
	TimedOut
	Aborted
)

func (r Result) String() string {
	switch r {
	case Satisfied:
		return "satisfied"
	case TimedOut:
		return "timed_out"
	default:
		return "aborted"
	}
}

// Outcome describes a finished poll
type Outcome struct {
	Result   Result
	Elapsed  time.Duration
	Attempts int
	// Err is the error that aborted the poll, or the context error
	Err error
}

// Func is one check. Returning done ends the poll as Satisfied; returning an
// error ends it as Aborted.
type Func func(ctx context.Context) (done bool, err error)

// Until calls fn immediately and then every interval until it reports done,
// returns an error, timeout elapses or ctx is canceled. A non-positive
// timeout allows exactly one attempt.
func Until(ctx context.Context, interval, timeout time.Duration, fn Func) Outcome {
	start := time.Now()
	deadline := start.Add(timeout)
	var out Outcome

	for {
		out.Attempts++
		done, err := fn(ctx)
		out.Elapsed = time.Since(start)
		if err != nil {
			out.Result = Aborted
			out.Err = err
			return out
		}
		if done {
			out.Result = Satisfied
			return out
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			out.Result = TimedOut
			return out
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.Elapsed = time.Since(start)
			out.Result = Aborted
			out.Err = ctx.Err()
			return out
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			// one last look at the deadline edge
			out.Attempts++
			done, err := fn(ctx)
			out.Elapsed = time.Since(start)
			switch {
			case err != nil:
				out.Result = Aborted
				out.Err = err
			case done:
				out.Result = Satisfied
			default:
				out.Result = TimedOut
			}
			return out
		}
	}
}
