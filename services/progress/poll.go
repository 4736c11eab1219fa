package progress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollAbandoned means the operation did not finish within the attempt
// budget. The import may still be running; the caller must check manually.
var ErrPollAbandoned = errors.New("operation did not finish in time, manual check required")

type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	// OnUpdate, if set, sees every snapshot read.
	OnUpdate func(op *Operation)
}

func DefaultPollOptions() PollOptions {
	return PollOptions{Interval: 2 * time.Second, MaxAttempts: 300}
}

// Poll reads the operation until it reaches a terminal status, the attempt
// budget runs out, or ctx is done. An unknown id ends polling at once.
func Poll(ctx context.Context, f Fetcher, id string, opts PollOptions) (*Operation, error) {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 300
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last *Operation
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		op, err := f.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, err
		case err != nil:
			// Transient read errors use up an attempt but do not end polling
			last = nil
		default:
			last = op
			if opts.OnUpdate != nil {
				opts.OnUpdate(op)
			}
			if op.Status.IsTerminal() {
				return op, nil
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
	return last, fmt.Errorf("%w (after %d attempts)", ErrPollAbandoned, opts.MaxAttempts)
}
