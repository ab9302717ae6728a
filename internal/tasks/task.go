// Package tasks runs long host-side tasks with a concurrency cap and reports
// their progress to the page.
package tasks

import (
	"context"
	"time"
)

// Task is a unit of long-running work. Run calls report as often as it likes;
// the last reported value becomes the completion payload.
type Task interface {
	Name() string
	Run(ctx context.Context, report func(progress any)) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context, report func(progress any)) error
}

func (f funcTask) Name() string { return f.name }

func (f funcTask) Run(ctx context.Context, report func(progress any)) error {
	return f.fn(ctx, report)
}

// Func adapts a plain function to a Task.
func Func(name string, fn func(ctx context.Context, report func(progress any)) error) Task {
	return funcTask{name: name, fn: fn}
}

// Ticker is the stock long task: it reports i/Steps once per Interval and
// ends at 1.0.
type Ticker struct {
	Steps    int
	Interval time.Duration
}

func (Ticker) Name() string { return "ticker" }

func (t Ticker) Run(ctx context.Context, report func(progress any)) error {
	steps := t.Steps
	if steps <= 0 {
		steps = 1
	}

	var tick <-chan time.Time
	if t.Interval > 0 {
		tk := time.NewTicker(t.Interval)
		defer tk.Stop()
		tick = tk.C
	}

	for i := 1; i <= steps; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		report(float64(i) / float64(steps))
	}
	return nil
}
