package pipeline

import (
	"context"

	"github.com/TobiSchelling/pegasus/internal/events"
)

// Run is a pipeline execution on a background goroutine. Its events must
// be drained until the channel closes.
type Run struct {
	queue  *events.Queue
	done   chan struct{}
	report *Report
	err    error
}

// Start runs the pipeline for target in the background. The worker only
// talks to the caller through the event stream and the final result.
func (p *Pipeline) Start(ctx context.Context, target string, observers ...events.Emitter) *Run {
	q := events.NewQueue()
	run := &Run{queue: q, done: make(chan struct{})}
	emit := events.Multi(append([]events.Emitter{q}, observers...)...)

	go func() {
		defer close(run.done)
		defer q.Close()
		run.report, run.err = p.Run(ctx, target, emit)
	}()
	return run
}

// Events returns the run's event stream. It is closed after the
// finished event has been delivered.
func (r *Run) Events() <-chan events.Event {
	return r.queue.Events()
}

// Wait blocks until the worker returns.
func (r *Run) Wait() (*Report, error) {
	<-r.done
	return r.report, r.err
}
