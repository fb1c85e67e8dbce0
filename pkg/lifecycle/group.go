package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// Group supervises an ordered set of workers as a unit. The gateway
// process uses one to bring up the key ring refresher, the cache sweeper,
// and the webhook listener together and tear them down in reverse order
// on shutdown.
//
// A Group is safe for concurrent use by multiple goroutines.
type Group struct {
	logger *slog.Logger

	mu      sync.Mutex
	workers []Worker
}

// NewGroup constructs a [Group] supervising the given workers in order.
// If logger is nil, [slog.Default] is used.
func NewGroup(logger *slog.Logger, workers ...Worker) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Group{logger: logger}
	g.workers = append(g.workers, workers...)
	return g
}

// Add appends a worker to the group. Workers added after [Group.StartAll]
// are not started retroactively; call Add during process setup.
func (g *Group) Add(w Worker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workers = append(g.workers, w)
}

// snapshot returns a copy of the worker list for iteration outside the
// lock.
func (g *Group) snapshot() []Worker {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Worker, len(g.workers))
	copy(out, g.workers)
	return out
}

// StartAll starts every worker in registration order. If any worker fails
// to start, the workers already started are stopped in reverse order and
// the start error is returned wrapped with the failing worker's name.
func (g *Group) StartAll(ctx context.Context) error {
	workers := g.snapshot()

	for i, w := range workers {
		if err := w.Start(ctx); err != nil {
			g.logger.ErrorContext(ctx, "lifecycle: group start aborted",
				"worker", w.Name(),
				"error", err,
			)
			// Unwind the workers that did start.
			for j := i - 1; j >= 0; j-- {
				if stopErr := workers[j].Stop(ctx); stopErr != nil {
					g.logger.ErrorContext(ctx, "lifecycle: unwind stop failed",
						"worker", workers[j].Name(),
						"error", stopErr,
					)
				}
			}
			return vgerr.Wrapf(err, vgerr.CodeInternal,
				"lifecycle: worker %q failed to start", w.Name())
		}
	}

	g.logger.InfoContext(ctx, "lifecycle: group started", "workers", len(workers))
	return nil
}

// StopAll stops every worker in reverse registration order so that
// dependents shut down before their dependencies. All workers are
// attempted even if some fail; the individual errors are joined.
func (g *Group) StopAll(ctx context.Context) error {
	workers := g.snapshot()

	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(ctx); err != nil {
			g.logger.ErrorContext(ctx, "lifecycle: group stop failed",
				"worker", workers[i].Name(),
				"error", err,
			)
			errs = append(errs, vgerr.Wrapf(err, vgerr.CodeInternal,
				"lifecycle: worker %q failed to stop", workers[i].Name()))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	g.logger.InfoContext(ctx, "lifecycle: group stopped", "workers", len(workers))
	return nil
}

// HealthAll checks the health of every worker. All workers are checked;
// the individual failures are joined so a health endpoint can report
// every unhealthy worker at once. Returns nil when all workers are
// healthy.
func (g *Group) HealthAll(ctx context.Context) error {
	var errs []error
	for _, w := range g.snapshot() {
		if err := w.Health(ctx); err != nil {
			errs = append(errs, vgerr.Wrapf(err, vgerr.CodeUnavailable,
				"lifecycle: worker %q is unhealthy", w.Name()))
		}
	}
	return errors.Join(errs...)
}

// InfoAll returns a point-in-time snapshot of every worker's info in
// registration order.
func (g *Group) InfoAll() []WorkerInfo {
	workers := g.snapshot()
	infos := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		infos = append(infos, w.Info())
	}
	return infos
}
