package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// DefaultFailureThreshold is the number of consecutive task failures after
// which a [Periodic] worker reports itself unhealthy.
const DefaultFailureThreshold = 3

// PeriodicConfig holds the configuration for a [Periodic] worker.
type PeriodicConfig struct {
	// Name identifies the worker (e.g., "keyring-refresher").
	Name string

	// Interval is the delay between consecutive task runs. Must be
	// positive.
	Interval time.Duration

	// Task is the function executed on every tick. A non-nil error is
	// counted as a failure; the worker keeps running and retries on the
	// next tick.
	Task func(ctx context.Context) error

	// Immediate, when true, runs the task once during Start before the
	// ticker loop begins. A failure of this initial run aborts startup
	// and transitions the worker to StateFailed. Use this for tasks that
	// must succeed before the worker is useful (e.g., the initial key
	// ring fetch).
	Immediate bool

	// FailureThreshold is the number of consecutive task failures after
	// which Health reports the worker unhealthy. Zero means
	// DefaultFailureThreshold.
	FailureThreshold int

	// Logger is the structured logger for task outcomes. Nil means
	// slog.Default.
	Logger *slog.Logger
}

// Validate checks the configuration for correctness. Returns a
// [*vgerr.Error] with code [vgerr.CodeValidation] describing the first
// problem found, or nil if the configuration is valid.
func (c *PeriodicConfig) Validate() *vgerr.Error {
	if c.Name == "" {
		return vgerr.New(vgerr.CodeValidation,
			"lifecycle: periodic worker name must not be empty")
	}
	if c.Interval <= 0 {
		return vgerr.Newf(vgerr.CodeValidation,
			"lifecycle: periodic interval must be positive, got %s", c.Interval)
	}
	if c.Task == nil {
		return vgerr.New(vgerr.CodeValidation,
			"lifecycle: periodic task must not be nil")
	}
	if c.FailureThreshold < 0 {
		return vgerr.Newf(vgerr.CodeValidation,
			"lifecycle: failure threshold must not be negative, got %d", c.FailureThreshold)
	}
	return nil
}

// Periodic is a [Worker] that runs a task on a fixed interval. It is the
// shape of the platform's background maintenance units: the key ring
// refresher re-fetching signing keys, the session cache sweeper evicting
// expired entries.
//
// The ticker loop starts when the worker starts and stops when the worker
// stops. While the worker is paused, ticks are skipped without running the
// task; resuming picks the loop back up on the next tick. Task failures
// are counted; [Periodic.Health] reports the worker unhealthy once the
// consecutive failure count reaches the configured threshold, and any
// success resets the count.
//
// A panicking task is recovered, logged, and counted as a failure so one
// bad run cannot take down the process.
type Periodic struct {
	*BaseWorker

	interval  time.Duration
	task      func(ctx context.Context) error
	immediate bool
	threshold int
	logger    *slog.Logger

	failures atomic.Int64

	// Loop lifetime, guarded by loopMu.
	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Worker = (*Periodic)(nil)

// NewPeriodic constructs a [Periodic] worker from the given configuration.
// Returns a [*vgerr.Error] with code [vgerr.CodeValidation] if the
// configuration is invalid.
//
// The returned worker is in [StateUnknown]; call [Periodic.Start] to
// begin the ticker loop.
func NewPeriodic(cfg PeriodicConfig) (*Periodic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}

	p := &Periodic{
		interval:  cfg.Interval,
		task:      cfg.Task,
		immediate: cfg.Immediate,
		threshold: threshold,
		logger:    logger,
	}

	base, err := NewBaseWorkerBuilder(cfg.Name).
		WithLogger(logger).
		WithOnStart(p.startLoop).
		WithOnStop(p.stopLoop).
		Build()
	if err != nil {
		return nil, err
	}
	p.BaseWorker = base

	return p, nil
}

// Health reports nil while the worker is running and its recent task runs
// are succeeding. Beyond the state check inherited from [BaseWorker], it
// returns a [*vgerr.Error] with code [vgerr.CodeUnavailable] once the
// consecutive failure count reaches the configured threshold.
func (p *Periodic) Health(ctx context.Context) error {
	if err := p.BaseWorker.Health(ctx); err != nil {
		return err
	}
	if n := p.failures.Load(); n >= int64(p.threshold) {
		return vgerr.Newf(vgerr.CodeUnavailable,
			"lifecycle: worker %q has failed %d consecutive runs", p.Name(), n)
	}
	return nil
}

// ConsecutiveFailures returns the number of task runs that have failed
// since the last success. It resets to zero on any successful run.
func (p *Periodic) ConsecutiveFailures() int {
	return int(p.failures.Load())
}

// startLoop is the OnStart hook. It optionally runs the task once
// immediately, then spawns the ticker goroutine.
func (p *Periodic) startLoop(ctx context.Context) error {
	if p.immediate {
		if err := p.runTask(ctx); err != nil {
			return fmt.Errorf("initial run of %q: %w", p.Name(), err)
		}
	}

	// The loop outlives the Start call, so it gets its own context
	// detached from the caller's deadline.
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.loopMu.Lock()
	p.cancel = cancel
	p.done = done
	p.loopMu.Unlock()

	go p.run(loopCtx, done)

	return nil
}

// stopLoop is the OnStop hook. It cancels the ticker goroutine and waits
// for it to exit, honoring the caller's deadline.
func (p *Periodic) stopLoop(ctx context.Context) error {
	p.loopMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.loopMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return vgerr.Wrap(ctx.Err(), vgerr.CodeTimeout,
			"lifecycle: timed out waiting for ticker loop to exit")
	}
}

// run is the ticker loop. Ticks that arrive while the worker is paused
// are skipped; the task resumes on the first tick after Resume.
func (p *Periodic) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.State() != StateRunning {
				continue
			}
			if err := p.runTask(ctx); err != nil {
				p.logger.WarnContext(ctx, "lifecycle: periodic task failed",
					"worker", p.Name(),
					"consecutive_failures", p.failures.Load(),
					"error", err,
				)
			}
		}
	}
}

// runTask executes one task run, recovering panics and maintaining the
// consecutive failure count.
func (p *Periodic) runTask(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = vgerr.Newf(vgerr.CodeInternal,
				"lifecycle: periodic task panicked: %v", r)
		}
		if err != nil {
			p.failures.Add(1)
		} else {
			p.failures.Store(0)
		}
	}()
	return p.task(ctx)
}
