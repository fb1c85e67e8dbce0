package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/VetGrid/vetgrid-identity-core/pkg/lifecycle"

// StateChangeHandler observes a worker's state transitions. Handlers
// run synchronously under the worker's state mutex, so they must not
// block or call lifecycle methods on the same worker. A panicking
// handler is recovered and logged; it cannot undo the transition.
//
// Typical handlers flip readiness probes, emit metrics, or alert on a
// move to [StateFailed].
type StateChangeHandler func(from, to State)

// Hook runs worker-specific logic during a lifecycle transition. The
// context is the caller's, deadlines included. A non-nil error aborts
// the transition and drives the worker to [StateFailed], so hooks
// should release whatever they acquired before returning one.
//
// Hooks run outside the state mutex; reading [BaseWorker.State] or
// [BaseWorker.Info] from inside one is safe.
type Hook func(ctx context.Context) error

// Worker is the lifecycle contract shared by the identity core's
// background units: the key ring refresher, the session cache sweeper,
// the webhook listener. The supervising process drives every unit
// through this interface and nothing else.
//
// Implementations must be safe for concurrent use. [BaseWorker] is the
// stock implementation; [Periodic] builds on it for the run-on-an-
// interval shape. A concrete worker usually composes [BaseWorker] and
// injects its own startup and shutdown through hooks:
//
//	srv := &http.Server{Addr: ":8080", Handler: mux}
//	listener, err := lifecycle.NewBaseWorkerBuilder("http-listener").
//	    WithOnStart(func(ctx context.Context) error {
//	        go func() { _ = srv.ListenAndServe() }()
//	        return nil
//	    }).
//	    WithOnStop(func(ctx context.Context) error {
//	        return srv.Shutdown(ctx)
//	    }).
//	    Build()
type Worker interface {
	// Name identifies the worker, e.g. "keyring-refresher". Immutable.
	Name() string

	// Info snapshots name, state, and uptime. The copy is safe to
	// serialize.
	Info() WorkerInfo

	// Start moves the worker through Starting to Running, with the
	// OnStart hook in between. Legal from Unknown, Stopped, and Failed;
	// anywhere else is a CONF_001 error. A context canceled before work
	// begins returns TIMEOUT_001 without touching state.
	Start(ctx context.Context) error

	// Stop moves the worker through Stopping to Stopped, with the
	// OnStop hook in between to drain in-flight work. A no-op in
	// terminal states, so deferred cleanup can call it blindly; from a
	// state with no path to Stopping it returns CONF_001.
	Stop(ctx context.Context) error

	// Pause suspends a Running worker without releasing its resources.
	// Legal only from Running.
	Pause(ctx context.Context) error

	// Resume returns a Paused worker to Running. Legal only from
	// Paused.
	Resume(ctx context.Context) error

	// State reports the current lifecycle state.
	State() State

	// Health is nil exactly when the worker is Running; otherwise an
	// UNAVAIL_001 error naming the current state. Implementations may
	// layer deeper checks on top, the way [Periodic] surfaces repeated
	// task failures.
	Health(ctx context.Context) error
}

// WorkerInfo is the snapshot returned by [Worker.Info], shaped for
// health endpoints. Uptime counts from the moment the worker entered
// Running and reads zero when it is not running.
type WorkerInfo struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// BaseWorker is the stock [Worker]: a validated state machine under a
// RWMutex, hook execution outside the lock, synchronous state change
// observers, and a span per lifecycle operation. Build one with
// [BaseWorkerBuilder] and share it freely; every method is safe for
// concurrent use.
type BaseWorker struct {
	// Set at construction, never modified afterwards.
	name          string
	tracer        trace.Tracer
	logger        *slog.Logger
	onStart       Hook
	onStop        Hook
	onPause       Hook
	onResume      Hook
	stateHandlers []StateChangeHandler

	// Guarded by mu.
	mu        sync.RWMutex
	state     State
	startedAt *time.Time
}

var _ Worker = (*BaseWorker)(nil)

// Name returns the worker's immutable name.
func (w *BaseWorker) Name() string {
	return w.name
}

// State returns the current lifecycle state.
func (w *BaseWorker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Info returns a point-in-time snapshot of name, state, and uptime.
func (w *BaseWorker) Info() WorkerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	info := WorkerInfo{
		Name:  w.name,
		State: w.state,
	}

	if w.startedAt != nil && w.state == StateRunning {
		t := *w.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}

	return info
}

// Health reports nil while the worker is Running and UNAVAIL_001
// naming the current state otherwise.
func (w *BaseWorker) Health(ctx context.Context) error {
	if state := w.State(); state != StateRunning {
		return vgerr.Newf(vgerr.CodeUnavailable,
			"lifecycle: worker is not running, current state is %q", state)
	}
	return nil
}

// SetState moves the worker to the given state, or returns CONF_001
// when [ValidTransition] rejects the move. On success every registered
// [StateChangeHandler] runs, still under the lock so observers see
// transitions in order. Exported so concrete workers can report
// [StateFailed] when they detect an internal fault.
func (w *BaseWorker) SetState(next State) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	from := w.state
	if !ValidTransition(from, next) {
		return vgerr.Newf(vgerr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", from, next)
	}

	w.state = next

	// A panicking observer must not corrupt the worker or starve the
	// handlers after it.
	for _, h := range w.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"worker", w.name,
						"old_state", string(from),
						"new_state", string(next),
					)
				}
			}()
			h(from, next)
		}()
	}

	return nil
}

// beginOp opens the span for one lifecycle operation.
func (w *BaseWorker) beginOp(ctx context.Context, op string) (context.Context, trace.Span) {
	return w.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("worker.name", w.name)),
	)
}

// failSpan records err on the span and hands it back to the caller.
func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// guardContext rejects the operation with TIMEOUT_001 when the caller's
// context died before any state was touched.
func guardContext(ctx context.Context, span trace.Span, op string) error {
	if err := ctx.Err(); err != nil {
		return failSpan(span, vgerr.Wrap(err, vgerr.CodeTimeout,
			"lifecycle: "+op+" canceled before execution"))
	}
	return nil
}

// runHook executes one lifecycle hook outside the state lock. A hook
// failure is logged, drives the worker to Failed, and comes back as
// INT_001 with the hook's error in the chain.
func (w *BaseWorker) runHook(ctx context.Context, span trace.Span, hook Hook, op string) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx); err != nil {
		w.logger.ErrorContext(ctx, "lifecycle: "+op+" hook failed",
			"worker", w.name,
			"error", err,
		)
		_ = w.SetState(StateFailed)
		return failSpan(span, vgerr.Wrap(err, vgerr.CodeInternal,
			"lifecycle: "+op+" hook failed"))
	}
	return nil
}

// Start brings the worker to Running. The OnStart hook runs between
// the Starting and Running transitions; its failure leaves the worker
// in Failed. The Running timestamp is recorded only after the full
// sequence succeeds, so uptime never counts a failed start.
func (w *BaseWorker) Start(ctx context.Context) error {
	ctx, span := w.beginOp(ctx, "lifecycle.Start")
	defer span.End()

	if err := guardContext(ctx, span, "start"); err != nil {
		return err
	}
	if err := w.SetState(StateStarting); err != nil {
		return failSpan(span, err)
	}

	w.logger.InfoContext(ctx, "lifecycle: starting worker", "worker", w.name)

	if err := w.runHook(ctx, span, w.onStart, "start"); err != nil {
		return err
	}
	if err := w.SetState(StateRunning); err != nil {
		return failSpan(span, err)
	}

	now := time.Now().UTC()
	w.mu.Lock()
	w.startedAt = &now
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "lifecycle: worker started", "worker", w.name)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Stop brings the worker to Stopped. Calling it in a terminal state is
// a no-op, which makes deferred and repeated shutdown safe. The OnStop
// hook runs between the Stopping and Stopped transitions so the worker
// can drain in-flight work; its failure leaves the worker in Failed.
func (w *BaseWorker) Stop(ctx context.Context) error {
	ctx, span := w.beginOp(ctx, "lifecycle.Stop")
	defer span.End()

	if w.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if err := guardContext(ctx, span, "stop"); err != nil {
		return err
	}
	if err := w.SetState(StateStopping); err != nil {
		return failSpan(span, err)
	}

	w.logger.InfoContext(ctx, "lifecycle: stopping worker", "worker", w.name)

	if err := w.runHook(ctx, span, w.onStop, "stop"); err != nil {
		return err
	}
	if err := w.SetState(StateStopped); err != nil {
		return failSpan(span, err)
	}

	w.mu.Lock()
	w.startedAt = nil
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "lifecycle: worker stopped", "worker", w.name)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Pause suspends a Running worker. The state machine rejects the call
// from anywhere else; the OnPause hook runs after the transition.
func (w *BaseWorker) Pause(ctx context.Context) error {
	ctx, span := w.beginOp(ctx, "lifecycle.Pause")
	defer span.End()

	if err := guardContext(ctx, span, "pause"); err != nil {
		return err
	}
	if err := w.SetState(StatePaused); err != nil {
		return failSpan(span, err)
	}
	if err := w.runHook(ctx, span, w.onPause, "pause"); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "lifecycle: worker paused", "worker", w.name)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Resume returns a Paused worker to Running. The state machine rejects
// the call from anywhere else; the OnResume hook runs after the
// transition.
func (w *BaseWorker) Resume(ctx context.Context) error {
	ctx, span := w.beginOp(ctx, "lifecycle.Resume")
	defer span.End()

	if err := guardContext(ctx, span, "resume"); err != nil {
		return err
	}
	if err := w.SetState(StateRunning); err != nil {
		return failSpan(span, err)
	}
	if err := w.runHook(ctx, span, w.onResume, "resume"); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "lifecycle: worker resumed", "worker", w.name)
	span.SetStatus(codes.Ok, "")

	return nil
}

// =========================================================================
// BaseWorkerBuilder
// =========================================================================

// BaseWorkerBuilder assembles a [BaseWorker]. Configuration methods
// chain; [BaseWorkerBuilder.Build] validates and constructs.
type BaseWorkerBuilder struct {
	name          string
	logger        *slog.Logger
	onStart       Hook
	onStop        Hook
	onPause       Hook
	onResume      Hook
	stateHandlers []StateChangeHandler
}

// NewBaseWorkerBuilder starts a builder for a worker with the given
// name. The name is checked at Build time.
func NewBaseWorkerBuilder(name string) *BaseWorkerBuilder {
	return &BaseWorkerBuilder{name: name}
}

// WithLogger overrides the worker's logger; [slog.Default] otherwise.
func (b *BaseWorkerBuilder) WithLogger(logger *slog.Logger) *BaseWorkerBuilder {
	b.logger = logger
	return b
}

// WithOnStart sets the hook that runs between the Starting and Running
// transitions. Workers warm caches or bind listeners here.
func (b *BaseWorkerBuilder) WithOnStart(hook Hook) *BaseWorkerBuilder {
	b.onStart = hook
	return b
}

// WithOnStop sets the hook that runs between the Stopping and Stopped
// transitions. Workers drain in-flight work and close connections here.
func (b *BaseWorkerBuilder) WithOnStop(hook Hook) *BaseWorkerBuilder {
	b.onStop = hook
	return b
}

// WithOnPause sets the hook that runs after the move to Paused.
func (b *BaseWorkerBuilder) WithOnPause(hook Hook) *BaseWorkerBuilder {
	b.onPause = hook
	return b
}

// WithOnResume sets the hook that runs after the move back to Running.
func (b *BaseWorkerBuilder) WithOnResume(hook Hook) *BaseWorkerBuilder {
	b.onResume = hook
	return b
}

// OnStateChange registers a transition observer. Observers run in
// registration order, synchronously under the state mutex; see
// [StateChangeHandler] for what they may and may not do.
func (b *BaseWorkerBuilder) OnStateChange(handler StateChangeHandler) *BaseWorkerBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and constructs the worker in
// [StateUnknown]. An empty name is VAL_001. The handler list is copied
// so later appends on the builder cannot reach a built worker.
func (b *BaseWorkerBuilder) Build() (*BaseWorker, error) {
	if b.name == "" {
		return nil, vgerr.New(vgerr.CodeValidation,
			"lifecycle: worker name must not be empty")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	handlers := make([]StateChangeHandler, len(b.stateHandlers))
	copy(handlers, b.stateHandlers)

	return &BaseWorker{
		name:          b.name,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       b.onStart,
		onStop:        b.onStop,
		onPause:       b.onPause,
		onResume:      b.onResume,
		stateHandlers: handlers,
	}, nil
}
