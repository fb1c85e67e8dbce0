// Package reconcile projects external identities onto the persisted user
// store with race-free ordering.
//
// Two paths feed the reconciler: request-time synchronization from
// verified token claims, and asynchronous provider change events from the
// webhook ingress. Both may describe the same subject concurrently and
// out of order. The reconciler serializes writes per external subject id
// and orders competing inputs by their provider-side updated_at
// timestamp: a strictly newer input wins, a tie goes to the webhook
// source because it is the provider's authoritative event stream, and
// anything older is absorbed as a no-op. Absorbed inputs are logged with
// code CONF_003 and never surfaced as failures.
//
// Every successful write invalidates the session cache for the subject,
// so cached verifications never outlive a role change or deactivation by
// more than the cache's documented staleness bound.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/VetGrid/vetgrid-identity-core/pkg/auth"
	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
	"github.com/VetGrid/vetgrid-identity-core/pkg/store"
)

// tracerName is the OpenTelemetry tracer name for this package.
const tracerName = "github.com/VetGrid/vetgrid-identity-core/pkg/reconcile"

// SessionInvalidator drops cached verifications for a subject after a
// reconciliation write. Satisfied by the session cache implementations in
// pkg/cache. Invalidation is best-effort: failures are logged, not
// returned, and the cache TTL bounds how long a stale entry can survive.
type SessionInvalidator interface {
	InvalidateUser(ctx context.Context, externalID string) error
}

// Reconciler applies verified identities and provider change events to
// the user store. It implements [auth.UserSyncer] for the request-time
// path; the webhook ingress drives [Reconciler.CreateOrReactivate] and
// [Reconciler.Delete] for the event path.
type Reconciler struct {
	store       store.Store
	invalidator SessionInvalidator
	logger      *slog.Logger
	locks       *keyedMutex
	tracer      trace.Tracer
}

var _ auth.UserSyncer = (*Reconciler)(nil)

// NewReconciler creates a reconciler writing through st. The invalidator
// is required; pass the session cache, or a no-op implementation when no
// cache is wired. A nil logger falls back to slog.Default.
func NewReconciler(st store.Store, invalidator SessionInvalidator, logger *slog.Logger) (*Reconciler, error) {
	if st == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "reconcile: store must not be nil")
	}
	if invalidator == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "reconcile: session invalidator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		store:       st,
		invalidator: invalidator,
		logger:      logger,
		locks:       newKeyedMutex(),
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// CreateOrUpdate implements [auth.UserSyncer]: it inserts a row for an
// unseen subject or applies the identity's mutable fields to an existing
// row when the identity is newer than the last applied sync. An inactive
// row is never reactivated on this path; a deactivated user presenting a
// still-valid token stays deactivated and is rejected downstream.
//
// The returned row is the post-reconciliation state, which for an
// absorbed stale input is the stored row unchanged.
func (r *Reconciler) CreateOrUpdate(ctx context.Context, identity models.ExternalIdentity, role models.Role, source models.SyncSource) (models.User, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.CreateOrUpdate")
	defer span.End()

	u, err := r.apply(ctx, span, identity, role, source, false)
	if err != nil {
		finishSpan(span, err)
		return models.User{}, err
	}
	return u, nil
}

// CreateOrReactivate handles a provider created event: the same upsert as
// [Reconciler.CreateOrUpdate] with webhook-source ordering, plus
// reactivation of a soft-deleted row. Providers reuse subject ids when an
// account is recreated, so a created event for an inactive subject flips
// it back to active rather than erroring.
func (r *Reconciler) CreateOrReactivate(ctx context.Context, identity models.ExternalIdentity, role models.Role) (models.User, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.CreateOrReactivate")
	defer span.End()

	u, err := r.apply(ctx, span, identity, role, models.SyncSourceWebhook, true)
	if err != nil {
		finishSpan(span, err)
		return models.User{}, err
	}
	return u, nil
}

// Delete soft-deletes the row for an external subject id: the row is
// marked inactive and kept, so historical domain records stay consistent.
// A delete for an unknown subject is logged and acknowledged as a no-op,
// because deliveries may duplicate or arrive before the create they
// follow.
func (r *Reconciler) Delete(ctx context.Context, externalID string) error {
	ctx, span := r.tracer.Start(ctx, "reconcile.Delete")
	defer span.End()

	if externalID == "" {
		err := vgerr.New(vgerr.CodeValidationRequired, "reconcile: subject id is required")
		finishSpan(span, err)
		return err
	}
	span.SetAttributes(attribute.String("reconcile.subject", externalID))

	unlock := r.locks.Lock(externalID)
	defer unlock()

	u, err := r.store.SetActive(ctx, externalID, false)
	if err != nil {
		if vgerr.HasCode(err, vgerr.CodeNotFoundUser) {
			r.logger.InfoContext(ctx, "reconcile: delete for unknown subject acknowledged",
				"subject", externalID)
			return nil
		}
		finishSpan(span, err)
		return err
	}

	r.invalidate(ctx, externalID)
	r.logger.InfoContext(ctx, "reconcile: user deactivated",
		"subject", externalID, "user_id", u.ID)
	return nil
}

// apply is the locked reconciliation core shared by both write paths.
// reactivate is set only for provider created events.
func (r *Reconciler) apply(ctx context.Context, span trace.Span, identity models.ExternalIdentity, role models.Role, source models.SyncSource, reactivate bool) (models.User, error) {
	if err := identity.Validate(); err != nil {
		return models.User{}, vgerr.Wrap(err, vgerr.CodeValidation, "reconcile: invalid identity")
	}
	span.SetAttributes(
		attribute.String("reconcile.subject", identity.Subject),
		attribute.String("reconcile.source", string(source)),
	)

	unlock := r.locks.Lock(identity.Subject)
	defer unlock()

	current, err := r.store.GetByExternalID(ctx, identity.Subject)
	if err != nil {
		if !vgerr.HasCode(err, vgerr.CodeNotFoundUser) {
			return models.User{}, err
		}
		u, insertErr := r.insert(ctx, identity, role, source)
		if insertErr == nil || !vgerr.HasCode(insertErr, vgerr.CodeConflictAlreadyExists) {
			return u, insertErr
		}
		// Another replica inserted the subject between our read and
		// write. Re-read and fall through to the update path; if the
		// subject is still absent the collision was on the email index
		// and cannot be resolved here.
		current, err = r.store.GetByExternalID(ctx, identity.Subject)
		if err != nil {
			if vgerr.HasCode(err, vgerr.CodeNotFoundUser) {
				return models.User{}, insertErr
			}
			return models.User{}, err
		}
	}

	incoming := identity.SyncTimestamp()
	accepted := incoming.After(current.SyncedAt) ||
		(incoming.Equal(current.SyncedAt) && source == models.SyncSourceWebhook)
	if !accepted {
		r.logger.DebugContext(ctx, "reconcile: stale sync absorbed",
			"code", vgerr.CodeConflictStaleSync,
			"subject", identity.Subject,
			"source", source,
			"incoming", incoming,
			"stored", current.SyncedAt)
		span.SetAttributes(attribute.Bool("reconcile.absorbed", true))
		if reactivate && !current.Active {
			r.logger.InfoContext(ctx, "reconcile: stale created event left subject inactive",
				"code", vgerr.CodeConflictStaleSync, "subject", identity.Subject)
		}
		return current, nil
	}

	updated := current
	updated.Email = identity.Email
	updated.FirstName = identity.FirstName
	updated.LastName = identity.LastName
	updated.Role = role
	if reactivate {
		updated.Active = true
	}
	if !identity.LastSignInAt.IsZero() && identity.LastSignInAt.After(updated.LastSignInAt) {
		updated.LastSignInAt = identity.LastSignInAt
	}
	updated.SyncedAt = incoming
	updated.UpdatedAt = time.Now().UTC()

	stored, err := r.store.Update(ctx, updated)
	if err != nil {
		return models.User{}, err
	}

	r.invalidate(ctx, identity.Subject)
	if reactivate && !current.Active {
		r.logger.InfoContext(ctx, "reconcile: user reactivated",
			"subject", identity.Subject, "user_id", stored.ID)
	}
	return stored, nil
}

// insert creates the first row for a subject. SyncedAt records the
// provider timestamp that produced the row so later inputs order against
// it.
func (r *Reconciler) insert(ctx context.Context, identity models.ExternalIdentity, role models.Role, source models.SyncSource) (models.User, error) {
	u, err := models.NewUser(identity.Subject, identity.Email, role)
	if err != nil {
		return models.User{}, vgerr.Wrap(err, vgerr.CodeValidation, "reconcile: cannot build user")
	}
	u.FirstName = identity.FirstName
	u.LastName = identity.LastName
	u.LastSignInAt = identity.LastSignInAt
	u.SyncedAt = identity.SyncTimestamp()

	stored, err := r.store.Insert(ctx, *u)
	if err != nil {
		return models.User{}, err
	}

	r.invalidate(ctx, identity.Subject)
	r.logger.InfoContext(ctx, "reconcile: user created",
		"subject", identity.Subject, "user_id", stored.ID, "role", role, "source", source)
	return stored, nil
}

// invalidate drops cached verifications for the subject. Best-effort: a
// failure leaves entries to expire on their own TTL, which is the
// documented staleness bound.
func (r *Reconciler) invalidate(ctx context.Context, externalID string) {
	if err := r.invalidator.InvalidateUser(ctx, externalID); err != nil {
		r.logger.WarnContext(ctx, "reconcile: session cache invalidation failed",
			"subject", externalID, "error", err)
	}
}

// finishSpan records err on the span and marks it failed.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// NoopInvalidator satisfies [SessionInvalidator] for deployments without
// a session cache.
type NoopInvalidator struct{}

// InvalidateUser implements [SessionInvalidator]. It does nothing.
func (NoopInvalidator) InvalidateUser(context.Context, string) error { return nil }
