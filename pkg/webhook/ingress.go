// Package webhook ingests provider change events and applies them to the
// local identity state.
//
// Deliveries arrive over an at-least-once transport, possibly out of
// order, and are authenticated by an HMAC-SHA256 signature over the raw
// request body. The ingress verifies the signature before reading
// anything from the payload, absorbs redeliveries through a bounded
// seen-set of delivery ids, and dispatches recognized event types to the
// reconciler and session cache. Unrecognized event types are acknowledged
// and ignored, so a new provider event type never breaks ingestion of
// known ones.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/VetGrid/vetgrid-identity-core/pkg/auth"
	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// tracerName is the OpenTelemetry tracer name for this package.
const tracerName = "github.com/VetGrid/vetgrid-identity-core/pkg/webhook"

// HeaderSignature is the HTTP header carrying the hex HMAC-SHA256
// signature of the raw request body.
const HeaderSignature = "X-Webhook-Signature"

// maxBodyBytes bounds the request body [Ingress.Handler] will read.
// Provider event payloads are far smaller; anything larger is not a
// legitimate delivery.
const maxBodyBytes = 1 << 20

// Disposition is the ingress's verdict on one delivery.
type Disposition string

const (
	// DispositionProcessed means the event's side effects were applied.
	DispositionProcessed Disposition = "processed"

	// DispositionDuplicate means the delivery id was already seen and
	// the event was acknowledged without dispatch.
	DispositionDuplicate Disposition = "duplicate"

	// DispositionIgnored means the event type is not recognized and the
	// delivery was acknowledged without dispatch.
	DispositionIgnored Disposition = "ignored"

	// DispositionRejected means the delivery failed signature or
	// envelope validation and nothing was dispatched.
	DispositionRejected Disposition = "rejected"

	// DispositionFailed means dispatch started but a dependency failed.
	// The delivery id is released so the provider's retry can succeed.
	DispositionFailed Disposition = "failed"
)

// String returns the string representation of the disposition.
func (d Disposition) String() string {
	return string(d)
}

// Syncer is the slice of the reconciler the ingress dispatches user
// events to.
type Syncer interface {
	// CreateOrUpdate applies a user.updated event.
	CreateOrUpdate(ctx context.Context, identity models.ExternalIdentity, role models.Role, source models.SyncSource) (models.User, error)

	// CreateOrReactivate applies a user.created event, reactivating a
	// soft-deleted row when the provider reuses a subject id.
	CreateOrReactivate(ctx context.Context, identity models.ExternalIdentity, role models.Role) (models.User, error)

	// Delete applies a user.deleted event as a soft delete.
	Delete(ctx context.Context, externalID string) error
}

// SessionInvalidator drops cached verifications for a subject when the
// provider reports their session ended. Satisfied by the session cache
// implementations in pkg/cache.
type SessionInvalidator interface {
	InvalidateUser(ctx context.Context, externalID string) error
}

// Config holds the configuration for [Ingress].
type Config struct {
	// Secret is the shared key the provider signs deliveries with.
	Secret auth.Secret `json:"-" env:"WEBHOOK_SECRET" required:"true"`
}

// Validate checks the configuration for logical correctness and returns
// a *[vgerr.Error] with code [vgerr.CodeValidation] if any field is invalid.
func (c *Config) Validate() *vgerr.Error {
	if c.Secret.Value() == "" {
		return vgerr.New(vgerr.CodeValidation, "webhook: signing secret must not be empty")
	}
	return nil
}

// Ingress authenticates, deduplicates, and dispatches provider change
// events. One Ingress instance serves all deliveries; it is safe for
// concurrent use.
type Ingress struct {
	config   Config
	syncer   Syncer
	sessions SessionInvalidator
	resolver *auth.RoleResolver
	log      DeliveryLog
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewIngress creates an Ingress from its parts. All collaborators are
// required except the logger, which defaults to [slog.Default].
func NewIngress(cfg Config, syncer Syncer, sessions SessionInvalidator, resolver *auth.RoleResolver, log DeliveryLog, logger *slog.Logger) (*Ingress, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if syncer == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "webhook: syncer must not be nil")
	}
	if sessions == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "webhook: session invalidator must not be nil")
	}
	if resolver == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "webhook: role resolver must not be nil")
	}
	if log == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "webhook: delivery log must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		config:   cfg,
		syncer:   syncer,
		sessions: sessions,
		resolver: resolver,
		log:      log,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Sign computes the hex HMAC-SHA256 signature of body under secret. The
// provider computes the same value over the raw bytes it sends; tests
// and local tooling use Sign to forge valid deliveries.
func Sign(secret auth.Secret, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret.Value()))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Handle processes one delivery: verify the signature over the raw body,
// parse the event envelope, absorb duplicates, and dispatch by event
// type.
//
// The signature is checked in constant time before any byte of the body
// is interpreted. A missing or wrong signature rejects the delivery with
// [vgerr.CodeAuthenticationWebhookSignature] and no side effects.
//
// A dispatch failure releases the delivery id from the seen-set before
// returning, so the provider's retry of the same delivery is processed
// rather than absorbed as a duplicate.
func (i *Ingress) Handle(ctx context.Context, body []byte, signature string) (Disposition, error) {
	ctx, span := i.tracer.Start(ctx, "webhook.Handle")
	defer span.End()

	if !hmac.Equal([]byte(Sign(i.config.Secret, body)), []byte(signature)) {
		err := vgerr.New(vgerr.CodeAuthenticationWebhookSignature, "webhook: invalid delivery signature")
		// Security event: a forged, replayed-with-edits, or misconfigured
		// delivery. The received signature is never logged.
		i.logger.WarnContext(ctx, "webhook: rejected delivery with invalid signature",
			"body_bytes", len(body))
		finishSpan(span, err)
		return DispositionRejected, err
	}

	var event models.ChangeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		wrapped := vgerr.Wrap(err, vgerr.CodeValidation, "webhook: malformed event payload")
		finishSpan(span, wrapped)
		return DispositionRejected, wrapped
	}
	if err := event.Validate(); err != nil {
		wrapped := vgerr.Wrap(err, vgerr.CodeValidation, "webhook: invalid event envelope")
		finishSpan(span, wrapped)
		return DispositionRejected, wrapped
	}

	span.SetAttributes(
		attribute.String("webhook.delivery_id", event.DeliveryID),
		attribute.String("webhook.event_type", event.Type.String()),
	)

	first, err := i.log.MarkSeen(ctx, event.DeliveryID)
	if err != nil {
		// Dedupe is an optimization, not a correctness requirement: the
		// reconciler's timestamp ordering absorbs re-dispatched effects.
		// Processing beats dropping events when the log is down.
		i.logger.WarnContext(ctx, "webhook: delivery log unavailable, processing without dedupe",
			"delivery_id", event.DeliveryID, "error", err)
		first = true
	}
	if !first {
		i.logger.DebugContext(ctx, "webhook: duplicate delivery absorbed",
			"delivery_id", event.DeliveryID, "type", event.Type)
		span.SetAttributes(attribute.String("webhook.disposition", DispositionDuplicate.String()))
		return DispositionDuplicate, nil
	}

	disposition, err := i.dispatch(ctx, &event)
	if err != nil {
		if forgetErr := i.log.Forget(ctx, event.DeliveryID); forgetErr != nil {
			i.logger.WarnContext(ctx, "webhook: failed to release delivery id after dispatch failure",
				"delivery_id", event.DeliveryID, "error", forgetErr)
		}
		finishSpan(span, err)
		return disposition, err
	}

	span.SetAttributes(attribute.String("webhook.disposition", disposition.String()))
	return disposition, nil
}

// dispatch routes a deduplicated event to its side effects.
func (i *Ingress) dispatch(ctx context.Context, event *models.ChangeEvent) (Disposition, error) {
	switch event.Type {
	case models.EventUserCreated:
		identity, err := i.decodeIdentity(event)
		if err != nil {
			return DispositionRejected, err
		}
		u, err := i.syncer.CreateOrReactivate(ctx, identity, i.resolver.Resolve(identity))
		if err != nil {
			return DispositionFailed, err
		}
		i.logger.InfoContext(ctx, "webhook: user created event applied",
			"delivery_id", event.DeliveryID, "subject", event.Subject, "user_id", u.ID)
		return DispositionProcessed, nil

	case models.EventUserUpdated:
		identity, err := i.decodeIdentity(event)
		if err != nil {
			return DispositionRejected, err
		}
		u, err := i.syncer.CreateOrUpdate(ctx, identity, i.resolver.Resolve(identity), models.SyncSourceWebhook)
		if err != nil {
			return DispositionFailed, err
		}
		i.logger.InfoContext(ctx, "webhook: user updated event applied",
			"delivery_id", event.DeliveryID, "subject", event.Subject, "user_id", u.ID)
		return DispositionProcessed, nil

	case models.EventUserDeleted:
		if err := i.syncer.Delete(ctx, event.Subject); err != nil {
			return DispositionFailed, err
		}
		i.logger.InfoContext(ctx, "webhook: user deleted event applied",
			"delivery_id", event.DeliveryID, "subject", event.Subject)
		return DispositionProcessed, nil

	case models.EventSessionEnded:
		if err := i.sessions.InvalidateUser(ctx, event.Subject); err != nil {
			// Unlike the reconciler's best-effort invalidation, a session
			// revocation with no accompanying store write has only the
			// cache drop as its effect, so the failure must surface and
			// the delivery be retried.
			return DispositionFailed, err
		}
		i.logger.InfoContext(ctx, "webhook: session ended, cached verifications dropped",
			"delivery_id", event.DeliveryID, "subject", event.Subject)
		return DispositionProcessed, nil

	case models.EventSessionCreated:
		// Audit only; session state is established by token verification.
		i.logger.InfoContext(ctx, "webhook: session created",
			"delivery_id", event.DeliveryID, "subject", event.Subject)
		return DispositionProcessed, nil

	default:
		i.logger.DebugContext(ctx, "webhook: unrecognized event type acknowledged",
			"delivery_id", event.DeliveryID, "type", event.Type)
		return DispositionIgnored, nil
	}
}

// decodeIdentity extracts the provider identity from a user event's
// payload. The envelope subject is authoritative: a payload naming a
// different subject is rejected rather than trusted.
func (i *Ingress) decodeIdentity(event *models.ChangeEvent) (models.ExternalIdentity, error) {
	if len(event.Data) == 0 {
		return models.ExternalIdentity{}, vgerr.New(vgerr.CodeValidation, "webhook: user event has no payload")
	}

	var identity models.ExternalIdentity
	if err := json.Unmarshal(event.Data, &identity); err != nil {
		return models.ExternalIdentity{}, vgerr.Wrap(err, vgerr.CodeValidation, "webhook: malformed user payload")
	}
	if identity.Subject == "" {
		identity.Subject = event.Subject
	}
	if identity.Subject != event.Subject {
		return models.ExternalIdentity{}, vgerr.Newf(vgerr.CodeValidation,
			"webhook: payload subject %q does not match envelope subject %q", identity.Subject, event.Subject)
	}

	// Events whose payload omits updated_at are ordered by the envelope
	// timestamp instead, so they can still win against older state.
	if identity.UpdatedAt.IsZero() && !event.OccurredAt.IsZero() {
		identity.UpdatedAt = event.OccurredAt
	}
	return identity, nil
}

// Handler returns an [http.HandlerFunc] exposing the ingress on an HTTP
// route. Acknowledged deliveries (processed, duplicate, ignored) answer
// 200 with the disposition as the body; signature failures answer 401,
// envelope failures 400, and dispatch failures the status of the
// underlying error so the provider retries them.
func (i *Ingress) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			status := http.StatusBadRequest
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				status = http.StatusRequestEntityTooLarge
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		disposition, err := i.Handle(r.Context(), body, r.Header.Get(HeaderSignature))
		if err != nil {
			status := http.StatusInternalServerError
			var vgError *vgerr.Error
			if errors.As(err, &vgError) {
				status = vgError.HTTPStatus()
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, disposition.String())
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
