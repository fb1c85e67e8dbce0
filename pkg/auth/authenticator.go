package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// ---------------------------------------------------------------------------
// Principal
// ---------------------------------------------------------------------------

// Principal is an authenticated caller: the locally stored user record
// together with the verified claims of the token that authenticated the
// request. The user record is authoritative for authorization state
// (role, active flag); the claims are authoritative for token-scoped
// data (expiry, raw provider claims).
// The JSON tags exist because principals are serialized for internal
// propagation; see [SerializePrincipal].
type Principal struct {
	User   models.User     `json:"user"`
	Claims *VerifiedClaims `json:"claims,omitempty"`
}

// ID returns the local user id.
func (p *Principal) ID() string {
	return p.User.ID
}

// ExternalID returns the identity provider's stable user id.
func (p *Principal) ExternalID() string {
	return p.User.ExternalID
}

// Role returns the principal's effective role as stored locally. The
// stored role can be newer than the token's metadata when a webhook
// arrived after the token was minted.
func (p *Principal) Role() models.Role {
	return p.User.Role
}

// HasRole reports whether the principal's role is the given role or
// outranks it in the role hierarchy.
func (p *Principal) HasRole(role models.Role) bool {
	return p.User.Role.AtLeast(role)
}

// Can reports whether the principal's role grants the given resource
// and action, honoring wildcard grants.
func (p *Principal) Can(resource, action string) bool {
	return PermissionsForRole(p.User.Role).Match(resource, action)
}

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// Authenticator turns a raw bearer token into a [Principal]. Transport
// middleware depends on this interface rather than on the concrete
// [TokenAuthenticator] so tests can substitute a fake.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// TokenVerifier is the subset of [Verifier] the authenticator needs.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*VerifiedClaims, error)
}

// UserSyncer reconciles a verified external identity into the local
// user store and returns the stored record. Implemented by the
// reconcile package.
type UserSyncer interface {
	CreateOrUpdate(ctx context.Context, identity models.ExternalIdentity, role models.Role, source models.SyncSource) (models.User, error)
}

// CachedVerification is a previously verified token's outcome: the
// claims, the effective role, and the user record as stored at
// verification time.
type CachedVerification struct {
	Claims *VerifiedClaims `json:"claims"`
	Role   models.Role     `json:"role"`
	User   models.User     `json:"user"`
}

// VerificationCache stores verification outcomes keyed by token
// fingerprint, with a reverse index by subject so every write to a user
// can invalidate that user's cached sessions. Implemented by the cache
// package.
type VerificationCache interface {
	// Get returns the cached verification for a fingerprint. The second
	// return is false on a miss or after expiry.
	Get(ctx context.Context, fingerprint string) (*CachedVerification, bool, error)

	// Put stores a verification outcome for at most ttl. The
	// implementation indexes the entry by the subject inside v so
	// InvalidateUser can find it.
	Put(ctx context.Context, fingerprint string, v *CachedVerification, ttl time.Duration) error

	// InvalidateUser drops every cached entry belonging to the given
	// external subject.
	InvalidateUser(ctx context.Context, subject string) error
}

// ---------------------------------------------------------------------------
// TokenAuthenticator
// ---------------------------------------------------------------------------

// maxSessionCacheTTL is the upper bound on how long a cached
// verification may be served. Authorization changes made upstream are
// therefore visible within this window at the latest, sooner when the
// change arrives by webhook (writes invalidate the subject's entries).
const maxSessionCacheTTL = 15 * time.Minute

// TokenAuthenticatorConfig holds the configuration for
// [TokenAuthenticator].
type TokenAuthenticatorConfig struct {
	// MaxCacheTTL bounds how long a verification outcome may be reused.
	// Each cache entry lives for the smaller of MaxCacheTTL and the
	// time remaining until the token expires. Must be positive and at
	// most 15 minutes. Defaults to 5 minutes.
	MaxCacheTTL time.Duration `json:"max_cache_ttl" env:"AUTH_SESSION_CACHE_TTL" envDefault:"5m"`

	// Logger receives cache degradation and security events. If nil,
	// [slog.Default] is used.
	Logger *slog.Logger `json:"-"`
}

// Validate checks the configuration for logical correctness and returns
// a *[vgerr.Error] with code [vgerr.CodeValidation] if any field is invalid.
func (c *TokenAuthenticatorConfig) Validate() *vgerr.Error {
	if c.MaxCacheTTL <= 0 {
		return vgerr.New(vgerr.CodeValidation, "auth: session cache TTL must be positive")
	}
	if c.MaxCacheTTL > maxSessionCacheTTL {
		return vgerr.Newf(vgerr.CodeValidation, "auth: session cache TTL must not exceed %s", maxSessionCacheTTL)
	}
	return nil
}

// DefaultTokenAuthenticatorConfig returns a TokenAuthenticatorConfig
// with sensible defaults.
func DefaultTokenAuthenticatorConfig() TokenAuthenticatorConfig {
	return TokenAuthenticatorConfig{
		MaxCacheTTL: 5 * time.Minute,
	}
}

// TokenAuthenticator is the full request-authentication path: verify
// the token, resolve a role from its metadata, reconcile the identity
// into the user store, and return the caller as a [Principal].
//
// Outcomes are cached by token fingerprint, so the byte-identical token
// skips verification and the store round trip until its entry expires.
// Every reconciliation write invalidates the affected subject's
// entries, which keeps a cached session from surviving a role change or
// deactivation longer than the delivery of the change itself.
//
// When the user store is unreachable, requests with cached entries keep
// working until those entries expire; authentications that need a store
// write are rejected with an unavailability error. Fresh tokens are
// never accepted without reconciliation.
//
// TokenAuthenticator is safe for concurrent use.
type TokenAuthenticator struct {
	config   TokenAuthenticatorConfig
	verifier TokenVerifier
	resolver *RoleResolver
	syncer   UserSyncer
	cache    VerificationCache
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewTokenAuthenticator creates a TokenAuthenticator from its parts.
// All four collaborators are required.
func NewTokenAuthenticator(cfg TokenAuthenticatorConfig, verifier TokenVerifier, resolver *RoleResolver, syncer UserSyncer, cache VerificationCache) (*TokenAuthenticator, error) {
	if cfg.MaxCacheTTL == 0 {
		cfg.MaxCacheTTL = DefaultTokenAuthenticatorConfig().MaxCacheTTL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "auth: verifier must not be nil")
	}
	if resolver == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "auth: role resolver must not be nil")
	}
	if syncer == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "auth: user syncer must not be nil")
	}
	if cache == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "auth: verification cache must not be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenAuthenticator{
		config:   cfg,
		verifier: verifier,
		resolver: resolver,
		syncer:   syncer,
		cache:    cache,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Authenticate implements [Authenticator]. On failure it returns a
// *[vgerr.Error] whose code identifies the step that failed; transport
// layers map the code to a status without leaking detail to clients.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	ctx, span := startSpan(ctx, a.tracer, "auth.Authenticate")
	defer span.End()

	if token == "" {
		err := vgerr.New(vgerr.CodeAuthenticationMalformed, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}

	fingerprint := TokenFingerprint(token)

	cached, ok, err := a.cache.Get(ctx, fingerprint)
	if err != nil {
		// A broken cache degrades to full verification, never to a
		// rejected request.
		a.logger.WarnContext(ctx, "auth: session cache read failed", "error", err)
	}
	if ok {
		span.SetAttributes(attribute.Bool("auth.cache_hit", true))
		if !cached.User.Active {
			// Deactivations invalidate the subject's entries on write;
			// this guards the window between write and invalidation.
			err := vgerr.New(vgerr.CodeAuthorizationInactiveUser, "auth: user account is inactive")
			finishSpan(span, err)
			return nil, err
		}
		return &Principal{User: cached.User, Claims: cached.Claims}, nil
	}
	span.SetAttributes(attribute.Bool("auth.cache_hit", false))

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	identity := claims.Identity()
	role := a.resolver.Resolve(identity)

	user, err := a.syncer.CreateOrUpdate(ctx, identity, role, models.SyncSourceToken)
	if err != nil {
		a.logger.ErrorContext(ctx, "auth: user synchronization failed",
			"subject", claims.Subject, "error", err)
		classified := classifySyncError(err)
		finishSpan(span, classified)
		return nil, classified
	}

	if !user.Active {
		a.logger.InfoContext(ctx, "auth: rejected token for inactive user",
			"subject", claims.Subject)
		err := vgerr.New(vgerr.CodeAuthorizationInactiveUser, "auth: user account is inactive")
		finishSpan(span, err)
		return nil, err
	}

	entry := &CachedVerification{Claims: claims, Role: user.Role, User: user}
	ttl := a.config.MaxCacheTTL
	if until := time.Until(claims.ExpiresAt); until < ttl {
		ttl = until
	}
	if ttl > 0 {
		if err := a.cache.Put(ctx, fingerprint, entry, ttl); err != nil {
			a.logger.WarnContext(ctx, "auth: session cache write failed", "error", err)
		}
	}

	span.SetAttributes(
		attribute.String("auth.subject", claims.Subject),
		attribute.String("auth.role", string(user.Role)),
	)
	return &Principal{User: user, Claims: claims}, nil
}

// classifySyncError maps a reconciliation failure to the error returned
// to the transport layer. Classified errors pass through; anything else
// is treated as a dependency outage.
func classifySyncError(err error) *vgerr.Error {
	var vgError *vgerr.Error
	if errors.As(err, &vgError) {
		return vgError
	}
	return vgerr.Wrap(err, vgerr.CodeUnavailableDependency, "auth: user synchronization failed")
}
