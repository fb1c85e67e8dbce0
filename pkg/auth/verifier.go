package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// maxTokenSize is the maximum accepted token length in bytes. Tokens
// larger than this are rejected as malformed before any parsing.
const maxTokenSize = 8192

// KeyProvider supplies public signing keys by key id. [*KeyRing]
// implements it; tests substitute a static provider.
type KeyProvider interface {
	// GetKey returns the public key for the given key id, or an error
	// with code [vgerr.CodeAuthenticationUnknownKey] when the id is not
	// in the provider's current key set.
	GetKey(ctx context.Context, kid string) (any, error)
}

// ---------------------------------------------------------------------------
// VerifierConfig
// ---------------------------------------------------------------------------

// VerifierConfig holds the configuration for [Verifier].
type VerifierConfig struct {
	// Issuer is the expected iss claim. Tokens from any other issuer are
	// rejected. Required.
	Issuer string `json:"issuer" env:"AUTH_ISSUER" required:"true"`

	// Audience is the expected aud claim. When set, tokens whose aud
	// does not contain it are rejected with the same error class as a
	// wrong issuer. Optional; some providers omit aud on session tokens.
	Audience string `json:"audience" env:"AUTH_AUDIENCE"`

	// ClockSkew is the leeway applied to temporal claim checks (exp,
	// nbf) to absorb clock drift between this service and the identity
	// provider. Defaults to 30 seconds.
	ClockSkew time.Duration `json:"clock_skew" env:"AUTH_CLOCK_SKEW" envDefault:"30s"`
}

// Validate checks the configuration for logical correctness and returns
// a *[vgerr.Error] with code [vgerr.CodeValidation] if any field is invalid.
func (c *VerifierConfig) Validate() *vgerr.Error {
	if c.Issuer == "" {
		return vgerr.New(vgerr.CodeValidation, "auth: issuer must not be empty")
	}
	if c.ClockSkew < 0 {
		return vgerr.New(vgerr.CodeValidation, "auth: clock skew must not be negative")
	}
	return nil
}

// DefaultVerifierConfig returns a VerifierConfig with sensible defaults.
// Issuer has no meaningful default and must be set by the caller.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		ClockSkew: 30 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// VerifiedClaims
// ---------------------------------------------------------------------------

// VerifiedClaims is the claim set of a token that passed every
// verification step. All fields are extracted from the token; nothing
// here reflects stored user state. The JSON tags exist because cached
// verification entries are serialized into the session cache's Redis
// backend.
type VerifiedClaims struct {
	// Subject is the provider's stable user id (the sub claim).
	Subject string `json:"subject"`

	// Email is the user's primary email address, if the token carries
	// an email claim.
	Email string `json:"email,omitempty"`

	// FirstName and LastName are profile name claims, if present.
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	// IssuedAt and ExpiresAt are the token's iat and exp claims.
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// UpdatedAt is the provider-side profile modification timestamp
	// (the updated_at claim). Zero when the token does not carry one;
	// [models.ExternalIdentity.SyncTimestamp] falls back to IssuedAt.
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// PublicMetadata is the provider's public metadata object for the
	// user. Role assignment reads from here. Treated as data, never as
	// an authorization decision.
	PublicMetadata map[string]any `json:"public_metadata,omitempty"`

	// Raw is the complete claim map as decoded from the token, for
	// callers that need provider-specific claims not modeled above.
	Raw map[string]any `json:"raw,omitempty"`
}

// Identity converts the claims to a [models.ExternalIdentity] snapshot
// for reconciliation with the local user store.
func (c *VerifiedClaims) Identity() models.ExternalIdentity {
	return models.ExternalIdentity{
		Subject:        c.Subject,
		Email:          c.Email,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		PublicMetadata: c.PublicMetadata,
		IssuedAt:       c.IssuedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// Verifier checks externally issued session tokens. Verification runs a
// fixed sequence so every failure maps to exactly one error class:
//
//  1. Structural parse; garbage fails with [vgerr.CodeAuthenticationMalformed].
//  2. Signing key lookup by kid; an unknown id fails with
//     [vgerr.CodeAuthenticationUnknownKey] after the key ring has
//     refreshed once (see [KeyRing.GetKey]).
//  3. Signature verification; fails with [vgerr.CodeAuthenticationSignature].
//     Only RS256 and ES256 are accepted; alg "none" fails here too.
//  4. Temporal checks (exp, nbf) with ClockSkew leeway; an expired token
//     fails with [vgerr.CodeAuthenticationExpired]. Issuer and audience
//     mismatches fail with [vgerr.CodeAuthenticationIssuer].
//  5. Claim extraction into [VerifiedClaims].
//
// Verifier holds no state beyond its key provider and is safe for
// concurrent use. Result caching is the caller's concern; see
// [TokenAuthenticator].
type Verifier struct {
	config VerifierConfig
	keys   KeyProvider
	tracer trace.Tracer
}

// NewVerifier creates a Verifier that resolves signing keys through the
// given provider.
func NewVerifier(cfg VerifierConfig, keys KeyProvider) (*Verifier, error) {
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultVerifierConfig().ClockSkew
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "auth: key provider must not be nil")
	}

	return &Verifier{
		config: cfg,
		keys:   keys,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Verify checks the given token string and returns its claims. On
// failure it returns a *[vgerr.Error] whose code identifies the first
// verification step that failed.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*VerifiedClaims, error) {
	_, span := startSpan(ctx, v.tracer, "auth.Verify")
	defer span.End()

	if tokenStr == "" {
		err := vgerr.New(vgerr.CodeAuthenticationMalformed, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := vgerr.New(vgerr.CodeAuthenticationMalformed, "auth: token exceeds maximum size")
		finishSpan(span, err)
		return nil, err
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithLeeway(v.config.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if v.config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, vgerr.New(vgerr.CodeAuthenticationUnknownKey, "auth: token header missing kid")
		}
		return v.keys.GetKey(ctx, kid)
	}, parserOpts...)
	if err != nil {
		classified := classifyTokenError(err)
		finishSpan(span, classified)
		return nil, classified
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := vgerr.New(vgerr.CodeAuthenticationMalformed, "auth: unable to extract token claims")
		finishSpan(span, err)
		return nil, err
	}

	claims, cErr := extractClaims(mc)
	if cErr != nil {
		finishSpan(span, cErr)
		return nil, cErr
	}

	span.SetAttributes(attribute.String("auth.subject", claims.Subject))
	return claims, nil
}

// extractClaims builds a VerifiedClaims from a validated claim map. The
// subject claim is required; everything else is best effort.
func extractClaims(mc jwt.MapClaims) (*VerifiedClaims, *vgerr.Error) {
	sub, _ := mc.GetSubject()
	if sub == "" {
		return nil, vgerr.New(vgerr.CodeAuthenticationMalformed, "auth: token missing subject claim")
	}

	claims := &VerifiedClaims{
		Subject: sub,
		Raw:     mapClaimsToMap(mc),
	}

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time.UTC()
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time.UTC()
	}

	claims.Email, _ = mc["email"].(string)
	claims.FirstName, _ = mc["first_name"].(string)
	claims.LastName, _ = mc["last_name"].(string)
	claims.UpdatedAt = claimTime(mc["updated_at"])

	if meta, ok := mc["public_metadata"].(map[string]any); ok {
		claims.PublicMetadata = meta
	}

	return claims, nil
}

// claimTime converts a claim value to a time.Time. Numeric values are
// epoch seconds (values past 1e12 are taken as epoch milliseconds, which
// some providers emit for profile timestamps); strings are RFC 3339.
// Anything else yields the zero time.
func claimTime(v any) time.Time {
	var sec float64
	switch t := v.(type) {
	case float64:
		sec = t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}
		}
		sec = f
	case int64:
		sec = float64(t)
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}
		}
		return parsed.UTC()
	default:
		return time.Time{}
	}

	if sec <= 0 {
		return time.Time{}
	}
	if sec > 1e12 {
		return time.UnixMilli(int64(sec)).UTC()
	}
	whole := int64(sec)
	nsec := int64((sec - float64(whole)) * float64(time.Second))
	return time.Unix(whole, nsec).UTC()
}

// mapClaimsToMap converts jwt.MapClaims to a plain map[string]any so the
// claims can travel without carrying the jwt.MapClaims type.
func mapClaimsToMap(mc jwt.MapClaims) map[string]any {
	result := make(map[string]any, len(mc))
	for k, v := range mc {
		result[k] = v
	}
	return result
}

// classifyTokenError converts a JWT library error to a *vgerr.Error with
// the code for the verification step that failed. Errors that are
// already *vgerr.Error (key ring failures surfaced through the keyfunc)
// pass through unchanged.
func classifyTokenError(err error) *vgerr.Error {
	if err == nil {
		return nil
	}

	var vgError *vgerr.Error
	if errors.As(err, &vgError) {
		return vgError
	}

	if errors.Is(err, jwt.ErrTokenMalformed) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationMalformed, "auth: token is malformed")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrSignatureInvalid) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationSignature, "auth: token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationExpired, "auth: token has expired")
	}
	if errors.Is(err, jwt.ErrTokenNotValidYet) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationExpired, "auth: token is not yet valid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationIssuer, "auth: token issuer is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationIssuer, "auth: token audience is invalid")
	}
	if errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationMalformed, "auth: token missing required claim")
	}
	if errors.Is(err, jwt.ErrTokenInvalidClaims) {
		return vgerr.Wrap(err, vgerr.CodeAuthenticationMalformed, "auth: token claims are invalid")
	}

	return vgerr.Wrap(err, vgerr.CodeAuthentication, "auth: token validation failed")
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// TokenFingerprint returns the hex-encoded SHA-256 digest of a raw token
// string. Verification results are cached by fingerprint so raw tokens
// never appear in memory dumps, logs, or cache keys.
func TokenFingerprint(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// tracerName is the OpenTelemetry tracer name for this package.
const tracerName = "github.com/VetGrid/vetgrid-identity-core/pkg/auth"

// startSpan creates a new OpenTelemetry span with the given name. Returns
// the updated context and span.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error. This is a helper for consistent error recording
// across verification paths.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
