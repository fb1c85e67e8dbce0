package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// HTTPClient abstracts the HTTP client used for fetching the provider's
// published key set. This allows callers to provide custom HTTP clients
// with specific timeouts, transport settings, or middleware (e.g., for
// mTLS, proxy configuration, or request tracing).
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxKeySetResponseBytes limits the size of a fetched key set document
// (1 MB) to prevent resource exhaustion from a misbehaving endpoint.
const maxKeySetResponseBytes = 1 << 20

// KeyRingConfig holds the configuration for [KeyRing].
type KeyRingConfig struct {
	// JWKSURL is the provider's published JWKS endpoint from which the
	// full current key set is fetched. If empty, the endpoint is
	// discovered from IssuerURL's .well-known/openid-configuration
	// document on the first fetch.
	JWKSURL string `json:"jwks_url" env:"AUTH_JWKS_URL"`

	// IssuerURL is the provider's issuer base URL, used for OIDC
	// discovery when JWKSURL is not set directly. At least one of
	// JWKSURL and IssuerURL must be set.
	IssuerURL string `json:"issuer_url" env:"AUTH_ISSUER_URL"`

	// FetchTimeout bounds each outbound key set fetch. A fetch that
	// exceeds this deadline fails the same way an unreachable endpoint
	// does; the previous key set stays in place. Must be positive.
	// Defaults to 10 seconds.
	FetchTimeout time.Duration `json:"fetch_timeout" env:"AUTH_JWKS_FETCH_TIMEOUT" envDefault:"10s"`

	// HTTPClient is the HTTP client used for key set fetches. If nil, a
	// default [http.Client] bounded by FetchTimeout is used.
	HTTPClient HTTPClient `json:"-"`
}

// Validate checks the configuration for logical correctness and returns
// a *[vgerr.Error] with code [vgerr.CodeValidation] if any field is invalid.
func (c *KeyRingConfig) Validate() *vgerr.Error {
	if c.JWKSURL == "" && c.IssuerURL == "" {
		return vgerr.New(vgerr.CodeValidation, "auth: either JWKS URL or issuer URL must be set")
	}
	if c.FetchTimeout <= 0 {
		return vgerr.New(vgerr.CodeValidation, "auth: key set fetch timeout must be positive")
	}
	return nil
}

// DefaultKeyRingConfig returns a KeyRingConfig with sensible defaults.
// JWKSURL has no meaningful default and must be set by the caller.
func DefaultKeyRingConfig() KeyRingConfig {
	return KeyRingConfig{
		FetchTimeout: 10 * time.Second,
	}
}

// KeyRing caches the identity provider's current public signing keys,
// keyed by key id (kid). It is the one component allowed to make network
// calls during token verification, and only on a key miss.
//
// The ring holds one complete key set at a time. A refresh fetches the
// full set from the provider's JWKS endpoint and replaces the cached set
// atomically; it never merges. Concurrent refreshes coalesce into a
// single in-flight fetch, so a burst of misses during a key rotation
// produces exactly one outbound call. A failed fetch leaves the previous
// set intact, which keeps already-known keys usable while the provider
// is unreachable.
//
// KeyRing is an owned, explicitly-constructed object rather than package
// state; inject it into the [Verifier] so tests can substitute a fake
// endpoint.
//
// KeyRing is safe for concurrent use by multiple goroutines.
type KeyRing struct {
	config KeyRingConfig
	client HTTPClient
	tracer trace.Tracer

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time

	discoveryMu sync.Mutex
	jwksURL     string
	discovered  bool
}

// NewKeyRing creates a KeyRing for the given configuration. The ring
// starts empty; the first [KeyRing.GetKey] miss or an explicit
// [KeyRing.Refresh] populates it.
func NewKeyRing(cfg KeyRingConfig) (*KeyRing, error) {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultKeyRingConfig().FetchTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}

	return &KeyRing{
		config:     cfg,
		client:     client,
		tracer:     otel.Tracer(tracerName),
		keys:       make(map[string]any),
		jwksURL:    cfg.JWKSURL,
		discovered: cfg.JWKSURL != "",
	}, nil
}

// GetKey returns the public key for the given key id. On a miss it forces
// one refresh of the full key set and checks again; a key id still absent
// after that refresh fails with [vgerr.CodeAuthenticationUnknownKey].
//
// A refresh failure surfaces as [vgerr.CodeUnavailableKeyFetch] and
// leaves the previous key set intact; callers decide the fallback policy.
func (r *KeyRing) GetKey(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, vgerr.New(vgerr.CodeAuthenticationUnknownKey, "auth: key id must not be empty")
	}

	r.mu.RLock()
	key, ok := r.keys[kid]
	r.mu.RUnlock()
	if ok {
		return key, nil
	}

	// Miss: force one refresh and look the kid up in the fetched set.
	// Looking up in the refresh result rather than re-reading r.keys
	// keeps the answer consistent with the fetch this caller awaited.
	keys, err := r.refresh(ctx)
	if err != nil {
		return nil, err
	}

	key, ok = keys[kid]
	if !ok {
		return nil, vgerr.Newf(vgerr.CodeAuthenticationUnknownKey, "auth: key %q not in current key set", kid)
	}
	return key, nil
}

// Refresh fetches the full current key set from the provider and replaces
// the cached set atomically. Concurrent calls coalesce into one fetch;
// every caller receives that fetch's outcome. On failure the previous set
// is kept and a *[vgerr.Error] with code [vgerr.CodeUnavailableKeyFetch]
// is returned.
func (r *KeyRing) Refresh(ctx context.Context) error {
	_, err := r.refresh(ctx)
	return err
}

// KeyCount returns the number of keys in the cached set.
func (r *KeyRing) KeyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// LastRefresh returns the time of the last successful key set fetch, or
// the zero time if no fetch has succeeded yet.
func (r *KeyRing) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchedAt
}

// refresh coalesces concurrent refreshes through a single flight and
// returns the key set that flight produced. The fetch runs on a context
// detached from the triggering caller and bounded by FetchTimeout, so a
// canceled waiter cannot fail the fetch for the other waiters, and a
// timeout is reported the same way as an unreachable endpoint.
func (r *KeyRing) refresh(ctx context.Context) (map[string]any, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.FetchTimeout)
		defer cancel()

		spanCtx, span := startSpan(fetchCtx, r.tracer, "auth.KeyRing.Refresh")
		defer span.End()

		keys, fetchErr := r.fetchKeySet(spanCtx)
		if fetchErr != nil {
			wrapped := vgerr.Wrap(fetchErr, vgerr.CodeUnavailableKeyFetch, "auth: key set fetch failed")
			finishSpan(span, wrapped)
			return nil, wrapped
		}

		r.mu.Lock()
		r.keys = keys
		r.fetchedAt = time.Now()
		r.mu.Unlock()

		span.SetAttributes(attribute.Int("auth.key_count", len(keys)))
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// jwksResponse represents the JSON structure of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields
// needed for RSA and EC key reconstruction are included.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// resolveJWKSURL returns the configured JWKS endpoint, discovering it
// from the issuer's .well-known/openid-configuration document on first
// use when only IssuerURL is set. The discovered URL is cached for the
// lifetime of the ring.
func (r *KeyRing) resolveJWKSURL(ctx context.Context) (string, error) {
	r.discoveryMu.Lock()
	defer r.discoveryMu.Unlock()

	if r.discovered && r.jwksURL != "" {
		return r.jwksURL, nil
	}

	discovery, err := fetchOIDCDiscovery(ctx, r.config.IssuerURL, r.client)
	if err != nil {
		return "", err
	}

	r.jwksURL = discovery.JWKSURI
	r.discovered = true
	return r.jwksURL, nil
}

// fetchKeySet makes an HTTP GET request to the JWKS URL, parses the
// response, and constructs a map of key id to public key. Supports RSA
// and ECDSA (P-256, P-384, P-521) key types. Keys without a kid and keys
// that fail to parse are skipped rather than failing the whole set.
func (r *KeyRing) fetchKeySet(ctx context.Context) (map[string]any, error) {
	jwksURL, err := r.resolveJWKSURL(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create key set request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: key set request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read key set response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("auth: failed to parse key set JSON: %w", err)
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue
			}
			keys[k.Kid] = pubKey
		}
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// oidcDiscoveryResponse represents the relevant fields from an OIDC
// provider's .well-known/openid-configuration document.
type oidcDiscoveryResponse struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// fetchOIDCDiscovery fetches the OIDC discovery document from the
// provider's .well-known/openid-configuration endpoint and returns the
// parsed response containing the issuer and JWKS URI.
func fetchOIDCDiscovery(ctx context.Context, issuerURL string, client HTTPClient) (*oidcDiscoveryResponse, error) {
	discoveryURL := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create OIDC discovery request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: OIDC discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read OIDC discovery response: %w", err)
	}

	var discovery oidcDiscoveryResponse
	if err := json.Unmarshal(body, &discovery); err != nil {
		return nil, fmt.Errorf("auth: failed to parse OIDC discovery JSON: %w", err)
	}

	if discovery.JWKSURI == "" {
		return nil, fmt.Errorf("auth: OIDC discovery document missing jwks_uri")
	}

	return &discovery, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
