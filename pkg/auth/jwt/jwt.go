// Package jwt provides a bearer-token authenticator for signed JWTs.
//
// Tokens are verified with one of three key sources: an HMAC shared
// secret, a static RSA public key in PEM form, or a JWKS endpoint whose
// keys are cached and refreshed on expiry or unknown kid. Claims map
// onto auth.Identity: subject, agent, service tier and scopes.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bossm747/agentboyong/pkg/auth"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Config holds the JWT authenticator configuration. Exactly one of
// Secret, PublicKeyPEM or JWKSURL must be set.
type Config struct {
	// Issuer is the expected iss claim. Not checked when empty.
	Issuer string

	// Audience is the expected aud claim. Not checked when empty.
	Audience string

	// Secret verifies HS256/HS384/HS512 tokens.
	Secret string

	// PublicKeyPEM verifies RS256/RS384/RS512 tokens with a fixed key.
	PublicKeyPEM string

	// JWKSURL verifies RSA tokens against keys selected by kid.
	JWKSURL string

	// UserClaim names the subject claim. Default: "sub".
	UserClaim string

	// AgentClaim names the claim copied to the agent_id metadata. Default: "agent_id".
	AgentClaim string

	// TierClaim names the service tier claim. Default: "tier".
	TierClaim string

	// ScopesClaim names the scopes claim, either a space-separated
	// string or an array. Default: "scope".
	ScopesClaim string

	// CacheTTL bounds how long JWKS keys are reused. Default: 1 hour.
	CacheTTL time.Duration

	// HTTPClient fetches the JWKS document. Default: http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.AgentClaim == "" {
		c.AgentClaim = auth.AgentIDKey
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config  Config
	keys    keySource
	methods []string
}

// keySource resolves the verification key for a parsed token.
type keySource func(ctx context.Context, token *jwtlib.Token) (any, error)

// New creates a JWT authenticator. It fails when the key material is
// missing, ambiguous or unparseable.
func New(cfg Config) (*Authenticator, error) {
	cfg.applyDefaults()

	set := 0
	for _, v := range []string{cfg.Secret, cfg.PublicKeyPEM, cfg.JWKSURL} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("jwt: exactly one of secret, public key or JWKS URL is required")
	}

	a := &Authenticator{config: cfg}
	switch {
	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		a.methods = []string{"HS256", "HS384", "HS512"}
		a.keys = func(context.Context, *jwtlib.Token) (any, error) { return secret, nil }
	case cfg.PublicKeyPEM != "":
		key, err := jwtlib.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("jwt: parsing public key: %w", err)
		}
		a.methods = []string{"RS256", "RS384", "RS512"}
		a.keys = func(context.Context, *jwtlib.Token) (any, error) { return key, nil }
	default:
		cache := &jwksCache{
			url:    cfg.JWKSURL,
			ttl:    cfg.CacheTTL,
			client: cfg.HTTPClient,
		}
		a.methods = []string{"RS256", "RS384", "RS512"}
		a.keys = func(ctx context.Context, token *jwtlib.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token missing kid header")
			}
			return cache.key(ctx, kid)
		}
	}
	return a, nil
}

// Authenticate votes Abstain without a bearer token, No for an invalid
// token and Yes with the extracted identity otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (any, error) {
		return a.keys(ctx, t)
	}, a.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.config.UserClaim)}
	}

	id := &auth.Identity{
		Subject:     subject,
		ServiceTier: claimString(claims, a.config.TierClaim),
		Scopes:      claimScopes(claims, a.config.ScopesClaim),
		Metadata:    map[string]string{},
	}
	if agent := claimString(claims, a.config.AgentClaim); agent != "" {
		id.Metadata[auth.AgentIDKey] = agent
	}

	return auth.AuthResult{Decision: auth.Yes, Identity: id}
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(a.methods)}
	if a.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.config.Audience))
	}
	return opts
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func claimScopes(claims jwtlib.MapClaims, key string) []string {
	var scopes []string
	switch v := claims[key].(type) {
	case string:
		scopes = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return scopes
}

// jwksCache holds the RSA keys of a JWKS document, keyed by kid.
type jwksCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// key returns the key for kid, refetching the document when the cache
// is stale or the kid is unknown.
func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if k, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return k, nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.keys = keys
	c.fetchedAt = time.Now()

	k, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return k, nil
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k.N, k.E)
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	slog.Debug("JWKS refreshed", "keys", len(keys), "url", c.url)
	return keys, nil
}

func rsaKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eb)
	if !exp.IsInt64() {
		return nil, errors.New("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}
