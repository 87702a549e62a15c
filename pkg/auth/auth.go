package auth

import (
	"context"
	"errors"
	"net/http"
)

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // populated only when Decision == Yes
	Err      error     // populated only when Decision == No
}

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// ServiceTier selects the request rate limit.
	ServiceTier string

	// Scopes lists the authorization scopes granted.
	Scopes []string

	// Metadata carries auth-provider-specific data. The key "agent_id"
	// selects the sandbox agent the caller drives.
	Metadata map[string]string
}

// AgentIDKey is the metadata key naming the caller's agent.
const AgentIDKey = "agent_id"

// AnonymousAgent is the agent shared by callers without credentials.
const AnonymousAgent = "anonymous"

// Anonymous returns a fresh identity for AnonymousAgent on the default tier.
func Anonymous() *Identity {
	return &Identity{
		Subject:     AnonymousAgent,
		ServiceTier: "default",
		Metadata:    map[string]string{AgentIDKey: AnonymousAgent},
	}
}

// ForAgent returns an identity for subject acting as agentID. An empty
// agentID leaves the agent to default to the subject.
func ForAgent(subject, agentID, tier string, scopes []string) Identity {
	id := Identity{Subject: subject, ServiceTier: tier}
	if len(scopes) > 0 {
		id.Scopes = append([]string(nil), scopes...)
	}
	if agentID != "" {
		id.Metadata = map[string]string{AgentIDKey: agentID}
	}
	return id
}

type identityCtxKey struct{}

// SetIdentity returns ctx carrying id for the handlers behind Middleware.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the identity set by Middleware, or nil on
// routes that bypass authentication.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*Identity)
	return id
}

// AgentID returns the agent the identity acts for. It falls back to the
// subject so every caller gets a sandbox of its own.
func (id *Identity) AgentID() string {
	if id == nil {
		return ""
	}
	if a := id.Metadata[AgentIDKey]; a != "" {
		return a
	}
	return id.Subject
}

// HasScope reports whether the identity was granted scope. An identity
// without any scopes is treated as unrestricted.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	if len(id.Scopes) == 0 {
		return true
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// AuthChain evaluates authenticators in order using three-outcome voting.
type AuthChain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision is used when all authenticators abstain.
	// Use Yes for development (NoOp behavior) or No for production.
	DefaultDecision AuthDecision
}

// Authenticate runs the chain. Stops on the first Yes or No.
// If all abstain, returns the default decision.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	// All abstained: use default.
	if c.DefaultDecision == Yes {
		return AuthResult{Decision: Yes, Identity: Anonymous()}
	}

	return AuthResult{
		Decision: No,
		Err:      ErrUnauthenticated,
	}
}
