// Package noop accepts every request as the anonymous agent. Meant for
// local development where the MCP endpoint is not exposed.
package noop

import (
	"context"
	"net/http"

	"github.com/bossm747/agentboyong/pkg/auth"
)

// Authenticator votes Yes for every request. With AgentID set, all callers
// share that agent instead of auth.AnonymousAgent.
type Authenticator struct {
	AgentID string
}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	id := auth.Anonymous()
	if a.AgentID != "" {
		id.Metadata[auth.AgentIDKey] = a.AgentID
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: id}
}
