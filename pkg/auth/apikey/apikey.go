// Package apikey authenticates agents by static API keys. Each key is bound
// to the agent whose sandbox it drives. Keys are kept only as SHA-256
// hashes and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bossm747/agentboyong/pkg/auth"
)

// HeaderName is accepted besides "Authorization: Bearer <key>".
const HeaderName = "X-API-Key"

// Entry binds one key to a caller.
type Entry struct {
	Key         string
	Subject     string
	AgentID     string // defaults to Subject
	ServiceTier string
	Scopes      []string
}

type hashedKey struct {
	sum      [sha256.Size]byte
	identity auth.Identity
}

// Authenticator checks presented keys against the configured entries.
type Authenticator struct {
	keys []hashedKey
}

// New hashes entries. Every entry needs a key and a subject, and keys must
// be unique.
func New(entries []Entry) (*Authenticator, error) {
	a := &Authenticator{keys: make([]hashedKey, 0, len(entries))}
	seen := make(map[[sha256.Size]byte]bool, len(entries))
	var errs []error
	for i, e := range entries {
		if e.Key == "" || e.Subject == "" {
			errs = append(errs, fmt.Errorf("api key %d: key and subject are required", i))
			continue
		}
		sum := sha256.Sum256([]byte(e.Key))
		if seen[sum] {
			errs = append(errs, fmt.Errorf("api key %d (%s): duplicate key", i, e.Subject))
			continue
		}
		seen[sum] = true
		a.keys = append(a.keys, hashedKey{
			sum:      sum,
			identity: auth.ForAgent(e.Subject, e.AgentID, e.ServiceTier, e.Scopes),
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate abstains when no key is presented, votes No for an empty or
// unknown key and Yes with a copy of the bound identity otherwise.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	key, ok := presentedKey(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(key))
	match := -1
	for i := range a.keys {
		if subtle.ConstantTimeCompare(sum[:], a.keys[i].sum[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	id := a.keys[match].identity
	id.Scopes = append([]string(nil), id.Scopes...)
	if id.Metadata != nil {
		id.Metadata = map[string]string{auth.AgentIDKey: id.Metadata[auth.AgentIDKey]}
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}

func presentedKey(r *http.Request) (string, bool) {
	if v, ok := r.Header[http.CanonicalHeaderKey(HeaderName)]; ok && len(v) > 0 {
		return strings.TrimSpace(v[0]), true
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return "", false
	}
	return strings.TrimSpace(token), true
}
