/*
Package auth implements namespace authorization.

Requests carry an authenticated principal: an email plus an organizations
map (org id to role). A principal may act in a namespace when the
namespace's owner is either the principal's email or one of its org ids.
The reserved "root" namespace additionally requires membership of the
configured root owner principal.
*/
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RootNamespace is reserved for platform-level resources.
const RootNamespace = "root"

// Principal is the authenticated caller of a request.
type Principal struct {
	Email         string            `json:"email"`
	Organizations map[string]string `json:"organizations,omitempty"` // org id -> role
}

// members returns the set the namespace owner is checked against.
func (p *Principal) members() map[string]bool {
	m := map[string]bool{p.Email: true}
	for org := range p.Organizations {
		m[org] = true
	}
	return m
}

// Authorized reports whether p may act on a namespace owned by owner. For
// the root namespace, rootOwner must also be among the principal's
// memberships.
func (p *Principal) Authorized(namespace, owner, rootOwner string) bool {
	if p == nil || p.Email == "" {
		return false
	}
	m := p.members()
	if !m[owner] {
		return false
	}
	if namespace == RootNamespace {
		return rootOwner != "" && m[rootOwner]
	}
	return true
}

// Authenticator extracts the principal from a request. Production deploys
// sit behind an auth proxy that injects identity headers; tests construct
// principals directly.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
}

// HeaderAuthenticator trusts identity headers set by the fronting proxy:
// X-Auth-Email and X-Auth-Organizations ("org1:role,org2:role").
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	email := r.Header.Get("X-Auth-Email")
	if email == "" {
		return nil, ErrUnauthenticated
	}
	p := &Principal{Email: email, Organizations: map[string]string{}}
	if orgs := r.Header.Get("X-Auth-Organizations"); orgs != "" {
		for _, entry := range strings.Split(orgs, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			org, role, _ := strings.Cut(entry, ":")
			p.Organizations[org] = role
		}
	}
	return p, nil
}

// RemoteAuthenticator verifies a bearer token against an external auth
// server and adopts the identity it returns.
type RemoteAuthenticator struct {
	URL    string
	Client *http.Client
}

func NewRemoteAuthenticator(url string) *RemoteAuthenticator {
	return &RemoteAuthenticator{
		URL:    strings.TrimRight(url, "/"),
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (a *RemoteAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.URL+"/v1/verify", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ErrUnauthenticated
	}

	var p Principal
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode auth server response: %w", err)
	}
	if p.Email == "" {
		return nil, ErrUnauthenticated
	}
	return &p, nil
}

// ErrUnauthenticated signals a request with no usable identity.
var ErrUnauthenticated = &Error{Message: "no authenticated principal"}

// Error is an authentication failure.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

type principalKey struct{}

// WithPrincipal stores p in ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the request principal, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
