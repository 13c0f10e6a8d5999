// Package deeplink accepts auth callbacks on behalf of the session layer:
// either a custom URI-scheme URL handed over by the OS, or a loopback HTTP
// listener for hosts without scheme registration.
package deeplink

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrNotCallback means the URL is not an auth callback for this
	// application; it is dropped before reaching the session layer.
	ErrNotCallback = errors.New("URL is not an auth callback")

	// ErrMissingToken means the callback shape matched but carried no token.
	ErrMissingToken = errors.New("callback carries no token")
)

// Callback is the payload extracted from a delivered callback URL.
type Callback struct {
	Token string
	State string
}

// Gateway filters and parses custom URI-scheme callbacks of the form
// <scheme>://auth/callback?token=...&state=...
type Gateway struct {
	schemes map[string]struct{}
}

// NewGateway creates a gateway accepting the given URI schemes.
func NewGateway(schemes []string) *Gateway {
	g := &Gateway{schemes: make(map[string]struct{}, len(schemes))}
	for _, s := range schemes {
		g.schemes[s] = struct{}{}
	}
	return g
}

// ParseCallback extracts token and state from a raw callback URL. URLs with
// an unregistered scheme or an unexpected host/path are rejected with
// ErrNotCallback and must be ignored by the caller.
func (g *Gateway) ParseCallback(raw string) (*Callback, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable URL", ErrNotCallback)
	}

	if _, ok := g.schemes[u.Scheme]; !ok {
		return nil, fmt.Errorf("%w: unregistered scheme %q", ErrNotCallback, u.Scheme)
	}
	if u.Host != "auth" || u.Path != "/callback" {
		return nil, fmt.Errorf("%w: unexpected path", ErrNotCallback)
	}

	q := u.Query()
	token := q.Get("token")
	if token == "" {
		return nil, ErrMissingToken
	}

	return &Callback{Token: token, State: q.Get("state")}, nil
}
