package web

import (
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when a request carries no usable
// identity.
var ErrUnauthenticated = errors.New("unauthenticated request")

// Identity resolves the requesting user from an incoming request. The
// pipeline treats the user id and bearer credential as opaque strings
// supplied by the authentication collaborator; it never validates them
// itself.
type Identity interface {
	// UserID returns the opaque id of the requesting user.
	UserID(r *http.Request) (string, error)

	// BearerToken returns the streaming-API credential for the
	// requesting user, when one was supplied.
	BearerToken(r *http.Request) (string, error)
}

// HeaderIdentity reads the user id from a trusted header set by a
// fronting authentication proxy, and the streaming credential from the
// Authorization header.
type HeaderIdentity struct {
	// Header is the user id header name, e.g. "X-User-ID".
	Header string
}

// UserID implements Identity.
func (h HeaderIdentity) UserID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(h.Header))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// BearerToken implements Identity.
func (h HeaderIdentity) BearerToken(r *http.Request) (string, error) {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(value)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrUnauthenticated
	}
	return parts[1], nil
}
