// Package spotify provides a wrapper around the Spotify Web API for
// live-syncing recently played tracks.
package spotify

import (
	"context"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// NewWithToken creates a client from a bearer credential supplied by the
// auth collaborator.
func NewWithToken(ctx context.Context, token *oauth2.Token) *Client {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	return &Client{api: spotify.New(httpClient)}
}
