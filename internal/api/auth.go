package api

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnauthenticated maps to a 401 response.
var ErrUnauthenticated = errors.New("unauthenticated")

// LoggedInUser describes the authenticated studio user. Username doubles
// as the owner id under which all of the user's data is keyed.
type LoggedInUser struct {
	AuthType        string  `json:"auth_type"`
	Username        string  `json:"username"`
	Name            string  `json:"name"`
	DisplayUsername *string `json:"display_username,omitempty"`
	Userpic         *string `json:"userpic,omitempty"`
}

// Authenticator resolves the user behind an incoming request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*LoggedInUser, error)
}

const noAuthUsername = "no-auth"

// NoAuth admits every request as a single fixed user. Meant for local,
// single-operator deployments behind a trusted network boundary.
type NoAuth struct {
	Username string
}

func (a NoAuth) Authenticate(context.Context, *http.Request) (*LoggedInUser, error) {
	username := a.Username
	if username == "" {
		username = noAuthUsername
	}
	return &LoggedInUser{
		AuthType: "no_auth",
		Username: username,
		Name:     "admin",
	}, nil
}
