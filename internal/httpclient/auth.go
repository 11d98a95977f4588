package httpclient

import "net/http"

// AuthProvider adds authentication to requests
type AuthProvider interface {
	Apply(req *http.Request) error
}

// BearerTokenAuth adds Bearer token authentication
type BearerTokenAuth struct {
	Token string
}

func (a *BearerTokenAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}
