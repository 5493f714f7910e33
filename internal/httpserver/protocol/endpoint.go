// Package protocol describes how route groups plug into the HTTP server.
package protocol

import "net/http"

// EndpointRoute is one route of an endpoint group.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
	// Admin routes are served only to callers presenting the admin token.
	Admin bool
}

// Endpoint is a named group of routes registered together.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
