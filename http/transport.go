// Package http binds the transport-neutral payment engine to HTTP. It
// provides the route-configured resource service, the facilitator client,
// the paying round tripper, and the adapter seam that framework middlewares
// build on (see pkg/gin and pkg/echo).
package http

// HTTPAdapter abstracts the incoming HTTP request so the service can run
// under net/http, gin, echo or any other framework. GetHeader must be
// case-insensitive; absent headers return "".
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// HTTPRequestContext bundles the adapter with the pre-extracted method and
// path the router matched on.
type HTTPRequestContext struct {
	Adapter HTTPAdapter
	Path    string
	Method  string
}

// TransportContext is handed to declaration enrichers so extensions can see
// where and when a declaration is being served.
type TransportContext struct {
	Method string
	Path   string
	URL    string
}
