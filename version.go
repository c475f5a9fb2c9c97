// Package x402 implements the core of the x402 HTTP payment protocol:
// scheme registry and money resolution, the resource-server orchestrator,
// the payment client, and the extension/hook pipeline. Transport bindings
// live in the http, pkg/gin and pkg/echo packages; scheme implementations
// live under mechanisms/.
package x402

const (
	// ProtocolVersion is the current x402 protocol version.
	ProtocolVersion = 2

	// ProtocolVersionV1 is the legacy protocol version, kept for
	// backward compatibility with v1 clients and facilitators.
	ProtocolVersionV1 = 1
)
