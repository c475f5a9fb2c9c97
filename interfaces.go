package x402

import "context"

// SchemeNetworkServer is implemented by server-side payment mechanisms.
// One implementation covers a scheme on a network family (e.g. "exact" on
// eip155:*); the registry dispatches by (network, scheme).
type SchemeNetworkServer interface {
	Scheme() string

	// ParsePrice resolves a route-declared price into a concrete asset
	// amount for the given network.
	ParsePrice(price Price, network Network) (AssetAmount, error)

	// EnhancePaymentRequirements adds scheme-specific details (signing
	// domain metadata, fee payers, facilitator extension extras) to base
	// requirements before they are advertised in a 402.
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensionKeys []string,
	) (PaymentRequirements, error)

	// ValidatePayload checks the scheme-defined inner payload's shape
	// before the facilitator is contacted.
	ValidatePayload(payload PaymentPayload) error
}

// SchemeNetworkClient is implemented by client-side payment mechanisms.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PaymentPayload, error)
}

// FacilitatorClient talks to a verification/settlement service. The HTTP
// implementation lives in the http package; in-process implementations for
// testing must satisfy the same error contracts.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}

// ============================================================================
// Extension pipeline
// ============================================================================

// ResourceServerExtension is an optional, keyed capability. Implementations
// opt into the enrichment points below by additionally implementing the
// corresponding interface; the core discovers capabilities by assertion and
// never inspects declaration contents.
type ResourceServerExtension interface {
	// Key returns the stable extension identifier used in the extensions
	// maps of PaymentRequired, PaymentPayload and settlement responses.
	Key() string
}

// ExtensionContext carries the request-scoped data an extension may consult
// while enriching a response.
type ExtensionContext struct {
	Resource     *ResourceInfo
	Payload      *PaymentPayload
	Requirements *PaymentRequirements
	Settlement   *SettleResponse
}

// DeclarationEnricher refreshes a route's static extension declaration with
// transport-specific context (current time, request URI) before it is sent.
// Used by extensions whose declared fields are time-relative.
type DeclarationEnricher interface {
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}
}

// PaymentRequiredEnricher contributes data to a 402 response's
// extensions[key]. A nil result means "no contribution".
type PaymentRequiredEnricher interface {
	EnrichPaymentRequiredResponse(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error)
}

// SettlementEnricher contributes data after a successful settlement.
// A nil result means "no contribution".
type SettlementEnricher interface {
	EnrichSettlementResponse(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error)
}

// ============================================================================
// Request hooks
// ============================================================================

// RequestContext is the mutable per-request state consulted by the
// orchestrator before invoking the facilitator. A hook grants bypass by
// calling GrantBypass; the hook chain stops at the first grant.
type RequestContext struct {
	Resource string
	Method   string

	// Header is a case-insensitive header accessor supplied by the
	// transport binding.
	Header func(name string) string

	bypass      bool
	bypassPayer string
}

// GrantBypass marks the request as paid-for out of band; normal payment
// flow is skipped for it.
func (rc *RequestContext) GrantBypass(payer string) {
	rc.bypass = true
	rc.bypassPayer = payer
}

// Bypassed reports whether a hook granted bypass, and for which payer.
func (rc *RequestContext) Bypassed() (string, bool) {
	return rc.bypassPayer, rc.bypass
}

// RequestHook runs before payment processing when a request carries
// protocol-adjacent side-channel proof. Hooks run in registration order;
// the chain stops as soon as one grants bypass. A hook error falls through
// to the normal payment flow.
type RequestHook interface {
	HandleRequest(ctx context.Context, rc *RequestContext) error
}

// OnPaymentRequiredHook runs on the client before payment construction.
// Returning non-nil headers retries the request with those headers and
// skips payment; the first hook to return headers wins.
type OnPaymentRequiredHook func(ctx context.Context, required PaymentRequired) (map[string]string, error)
