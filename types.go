package x402

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format
// (namespace:reference, e.g. "eip155:8453" for Base mainnet).
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern, with wildcard support on
// either side: "eip155:1" matches "eip155:*" and vice versa.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// Price is a route-declared price. It may be a human money value (string
// like "$0.001", float64, int) or a pre-resolved AssetAmount.
type Price interface{}

// AssetAmount is an amount of a specific on-chain asset, denominated in
// the asset's smallest unit.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements defines one acceptable payment option for a resource.
// Immutable once emitted in a 402 response.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`                      // v2 field
	MaxAmountRequired string                 `json:"maxAmountRequired,omitempty"` // v1 compatibility field
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ResourceInfo describes the resource being accessed.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentPayload is the client-constructed proof of payment.
//
// V2 payloads carry the accepted requirements, resource and extensions;
// v1 payloads carry scheme and network at the top level instead. The inner
// Payload is scheme-defined; scheme packages provide tagged constructors
// for their variants (see mechanisms/evm).
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted,omitzero"`
	Scheme      string                 `json:"scheme,omitempty"`  // v1 only
	Network     Network                `json:"network,omitempty"` // v1 only
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// SchemeName returns the payload's declared scheme regardless of version.
func (p PaymentPayload) SchemeName() string {
	if p.X402Version == ProtocolVersionV1 {
		return p.Scheme
	}
	return p.Accepted.Scheme
}

// NetworkName returns the payload's declared network regardless of version.
func (p PaymentPayload) NetworkName() Network {
	if p.X402Version == ProtocolVersionV1 {
		return p.Network
	}
	return p.Accepted.Network
}

// PaymentRequired is the 402 response body sent to clients.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyResponse is the facilitator's verification verdict.
type VerifyResponse struct {
	IsValid        bool                   `json:"isValid"`
	InvalidReason  string                 `json:"invalidReason,omitempty"`
	InvalidMessage string                 `json:"invalidMessage,omitempty"`
	Payer          string                 `json:"payer,omitempty"`
	Extensions     map[string]interface{} `json:"extensions,omitempty"`
}

// SettleResponse is the facilitator's settlement verdict. Transaction is
// set once settlement succeeded on the underlying network.
type SettleResponse struct {
	Success     bool                   `json:"success"`
	ErrorReason string                 `json:"errorReason,omitempty"`
	Payer       string                 `json:"payer,omitempty"`
	Transaction string                 `json:"transaction"`
	Network     Network                `json:"network"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// SupportedKind is a single payment configuration a facilitator supports.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator's capability advertisement.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers,omitempty"`
}

// ResourceConfig defines the payment configuration for one protected
// resource. Author-declared, read-only at request time.
type ResourceConfig struct {
	Scheme            string                 `json:"scheme"`
	PayTo             string                 `json:"payTo"`
	Price             Price                  `json:"price"`
	Network           Network                `json:"network"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`
}

// DetectVersion extracts the protocol version from raw payload bytes.
func DetectVersion(data []byte) (int, error) {
	var probe struct {
		X402Version *int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse payload: %w", err)
	}
	if probe.X402Version == nil {
		return 0, fmt.Errorf("missing x402Version field")
	}
	v := *probe.X402Version
	if v != ProtocolVersionV1 && v != ProtocolVersion {
		return 0, fmt.Errorf("unsupported x402 version: %d", v)
	}
	return v, nil
}

// MatchesRequirements reports whether the payload's declared payment option
// corresponds exactly to the given requirements. Scheme, network, asset and
// amount must all match; for v1 payloads only scheme and network are carried
// on the wire, so only those are compared.
func (p PaymentPayload) MatchesRequirements(req PaymentRequirements) bool {
	if p.X402Version == ProtocolVersionV1 {
		return p.Scheme == req.Scheme && p.Network.Match(req.Network)
	}
	return p.Accepted.Scheme == req.Scheme &&
		p.Accepted.Network.Match(req.Network) &&
		strings.EqualFold(p.Accepted.Asset, req.Asset) &&
		p.Accepted.Amount == req.Amount
}

// ValidatePaymentPayload performs basic shape validation on a payment payload.
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version < ProtocolVersionV1 || p.X402Version > ProtocolVersion {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if p.SchemeName() == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if p.NetworkName() == "" {
		return fmt.Errorf("payment network is required")
	}
	if p.Payload == nil {
		return fmt.Errorf("payment payload is required")
	}
	return nil
}

// ValidatePaymentRequirements performs basic shape validation on requirements.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	return nil
}
