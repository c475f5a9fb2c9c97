package x402

import (
	"context"
	"fmt"
	"sync"
)

// Client manages payment mechanisms and creates payment payloads. Used by
// applications that make payments (have wallets/signers).
type Client struct {
	mu sync.RWMutex

	// Nested map: version -> network -> scheme -> client implementation.
	schemes map[int]map[Network]map[string]SchemeNetworkClient

	requirementsSelector   PaymentRequirementsSelector
	onPaymentRequiredHooks []OnPaymentRequiredHook
}

// PaymentRequirementsSelector chooses which payment option to use when a
// 402 advertises several.
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client.
type ClientOption func(*Client)

// WithPaymentSelector sets a custom payment requirements selector.
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time.
func WithScheme(version int, network Network, client SchemeNetworkClient) ClientOption {
	return func(c *Client) {
		c.registerScheme(version, network, client)
	}
}

// WithOnPaymentRequired registers a hook that runs before payment
// construction when a 402 is received. The first hook returning headers
// wins and payment is skipped.
func WithOnPaymentRequired(hook OnPaymentRequiredHook) ClientOption {
	return func(c *Client) {
		c.onPaymentRequiredHooks = append(c.onPaymentRequiredHooks, hook)
	}
}

// NewClient creates a payment client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		schemes:              make(map[int]map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func defaultPaymentSelector(version int, requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for protocol v2.
func (c *Client) RegisterScheme(network Network, client SchemeNetworkClient) *Client {
	return c.registerScheme(ProtocolVersion, network, client)
}

// RegisterSchemeV1 registers a payment mechanism for protocol v1.
func (c *Client) RegisterSchemeV1(network Network, client SchemeNetworkClient) *Client {
	return c.registerScheme(ProtocolVersionV1, network, client)
}

func (c *Client) registerScheme(version int, network Network, client SchemeNetworkClient) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[version] == nil {
		c.schemes[version] = make(map[Network]map[string]SchemeNetworkClient)
	}
	if c.schemes[version][network] == nil {
		c.schemes[version][network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[version][network][client.Scheme()] = client

	return c
}

// RunPaymentRequiredHooks runs the client hook chain for a 402 response.
// The first hook returning non-nil headers wins; later hooks do not run.
// Hook errors fall through to the next hook.
func (c *Client) RunPaymentRequiredHooks(ctx context.Context, required PaymentRequired) map[string]string {
	c.mu.RLock()
	hooks := c.onPaymentRequiredHooks
	c.mu.RUnlock()

	for _, hook := range hooks {
		headers, err := hook(ctx, required)
		if err != nil {
			continue
		}
		if headers != nil {
			return headers
		}
	}
	return nil
}

// SelectPaymentRequirements filters the advertised requirements to those
// this client can fulfill and picks one via the configured selector.
func (c *Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versionSchemes, exists := c.schemes[version]
	if !exists {
		return PaymentRequirements{}, fmt.Errorf("no schemes registered for x402 version %d", version)
	}

	var supported []PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(versionSchemes, req.Network)
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"version":      version,
				"requirements": requirements,
			},
		}
	}

	return c.requirementsSelector(version, supported), nil
}

// CreatePaymentPayload creates a signed payment payload for the selected
// requirements. For v2 the accepted requirements, resource and extensions
// are attached; v1 payloads carry scheme and network at the top level.
func (c *Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements PaymentRequirements,
	resource *ResourceInfo,
	extensions map[string]interface{},
) (PaymentPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	versionSchemes, exists := c.schemes[version]
	if !exists {
		return PaymentPayload{}, fmt.Errorf("no schemes registered for x402 version %d", version)
	}

	client := findByNetworkAndScheme(versionSchemes, requirements.Scheme, requirements.Network)
	if client == nil {
		return PaymentPayload{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s for version %d", requirements.Scheme, requirements.Network, version),
		}
	}

	payload, err := client.CreatePaymentPayload(ctx, version, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	if version == ProtocolVersionV1 {
		payload.X402Version = ProtocolVersionV1
		payload.Scheme = requirements.Scheme
		payload.Network = requirements.Network
	} else {
		payload.X402Version = version
		payload.Accepted = requirements
		payload.Resource = resource
		payload.Extensions = extensions
	}

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	return payload, nil
}

// CreatePaymentForRequired creates a payment for a PaymentRequired
// response, carrying its resource and extensions through.
func (c *Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	if len(required.Accepts) == 0 {
		return PaymentPayload{}, fmt.Errorf("payment required response carries no accepted requirements")
	}

	selected, err := c.SelectPaymentRequirements(required.X402Version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	return c.CreatePaymentPayload(ctx, required.X402Version, selected, required.Resource, required.Extensions)
}

// CanPay checks if the client can satisfy any of the given requirements.
func (c *Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}
