package x402

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ResourceServer manages payment requirements and verification for
// protected resources. It is transport-neutral; the http package binds it
// to a request/response shape.
type ResourceServer struct {
	mu                    sync.RWMutex
	schemes               map[Network]map[string]SchemeNetworkServer
	facilitatorClients    []FacilitatorClient
	registeredExtensions  map[string]ResourceServerExtension
	requestHooks          []RequestHook
	supportedCache        *SupportedCache
	facilitatorClientsMap map[int]map[Network]map[string]FacilitatorClient
	logger                *zap.Logger
}

// SupportedCache caches facilitator capability advertisements. Keys keep
// their insertion order so lookups honor facilitator precedence.
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse // key is facilitator identifier
	keys   []string
	expiry map[string]time.Time
	ttl    time.Duration
}

// ResourceServerOption configures the server.
type ResourceServerOption func(*ResourceServer)

// WithFacilitatorClient adds a facilitator client. Earlier clients take
// precedence when several support the same payment kind.
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *ResourceServer) {
		s.facilitatorClients = append(s.facilitatorClients, client)
	}
}

// WithSchemeServer registers a scheme server implementation.
func WithSchemeServer(network Network, schemeServer SchemeNetworkServer) ResourceServerOption {
	return func(s *ResourceServer) {
		s.registerScheme(network, schemeServer)
	}
}

// WithCacheTTL sets the cache TTL for supported kinds.
func WithCacheTTL(ttl time.Duration) ResourceServerOption {
	return func(s *ResourceServer) {
		s.supportedCache.ttl = ttl
	}
}

// WithLogger sets the structured logger. Defaults to a nop logger.
func WithLogger(logger *zap.Logger) ResourceServerOption {
	return func(s *ResourceServer) {
		s.logger = logger
	}
}

// WithExtension registers a resource server extension at creation time.
func WithExtension(extension ResourceServerExtension) ResourceServerOption {
	return func(s *ResourceServer) {
		s.registeredExtensions[extension.Key()] = extension
	}
}

// WithRequestHook registers a request hook at creation time.
func WithRequestHook(hook RequestHook) ResourceServerOption {
	return func(s *ResourceServer) {
		s.requestHooks = append(s.requestHooks, hook)
	}
}

// NewResourceServer creates a resource server.
func NewResourceServer(opts ...ResourceServerOption) *ResourceServer {
	s := &ResourceServer{
		schemes:              make(map[Network]map[string]SchemeNetworkServer),
		facilitatorClients:   []FacilitatorClient{},
		registeredExtensions: make(map[string]ResourceServerExtension),
		supportedCache: &SupportedCache{
			data:   make(map[string]SupportedResponse),
			expiry: make(map[string]time.Time),
			ttl:    5 * time.Minute,
		},
		facilitatorClientsMap: make(map[int]map[Network]map[string]FacilitatorClient),
		logger:                zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize fetches supported payment kinds from all facilitators.
// Should be called on startup to populate the cache and build the
// facilitator routing map.
func (s *ResourceServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facilitatorClientsMap = make(map[int]map[Network]map[string]FacilitatorClient)

	var lastErr error
	successCount := 0

	// Earlier facilitators get precedence.
	for i, client := range s.facilitatorClients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			lastErr = fmt.Errorf("facilitator %d: %w", i, err)
			s.logger.Warn("facilitator capability fetch failed",
				zap.Int("facilitator", i), zap.Error(err))
			continue
		}

		key := fmt.Sprintf("facilitator_%d", i)
		s.supportedCache.Set(key, supported)
		successCount++

		for _, kind := range supported.Kinds {
			if s.facilitatorClientsMap[kind.X402Version] == nil {
				s.facilitatorClientsMap[kind.X402Version] = make(map[Network]map[string]FacilitatorClient)
			}
			versionMap := s.facilitatorClientsMap[kind.X402Version]

			if versionMap[kind.Network] == nil {
				versionMap[kind.Network] = make(map[string]FacilitatorClient)
			}
			networkMap := versionMap[kind.Network]

			if _, exists := networkMap[kind.Scheme]; !exists {
				networkMap[kind.Scheme] = client
			}
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to initialize any facilitators: %w", lastErr)
	}

	return nil
}

// RegisterScheme registers a scheme server for a network.
func (s *ResourceServer) RegisterScheme(network Network, schemeServer SchemeNetworkServer) *ResourceServer {
	return s.registerScheme(network, schemeServer)
}

func (s *ResourceServer) registerScheme(network Network, schemeServer SchemeNetworkServer) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemes[network] == nil {
		s.schemes[network] = make(map[string]SchemeNetworkServer)
	}
	s.schemes[network][schemeServer.Scheme()] = schemeServer

	return s
}

// RegisterExtension registers a resource server extension under its key.
func (s *ResourceServer) RegisterExtension(extension ResourceServerExtension) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registeredExtensions[extension.Key()] = extension
	return s
}

// RegisterRequestHook appends a request hook to the bypass chain.
func (s *ResourceServer) RegisterRequestHook(hook RequestHook) *ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requestHooks = append(s.requestHooks, hook)
	return s
}

// RunRequestHooks runs the bypass chain in registration order, stopping at
// the first hook that grants bypass. Hook errors fall through to the
// normal payment flow.
func (s *ResourceServer) RunRequestHooks(ctx context.Context, rc *RequestContext) {
	s.mu.RLock()
	hooks := s.requestHooks
	s.mu.RUnlock()

	for _, hook := range hooks {
		if err := s.runRequestHook(ctx, hook, rc); err != nil {
			s.logger.Debug("request hook declined", zap.Error(err))
			continue
		}
		if _, ok := rc.Bypassed(); ok {
			return
		}
	}
}

func (s *ResourceServer) runRequestHook(ctx context.Context, hook RequestHook, rc *RequestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request hook panic: %v", r)
		}
	}()
	return hook.HandleRequest(ctx, rc)
}

// EnrichDeclarations refreshes route-declared extension data with transport
// context. Declarations without a registered extension pass through.
func (s *ResourceServer) EnrichDeclarations(
	declaredExtensions map[string]interface{},
	transportContext interface{},
) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enriched := make(map[string]interface{})

	for key, declaration := range declaredExtensions {
		extension, ok := s.registeredExtensions[key]
		if !ok {
			enriched[key] = declaration
			continue
		}
		if enricher, ok := extension.(DeclarationEnricher); ok {
			enriched[key] = s.safeEnrichDeclaration(enricher, key, declaration, transportContext)
		} else {
			enriched[key] = declaration
		}
	}

	return enriched
}

func (s *ResourceServer) safeEnrichDeclaration(
	enricher DeclarationEnricher,
	key string,
	declaration, transportContext interface{},
) (result interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("extension declaration enrichment panicked",
				zap.String("extension", key), zap.Any("panic", r))
			result = declaration
		}
	}()
	return enricher.EnrichDeclaration(declaration, transportContext)
}

// BuildPaymentRequiredExtensions invokes each declared extension's 402
// enricher and collects the contributions under the extension keys. Nil
// contributions and failing extensions are omitted.
func (s *ResourceServer) BuildPaymentRequiredExtensions(
	ctx context.Context,
	declared map[string]interface{},
	ec ExtensionContext,
) map[string]interface{} {
	return s.runEnrichers(declared, func(ext ResourceServerExtension, declaration interface{}) (interface{}, error) {
		enricher, ok := ext.(PaymentRequiredEnricher)
		if !ok {
			return declaration, nil
		}
		return enricher.EnrichPaymentRequiredResponse(ctx, declaration, ec)
	})
}

// BuildSettlementExtensions invokes each declared extension's settlement
// enricher after a successful settlement.
func (s *ResourceServer) BuildSettlementExtensions(
	ctx context.Context,
	declared map[string]interface{},
	ec ExtensionContext,
) map[string]interface{} {
	return s.runEnrichers(declared, func(ext ResourceServerExtension, declaration interface{}) (interface{}, error) {
		enricher, ok := ext.(SettlementEnricher)
		if !ok {
			return nil, nil
		}
		return enricher.EnrichSettlementResponse(ctx, declaration, ec)
	})
}

func (s *ResourceServer) runEnrichers(
	declared map[string]interface{},
	invoke func(ext ResourceServerExtension, declaration interface{}) (interface{}, error),
) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(declared) == 0 {
		return nil
	}

	out := make(map[string]interface{})
	for key, declaration := range declared {
		extension, ok := s.registeredExtensions[key]
		if !ok {
			continue
		}

		data, err := s.safeInvoke(key, extension, declaration, invoke)
		if err != nil {
			s.logger.Warn("extension enrichment failed",
				zap.String("extension", key), zap.Error(err))
			continue
		}
		if data != nil {
			out[key] = data
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *ResourceServer) safeInvoke(
	key string,
	ext ResourceServerExtension,
	declaration interface{},
	invoke func(ext ResourceServerExtension, declaration interface{}) (interface{}, error),
) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("extension %s panic: %v", key, r)
		}
	}()
	return invoke(ext, declaration)
}

// BuildPaymentRequirements resolves a resource's declared price into
// concrete payment requirements. Fails closed when no scheme is registered
// for the (network, scheme) pair or no facilitator supports it.
func (s *ResourceServer) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) ([]PaymentRequirements, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schemeServer := findByNetworkAndScheme(s.schemes, config.Scheme, config.Network)
	if schemeServer == nil {
		return nil, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no server registered for scheme %s on network %s", config.Scheme, config.Network),
		}
	}

	supportedKind := s.findSupportedKind(ProtocolVersion, config.Network, config.Scheme)
	if supportedKind == nil {
		return nil, &PaymentError{
			Code:    ErrCodeUnsupportedNetwork,
			Message: fmt.Sprintf("facilitator does not support %s on %s", config.Scheme, config.Network),
			Details: map[string]interface{}{
				"hint": "call Initialize() to fetch supported kinds from facilitators",
			},
		}
	}

	assetAmount, err := schemeServer.ParsePrice(config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	baseRequirements := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             assetAmount.Extra,
	}

	if baseRequirements.MaxTimeoutSeconds == 0 {
		baseRequirements.MaxTimeoutSeconds = 300
	}

	extensions := s.getFacilitatorExtensions(ProtocolVersion, config.Network, config.Scheme)

	enhanced, err := schemeServer.EnhancePaymentRequirements(ctx, baseRequirements, *supportedKind, extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}

	return []PaymentRequirements{enhanced}, nil
}

// CreatePaymentRequiredResponse assembles a 402 response body.
func (s *ResourceServer) CreatePaymentRequiredResponse(
	requirements []PaymentRequirements,
	info ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) PaymentRequired {
	if errorMsg == "" {
		errorMsg = "Payment required"
	}

	return PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    &info,
		Accepts:     requirements,
		Extensions:  extensions,
	}
}

// ValidatePayload runs the registered scheme's local payload validation.
func (s *ResourceServer) ValidatePayload(payload PaymentPayload) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schemeServer := findByNetworkAndScheme(s.schemes, payload.SchemeName(), payload.NetworkName())
	if schemeServer == nil {
		return &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no server registered for scheme %s on network %s", payload.SchemeName(), payload.NetworkName()),
		}
	}
	return schemeServer.ValidatePayload(payload)
}

// FindMatchingRequirements returns the first advertised requirement the
// payload corresponds to exactly, or nil.
func (s *ResourceServer) FindMatchingRequirements(available []PaymentRequirements, payload PaymentPayload) *PaymentRequirements {
	for i := range available {
		if payload.MatchesRequirements(available[i]) {
			return &available[i]
		}
	}
	return nil
}

// VerifyPayment verifies a payment against requirements via the facilitator
// that advertised support for its kind, falling back to every configured
// facilitator in order.
func (s *ResourceServer) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	facilitator := s.findFacilitatorForPayment(payload.X402Version, requirements.Network, requirements.Scheme)
	if facilitator != nil {
		return facilitator.Verify(ctx, payload, requirements)
	}

	s.mu.RLock()
	clients := s.facilitatorClients
	s.mu.RUnlock()

	var lastErr error
	for _, client := range clients {
		resp, err := client.Verify(ctx, payload, requirements)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return VerifyResponse{IsValid: false, InvalidReason: "no facilitator available for verification"}, lastErr
	}
	return VerifyResponse{IsValid: false, InvalidReason: "no facilitator available for verification"},
		&PaymentError{Code: ErrCodeUnsupportedNetwork, Message: "no facilitator supports this payment type"}
}

// SettlePayment settles a verified payment through the matching facilitator.
func (s *ResourceServer) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	facilitator := s.findFacilitatorForPayment(payload.X402Version, requirements.Network, requirements.Scheme)
	if facilitator != nil {
		return facilitator.Settle(ctx, payload, requirements)
	}

	s.mu.RLock()
	clients := s.facilitatorClients
	s.mu.RUnlock()

	var lastErr error
	for _, client := range clients {
		resp, err := client.Settle(ctx, payload, requirements)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return SettleResponse{Success: false, ErrorReason: "no facilitator available for settlement"}, lastErr
	}
	return SettleResponse{Success: false, ErrorReason: "no facilitator available for settlement"},
		&PaymentError{Code: ErrCodeSettlementFailed, Message: "no facilitator supports this payment type"}
}

// Logger exposes the configured logger to transport bindings.
func (s *ResourceServer) Logger() *zap.Logger {
	return s.logger
}

// Helper methods

func (s *ResourceServer) findSupportedKind(version int, network Network, scheme string) *SupportedKind {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for _, key := range s.supportedCache.keys {
		supported := s.supportedCache.data[key]
		if expiry, exists := s.supportedCache.expiry[key]; exists {
			if time.Now().After(expiry) {
				continue
			}
		}

		for _, kind := range supported.Kinds {
			if kind.X402Version == version &&
				kind.Scheme == scheme &&
				kind.Network.Match(network) {
				return &SupportedKind{
					X402Version: kind.X402Version,
					Scheme:      kind.Scheme,
					Network:     kind.Network,
					Extra:       kind.Extra,
				}
			}
		}
	}

	return nil
}

func (s *ResourceServer) getFacilitatorExtensions(version int, network Network, scheme string) []string {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for _, key := range s.supportedCache.keys {
		supported := s.supportedCache.data[key]
		for _, kind := range supported.Kinds {
			if kind.X402Version == version &&
				kind.Scheme == scheme &&
				kind.Network.Match(network) {
				return supported.Extensions
			}
		}
	}

	return []string{}
}

// findFacilitatorForPayment uses the routing map built during Initialize.
func (s *ResourceServer) findFacilitatorForPayment(version int, network Network, scheme string) FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versionMap, exists := s.facilitatorClientsMap[version]
	if !exists {
		return nil
	}

	return findByNetworkAndScheme(versionMap, scheme, network)
}

// Set adds an item to the cache.
func (c *SupportedCache) Set(key string, value SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.data[key] = value
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Clear clears the cache.
func (c *SupportedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]SupportedResponse)
	c.keys = nil
	c.expiry = make(map[string]time.Time)
}
