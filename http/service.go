package http

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/wire"
	"go.uber.org/zap"
)

// RouteConfig declares the payment configuration for one route pattern.
type RouteConfig struct {
	Scheme            string
	PayTo             string
	Price             x402.Price
	Network           x402.Network
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	Extensions        map[string]interface{}
}

// RoutesConfig maps route patterns to their payment configuration.
//
// Patterns are "VERB /path", a bare "/path" (any verb), or "*" (everything).
// Path segments support "*" wildcards and "[param]" placeholders:
//
//	"GET /api"        exact path, GET only
//	"POST /api/*"     path prefix, POST only
//	"GET /api/[id]"   single dynamic segment
//	"/public"         any verb
//	"*"               every route
type RoutesConfig map[string]RouteConfig

type compiledRoute struct {
	pattern string
	verb    string
	regex   *regexp.Regexp
	config  RouteConfig
}

// ResourceService is the HTTP-facing payment orchestrator. It is
// deliberately framework-neutral: the transport hands in an HTTPAdapter and
// receives response instructions back, so the same service backs net/http,
// gin and echo middleware.
type ResourceService struct {
	*x402.ResourceServer

	routes          RoutesConfig
	compiledRoutes  []compiledRoute
	paywallProvider PaywallProvider
}

// ResultType classifies the outcome of ProcessHTTPRequest.
type ResultType string

const (
	// ResultNoPaymentRequired means the route is not payment-protected.
	ResultNoPaymentRequired ResultType = "no_payment_required"

	// ResultBypass means a request hook accepted out-of-band proof and the
	// handler should run without payment.
	ResultBypass ResultType = "bypass"

	// ResultPaymentVerified means a payment was presented and verified; the
	// handler should run and the caller must settle afterwards.
	ResultPaymentVerified ResultType = "payment_verified"

	// ResultPaymentError means the transport must send Response and never
	// invoke the handler.
	ResultPaymentError ResultType = "payment_error"
)

// Response carries the instructions for a response the transport must write
// itself (402s and protocol errors).
type Response struct {
	Status  int
	Headers map[string]string
	Body    interface{}
	IsHTML  bool
}

// ProcessResult is the outcome of running the payment state machine over a
// single request.
type ProcessResult struct {
	Type                ResultType
	Response            *Response
	PaymentPayload      *x402.PaymentPayload
	PaymentRequirements *x402.PaymentRequirements
	DeclaredExtensions  map[string]interface{}
	Payer               string
}

// NewResourceService creates an HTTP resource service for the given routes.
func NewResourceService(routes RoutesConfig, opts ...x402.ResourceServerOption) *ResourceService {
	service := &ResourceService{
		ResourceServer:  x402.NewResourceServer(opts...),
		routes:          routes,
		paywallProvider: DefaultPaywallProvider(),
	}

	service.compiledRoutes = compileRoutes(routes)
	return service
}

// RegisterPaywallProvider replaces the built-in browser paywall templates.
func (s *ResourceService) RegisterPaywallProvider(provider PaywallProvider) *ResourceService {
	s.paywallProvider = provider
	return s
}

func compileRoutes(routes RoutesConfig) []compiledRoute {
	compiled := make([]compiledRoute, 0, len(routes))
	for pattern, config := range routes {
		verb, regex := parseRoutePattern(pattern)
		compiled = append(compiled, compiledRoute{
			pattern: pattern,
			verb:    verb,
			regex:   regex,
			config:  config,
		})
	}

	// Longer patterns first so specific routes win over catch-alls.
	sort.Slice(compiled, func(i, j int) bool {
		if len(compiled[i].pattern) != len(compiled[j].pattern) {
			return len(compiled[i].pattern) > len(compiled[j].pattern)
		}
		return compiled[i].pattern < compiled[j].pattern
	})

	return compiled
}

var routeParamPattern = regexp.MustCompile(`\\\[[A-Za-z0-9_]+\\\]`)

// parseRoutePattern splits a route pattern into its verb and a compiled path
// matcher. A pattern without a verb matches every verb.
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	verb := "*"
	path := pattern

	if before, after, found := strings.Cut(pattern, " "); found {
		verb = strings.ToUpper(before)
		path = after
	}

	if path == "*" {
		return verb, regexp.MustCompile(`^.*$`)
	}

	quoted := regexp.QuoteMeta(strings.TrimSuffix(path, "/"))
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = routeParamPattern.ReplaceAllString(quoted, "[^/]+")

	return verb, regexp.MustCompile("^" + quoted + "$")
}

// normalizePath canonicalizes a request path for matching: query and
// fragment dropped, percent escapes decoded, duplicate and trailing slashes
// removed. Undecodable escapes are left in place; matching happens against
// what the client actually sent.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}

	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}

	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	if path == "" {
		return "/"
	}
	return path
}

// validatePath rejects request paths carrying malformed percent escapes.
// Such paths can normalize differently at each layer, so they are refused
// before any route or handler sees them.
func validatePath(path string) error {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if _, err := url.PathUnescape(path); err != nil {
		return fmt.Errorf("malformed path escape: %w", err)
	}
	return nil
}

func (s *ResourceService) findRoute(method, path string) *RouteConfig {
	normalized := normalizePath(path)
	method = strings.ToUpper(method)

	for i := range s.compiledRoutes {
		route := &s.compiledRoutes[i]
		if route.verb != "*" && route.verb != method {
			continue
		}
		if route.regex.MatchString(normalized) {
			return &route.config
		}
	}
	return nil
}

// ProcessHTTPRequest runs the payment state machine for one request and
// returns instructions for the transport. The handler must only run for
// ResultNoPaymentRequired, ResultBypass or ResultPaymentVerified; any
// payment defect yields ResultPaymentError with the response to write, and
// the protected handler is never invoked for it.
func (s *ResourceService) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywallConfig *PaywallConfig) ProcessResult {
	if err := validatePath(reqCtx.Path); err != nil {
		return ProcessResult{
			Type: ResultPaymentError,
			Response: &Response{
				Status:  http.StatusPaymentRequired,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body: map[string]interface{}{
					"x402Version": x402.ProtocolVersion,
					"error":       "Invalid request path",
				},
			},
		}
	}

	route := s.findRoute(reqCtx.Method, reqCtx.Path)
	if route == nil {
		return ProcessResult{Type: ResultNoPaymentRequired}
	}

	adapter := reqCtx.Adapter
	declared := s.EnrichDeclarations(route.Extensions, TransportContext{
		Method: reqCtx.Method,
		Path:   normalizePath(reqCtx.Path),
		URL:    adapter.GetURL(),
	})

	// Out-of-band proof (session reuse and the like) short-circuits the
	// whole payment flow.
	rc := &x402.RequestContext{
		Resource: normalizePath(reqCtx.Path),
		Method:   strings.ToUpper(reqCtx.Method),
		Header:   adapter.GetHeader,
	}
	s.RunRequestHooks(ctx, rc)
	if payer, ok := rc.Bypassed(); ok {
		return ProcessResult{Type: ResultBypass, Payer: payer, DeclaredExtensions: declared}
	}

	resourceInfo := x402.ResourceInfo{
		URL:         adapter.GetURL(),
		Description: route.Description,
		MimeType:    route.MimeType,
	}

	requirements, err := s.BuildPaymentRequirements(ctx, x402.ResourceConfig{
		Scheme:            route.Scheme,
		PayTo:             route.PayTo,
		Price:             route.Price,
		Network:           route.Network,
		MaxTimeoutSeconds: route.MaxTimeoutSeconds,
		Extensions:        declared,
	})
	if err != nil {
		s.Logger().Error("failed to build payment requirements",
			zap.String("path", reqCtx.Path), zap.Error(err))
		return ProcessResult{
			Type: ResultPaymentError,
			Response: &Response{
				Status:  http.StatusInternalServerError,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]interface{}{"error": "Payment configuration error"},
			},
		}
	}

	payload, payloadErr := wire.DecodePaymentHeader(adapter)
	if payloadErr != nil {
		return s.paymentRequired(ctx, adapter, requirements, resourceInfo, declared,
			"Invalid payment header", paywallConfig)
	}
	if payload == nil {
		return s.paymentRequired(ctx, adapter, requirements, resourceInfo, declared,
			"", paywallConfig)
	}

	if err := x402.ValidatePaymentPayload(*payload); err != nil {
		return s.paymentRequired(ctx, adapter, requirements, resourceInfo, declared,
			err.Error(), paywallConfig)
	}
	if err := s.ValidatePayload(*payload); err != nil {
		return s.paymentRequired(ctx, adapter, requirements, resourceInfo, declared,
			err.Error(), paywallConfig)
	}

	matched := s.FindMatchingRequirements(requirements, *payload)
	if matched == nil {
		return s.paymentRequired(ctx, adapter, requirements, resourceInfo, declared,
			"Payment does not match any accepted requirement", paywallConfig)
	}

	verifyResponse, err := s.VerifyPayment(ctx, *payload, *matched)
	if err != nil {
		reason := "Payment verification failed"
		if verifyErr, ok := err.(*x402.VerifyError); ok && verifyErr.Reason != "" {
			reason = verifyErr.Reason
		}
		return s.paymentRequired(ctx, adapter, requirements, resourceInfo, declared,
			reason, paywallConfig)
	}
	if !verifyResponse.IsValid {
		reason := verifyResponse.InvalidReason
		if reason == "" {
			reason = "Payment verification failed"
		}
		return s.paymentRequired(ctx, adapter, requirements, resourceInfo, declared,
			reason, paywallConfig)
	}

	return ProcessResult{
		Type:                ResultPaymentVerified,
		PaymentPayload:      payload,
		PaymentRequirements: matched,
		DeclaredExtensions:  declared,
		Payer:               verifyResponse.Payer,
	}
}

func (s *ResourceService) paymentRequired(
	ctx context.Context,
	adapter HTTPAdapter,
	requirements []x402.PaymentRequirements,
	resourceInfo x402.ResourceInfo,
	declared map[string]interface{},
	errorMsg string,
	paywallConfig *PaywallConfig,
) ProcessResult {
	extensions := s.BuildPaymentRequiredExtensions(ctx, declared, x402.ExtensionContext{
		Resource: &resourceInfo,
	})

	required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, errorMsg, extensions)

	encoded, err := wire.EncodePaymentRequiredHeader(required)
	if err != nil {
		s.Logger().Error("failed to encode payment required header", zap.Error(err))
		return ProcessResult{
			Type: ResultPaymentError,
			Response: &Response{
				Status:  http.StatusInternalServerError,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]interface{}{"error": "internal error"},
			},
		}
	}

	if isWebBrowser(adapter) && s.paywallProvider != nil {
		if html := s.paywallProvider.GenerateHTML(required, paywallConfig); html != "" {
			return ProcessResult{
				Type: ResultPaymentError,
				Response: &Response{
					Status: http.StatusPaymentRequired,
					Headers: map[string]string{
						"Content-Type":              "text/html",
						wire.HeaderPaymentRequired: encoded,
					},
					Body:   html,
					IsHTML: true,
				},
			}
		}
	}

	return ProcessResult{
		Type: ResultPaymentError,
		Response: &Response{
			Status: http.StatusPaymentRequired,
			Headers: map[string]string{
				"Content-Type":              "application/json",
				wire.HeaderPaymentRequired: encoded,
			},
			Body: required,
		},
	}
}

// ProcessSettlement settles a verified payment after the handler ran. The
// payment only settles when the handler produced a 2xx; for anything else
// it returns (nil, nil) and the payer is not charged. On success it returns
// the receipt headers to append to the response, named for the payload's
// protocol version.
func (s *ResourceService) ProcessSettlement(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	statusCode int,
) (map[string]string, error) {
	if statusCode < 200 || statusCode >= 300 {
		return nil, nil
	}

	settleResponse, err := s.SettlePayment(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !settleResponse.Success {
		return nil, x402.NewSettleError(
			settleResponse.ErrorReason,
			settleResponse.Payer,
			settleResponse.Network,
			settleResponse.Transaction,
			"settlement failed",
			http.StatusPaymentRequired,
		)
	}

	if declared := s.declaredExtensionsFor(payload); len(declared) > 0 {
		contributions := s.BuildSettlementExtensions(ctx, declared, x402.ExtensionContext{
			Resource:     payload.Resource,
			Payload:      &payload,
			Requirements: &requirements,
			Settlement:   &settleResponse,
		})
		if len(contributions) > 0 {
			if settleResponse.Extensions == nil {
				settleResponse.Extensions = make(map[string]interface{})
			}
			for k, v := range contributions {
				settleResponse.Extensions[k] = v
			}
		}
	}

	name, value, err := wire.EncodeSettleResponseHeader(settleResponse, payload.X402Version)
	if err != nil {
		return nil, err
	}

	return map[string]string{name: value}, nil
}

// declaredExtensionsFor recovers the route declaration for a settled
// payment. V2 payloads echo the resource they paid for; v1 payloads carry
// none, so they get no settlement extensions.
func (s *ResourceService) declaredExtensionsFor(payload x402.PaymentPayload) map[string]interface{} {
	if payload.Resource == nil || payload.Resource.URL == "" {
		return nil
	}

	path := payload.Resource.URL
	if parsed, err := url.Parse(path); err == nil && parsed.Path != "" {
		path = parsed.Path
	}

	route := s.findRoute("*", path)
	if route == nil {
		// Resource URLs bind to a verb-specific route; retry common verbs.
		for _, verb := range []string{"GET", "POST", "PUT", "DELETE", "PATCH"} {
			if route = s.findRoute(verb, path); route != nil {
				break
			}
		}
	}
	if route == nil {
		return nil
	}
	return route.Extensions
}

// isWebBrowser detects interactive browser traffic that should see the
// paywall page instead of raw protocol JSON.
func isWebBrowser(adapter HTTPAdapter) bool {
	return strings.Contains(adapter.GetAcceptHeader(), "text/html") &&
		strings.Contains(adapter.GetUserAgent(), "Mozilla")
}

// getDisplayAmount converts the first accepted requirement's atomic amount
// into a human display value, assuming 6 decimals. Used only by the paywall.
func (s *ResourceService) getDisplayAmount(required x402.PaymentRequired) float64 {
	return displayAmount(required)
}
