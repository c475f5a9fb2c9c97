package http

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// PaywallConfig customizes the browser paywall page.
type PaywallConfig struct {
	// AppName is displayed as the page title.
	AppName string

	// AppLogo is an optional logo URL.
	AppLogo string

	// CDPClientKey enables the embedded wallet widget when set.
	CDPClientKey string

	// SessionTokenEndpoint is the endpoint the widget fetches onramp
	// session tokens from (optional).
	SessionTokenEndpoint string

	// TestnetFaucetURL links payers to a faucet on test networks (optional).
	TestnetFaucetURL string
}

// PaywallProvider generates HTML for browser-facing 402 responses.
// Register a custom implementation via RegisterPaywallProvider to override
// the built-in EVM/SVM pages.
type PaywallProvider interface {
	GenerateHTML(paymentRequired x402.PaymentRequired, config *PaywallConfig) string
}

// PaywallNetworkHandler generates paywall HTML for one network family.
// Compose handlers into a single PaywallProvider with PaywallBuilder.
type PaywallNetworkHandler interface {
	// Supports reports whether this handler can render the requirement.
	Supports(requirement x402.PaymentRequirements) bool

	// GenerateHTML renders the paywall page for the given requirement.
	GenerateHTML(requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string
}

// EVMPaywallHandler renders the paywall for EVM networks (eip155:*).
type EVMPaywallHandler struct{}

// Supports reports true for eip155:* CAIP-2 identifiers.
func (h *EVMPaywallHandler) Supports(requirement x402.PaymentRequirements) bool {
	return strings.HasPrefix(string(requirement.Network), "eip155:")
}

// GenerateHTML renders the built-in EVM paywall page.
func (h *EVMPaywallHandler) GenerateHTML(_ x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	return renderPaywall(paymentRequired, config)
}

// SVMPaywallHandler renders the paywall for Solana networks (solana:*).
type SVMPaywallHandler struct{}

// Supports reports true for solana:* CAIP-2 identifiers.
func (h *SVMPaywallHandler) Supports(requirement x402.PaymentRequirements) bool {
	return strings.HasPrefix(string(requirement.Network), "solana:")
}

// GenerateHTML renders the built-in SVM paywall page.
func (h *SVMPaywallHandler) GenerateHTML(_ x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	return renderPaywall(paymentRequired, config)
}

// PaywallBuilder composes PaywallNetworkHandlers into one PaywallProvider.
type PaywallBuilder struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

// NewPaywallBuilder creates an empty builder.
func NewPaywallBuilder() *PaywallBuilder {
	return &PaywallBuilder{}
}

// WithNetwork adds a network handler.
func (b *PaywallBuilder) WithNetwork(handler PaywallNetworkHandler) *PaywallBuilder {
	b.handlers = append(b.handlers, handler)
	return b
}

// WithConfig sets the default config used when a request supplies none.
func (b *PaywallBuilder) WithConfig(config *PaywallConfig) *PaywallBuilder {
	b.config = config
	return b
}

// Build creates a provider dispatching to the first matching handler.
func (b *PaywallBuilder) Build() PaywallProvider {
	return &compositePaywallProvider{
		handlers: b.handlers,
		config:   b.config,
	}
}

type compositePaywallProvider struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

func (p *compositePaywallProvider) GenerateHTML(paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	effectiveConfig := config
	if effectiveConfig == nil {
		effectiveConfig = p.config
	}

	for _, requirement := range paymentRequired.Accepts {
		for _, handler := range p.handlers {
			if handler.Supports(requirement) {
				return handler.GenerateHTML(requirement, paymentRequired, effectiveConfig)
			}
		}
	}

	return ""
}

// DefaultPaywallProvider returns a provider with the built-in EVM and SVM
// handlers.
func DefaultPaywallProvider() PaywallProvider {
	return NewPaywallBuilder().
		WithNetwork(&EVMPaywallHandler{}).
		WithNetwork(&SVMPaywallHandler{}).
		Build()
}

// renderPaywall produces the self-contained paywall page. The full payment
// requirements are injected as JSON for the in-page payment script.
func renderPaywall(paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	if config == nil {
		config = &PaywallConfig{}
	}

	appName := config.AppName
	if appName == "" {
		appName = "x402 Paywall"
	}

	description := ""
	if paymentRequired.Resource != nil {
		description = paymentRequired.Resource.Description
	}

	requiredJSON, err := json.Marshal(paymentRequired)
	if err != nil {
		return ""
	}
	configJSON, err := json.Marshal(map[string]string{
		"appName":              config.AppName,
		"appLogo":              config.AppLogo,
		"cdpClientKey":         config.CDPClientKey,
		"sessionTokenEndpoint": config.SessionTokenEndpoint,
		"testnetFaucetUrl":     config.TestnetFaucetURL,
	})
	if err != nil {
		return ""
	}

	amount := strconv.FormatFloat(displayAmount(paymentRequired), 'f', -1, 64)

	return fmt.Sprintf(paywallTemplate,
		html.EscapeString(appName),
		html.EscapeString(appName),
		html.EscapeString(description),
		amount,
		string(requiredJSON),
		string(configJSON),
	)
}

// displayAmount converts the first accepted requirement's atomic amount to
// a display value, assuming 6 decimals.
func displayAmount(required x402.PaymentRequired) float64 {
	if len(required.Accepts) == 0 {
		return 0
	}
	atomic, err := strconv.ParseFloat(required.Accepts[0].Amount, 64)
	if err != nil {
		return 0
	}
	return atomic / 1e6
}

const paywallTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Payment Required - %s</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
           margin: 0; background: #f5f5f7; color: #1d1d1f; }
    .card { max-width: 420px; margin: 10vh auto; padding: 2rem; background: #fff;
            border-radius: 12px; box-shadow: 0 1px 4px rgba(0,0,0,.08); }
    h1 { font-size: 1.25rem; margin: 0 0 .25rem; }
    .amount { font-size: 2rem; font-weight: 600; margin: 1rem 0; }
    .description { color: #6e6e73; }
    button { width: 100%%; padding: .75rem; border: 0; border-radius: 8px;
             background: #0052ff; color: #fff; font-size: 1rem; cursor: pointer; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Payment Required</h1>
    <div>%s</div>
    <p class="description">%s</p>
    <div class="amount">$%s</div>
    <button id="pay">Pay now</button>
  </div>
  <script>
    window.x402 = {
      paymentRequired: %s,
      paywallConfig: %s
    };
  </script>
</body>
</html>`
