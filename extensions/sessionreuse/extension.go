// Package sessionreuse lets a payer who already paid for a resource access
// it again within a window without paying twice. After a settlement the
// extension records (resource, payer); later requests carrying a signed
// session proof for that pair bypass payment entirely.
package sessionreuse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402labs/x402-go"
)

// ExtensionKey identifies this extension in declaration and response maps.
const ExtensionKey = "sessionreuse"

// DefaultWindow bounds session lifetime when a route declares none.
const DefaultWindow = time.Hour

// Declaration is the route-declared configuration.
type Declaration struct {
	// Required advertises that the resource expects clients to present
	// session proofs when they hold one.
	Required bool `json:"required,omitempty"`

	// WindowSeconds bounds how long a recorded session stays valid.
	WindowSeconds int `json:"windowSeconds,omitempty"`
}

const declarationSchema = `{
	"type": "object",
	"properties": {
		"required": {"type": "boolean"},
		"windowSeconds": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": false
}`

// Extension implements the server side: declaration validation, 402
// advertisement and post-settlement session recording.
type Extension struct {
	store SessionStore
}

var _ x402.ResourceServerExtension = (*Extension)(nil)
var _ x402.PaymentRequiredEnricher = (*Extension)(nil)
var _ x402.SettlementEnricher = (*Extension)(nil)

// NewExtension creates the extension over a session store.
func NewExtension(store SessionStore) *Extension {
	return &Extension{store: store}
}

// Key implements ResourceServerExtension.
func (e *Extension) Key() string {
	return ExtensionKey
}

// ParseDeclaration validates a route-declared configuration against the
// extension's schema.
func ParseDeclaration(declaration interface{}) (Declaration, error) {
	raw, err := json.Marshal(declaration)
	if err != nil {
		return Declaration{}, fmt.Errorf("invalid sessionreuse declaration: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(declarationSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return Declaration{}, fmt.Errorf("sessionreuse declaration validation failed: %w", err)
	}
	if !result.Valid() {
		return Declaration{}, fmt.Errorf("invalid sessionreuse declaration: %s", result.Errors()[0])
	}

	var decl Declaration
	if err := json.Unmarshal(raw, &decl); err != nil {
		return Declaration{}, fmt.Errorf("invalid sessionreuse declaration: %w", err)
	}
	return decl, nil
}

// Window returns the declared session window, or the default.
func (d Declaration) Window() time.Duration {
	if d.WindowSeconds > 0 {
		return time.Duration(d.WindowSeconds) * time.Second
	}
	return DefaultWindow
}

// EnrichPaymentRequiredResponse advertises session reuse on 402 responses
// so clients know a successful payment buys a reusable session.
func (e *Extension) EnrichPaymentRequiredResponse(ctx context.Context, declaration interface{}, ec x402.ExtensionContext) (interface{}, error) {
	decl, err := ParseDeclaration(declaration)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"supported":     true,
		"required":      decl.Required,
		"windowSeconds": int(decl.Window() / time.Second),
	}, nil
}

// EnrichSettlementResponse records the settled payer's session and tells
// the client until when it can present proofs instead of paying.
func (e *Extension) EnrichSettlementResponse(ctx context.Context, declaration interface{}, ec x402.ExtensionContext) (interface{}, error) {
	decl, err := ParseDeclaration(declaration)
	if err != nil {
		return nil, err
	}

	if ec.Settlement == nil || ec.Settlement.Payer == "" {
		return nil, nil
	}

	resource := resourceID(ec)
	if resource == "" {
		return nil, nil
	}

	window := decl.Window()
	if err := e.store.Record(ctx, resource, ec.Settlement.Payer, window); err != nil {
		return nil, fmt.Errorf("failed to record session: %w", err)
	}

	return map[string]interface{}{
		"sessionRecorded": true,
		"expiresAt":       time.Now().Add(window).Unix(),
	}, nil
}

// resourceID canonicalizes the paid resource to its path. Proofs and store
// entries bind to this identity.
func resourceID(ec x402.ExtensionContext) string {
	if ec.Resource == nil || ec.Resource.URL == "" {
		return ""
	}
	if parsed, err := url.Parse(ec.Resource.URL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return ec.Resource.URL
}
