package sessionreuse

import (
	"context"
	"fmt"
	"time"

	x402 "github.com/x402labs/x402-go"
)

// Hook is the server-side request hook. When a request carries a valid
// session proof for its resource and the store knows the (resource, payer)
// pair, payment is bypassed.
type Hook struct {
	store  SessionStore
	window time.Duration
}

var _ x402.RequestHook = (*Hook)(nil)

// NewHook creates the bypass hook over the same store the extension
// records into.
func NewHook(store SessionStore, window time.Duration) *Hook {
	if window == 0 {
		window = DefaultWindow
	}
	return &Hook{store: store, window: window}
}

// HandleRequest implements x402.RequestHook. The proof is checked
// cryptographically (signature, freshness, audience); the store answers
// whether this payer actually paid for this resource. Both must pass.
func (h *Hook) HandleRequest(ctx context.Context, rc *x402.RequestContext) error {
	header := rc.Header(HeaderSessionProof)
	if header == "" {
		return fmt.Errorf("no session proof present")
	}

	proof, err := DecodeProofHeader(header)
	if err != nil {
		return err
	}

	payer, err := VerifyProof(proof, rc.Resource, h.window)
	if err != nil {
		return err
	}

	known, err := h.store.Known(ctx, rc.Resource, payer)
	if err != nil {
		return fmt.Errorf("session store lookup failed: %w", err)
	}
	if !known {
		return fmt.Errorf("no recorded session for %s on %s", payer, rc.Resource)
	}

	rc.GrantBypass(payer)
	return nil
}
