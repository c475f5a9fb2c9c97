package sessionreuse

import (
	"context"
	"crypto/ecdsa"
	"net/url"
	"strings"
	"sync"
	"time"

	x402 "github.com/x402labs/x402-go"
)

// ClientSessions tracks resources the client has already paid for and
// answers later 402s with a session proof instead of a new payment.
type ClientSessions struct {
	mu       sync.Mutex
	key      *ecdsa.PrivateKey
	sessions map[string]time.Time
}

// NewClientSessions creates a client-side session tracker signing proofs
// with the given key.
func NewClientSessions(key *ecdsa.PrivateKey) *ClientSessions {
	return &ClientSessions{
		key:      key,
		sessions: make(map[string]time.Time),
	}
}

// RecordFromSettlement remembers a paid resource. Call it with the
// settlement receipt's extension data after a successful payment.
func (c *ClientSessions) RecordFromSettlement(resource string, extensions map[string]interface{}) {
	data, ok := extensions[ExtensionKey].(map[string]interface{})
	if !ok {
		return
	}
	recorded, _ := data["sessionRecorded"].(bool)
	if !recorded {
		return
	}

	expiry := time.Now().Add(DefaultWindow)
	if at, ok := data["expiresAt"].(float64); ok {
		expiry = time.Unix(int64(at), 0)
	}

	c.mu.Lock()
	c.sessions[normalizeResource(resource)] = expiry
	c.mu.Unlock()
}

// OnPaymentRequired is an x402.OnPaymentRequiredHook. When the 402 is for a
// resource with a live session, it returns a proof header and the request
// retries without paying; otherwise it returns nil and payment proceeds.
func (c *ClientSessions) OnPaymentRequired(ctx context.Context, required x402.PaymentRequired) (map[string]string, error) {
	if required.Resource == nil {
		return nil, nil
	}

	resource := normalizeResource(required.Resource.URL)

	c.mu.Lock()
	expiry, ok := c.sessions[resource]
	if ok && time.Now().After(expiry) {
		delete(c.sessions, resource)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return nil, nil
	}

	proof, err := SignProof(c.key, resource)
	if err != nil {
		return nil, err
	}

	header, err := EncodeProofHeader(proof)
	if err != nil {
		return nil, err
	}

	return map[string]string{HeaderSessionProof: header}, nil
}

func normalizeResource(resource string) string {
	if parsed, err := url.Parse(resource); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	if resource == "" {
		return "/"
	}
	if !strings.HasPrefix(resource, "/") {
		return "/" + resource
	}
	return resource
}
