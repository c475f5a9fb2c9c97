package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/wire"
)

type payingScheme struct{}

func (payingScheme) Scheme() string { return "exact" }

func (payingScheme) CreatePaymentPayload(ctx context.Context, version int, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	return x402.PaymentPayload{
		X402Version: version,
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}, nil
}

// paymentGate is a test resource server: 402 until a payment header shows
// up, then 200 with a receipt header.
func paymentGate(t *testing.T) *httptest.Server {
	t.Helper()

	required := x402.PaymentRequired{
		X402Version: 2,
		Error:       "Payment required",
		Accepts: []x402.PaymentRequirements{{
			Scheme:  "exact",
			Network: "eip155:84532",
			Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Amount:  "1000",
			PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		}},
	}
	encoded, err := wire.EncodePaymentRequiredHeader(required)
	if err != nil {
		t.Fatalf("failed to encode payment required: %v", err)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(wire.HeaderPaymentSignature) == "" {
			w.Header().Set(wire.HeaderPaymentRequired, encoded)
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]string{"error": "Payment required"})
			return
		}

		name, value, err := wire.EncodeSettleResponseHeader(x402.SettleResponse{
			Success:     true,
			Transaction: "0xtx",
			Network:     "eip155:84532",
		}, 2)
		if err != nil {
			t.Errorf("failed to encode receipt: %v", err)
		}
		w.Header().Set(name, value)
		w.Write([]byte(`{"weather":"sunny"}`))
	}))
}

func TestRoundTripperPaysAndRetries(t *testing.T) {
	server := paymentGate(t)
	defer server.Close()

	client := NewClient(x402.WithScheme(2, "eip155:*", payingScheme{}))
	resp, err := client.GetWithPayment(context.Background(), server.URL+"/weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after payment, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"weather":"sunny"}` {
		t.Errorf("unexpected body: %s", body)
	}

	headers := map[string]string{
		wire.HeaderPaymentResponse: resp.Header.Get(wire.HeaderPaymentResponse),
	}
	receipt, err := client.GetPaymentSettleResponse(headers)
	if err != nil {
		t.Fatalf("failed to read receipt: %v", err)
	}
	if !receipt.Success || receipt.Transaction != "0xtx" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestRoundTripperPassesThroughNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(wire.HeaderPaymentSignature) != "" {
			t.Error("no payment expected for a free resource")
		}
		w.Write([]byte("free"))
	}))
	defer server.Close()

	client := NewClient(x402.WithScheme(2, "eip155:*", payingScheme{}))
	resp, err := client.GetWithPayment(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRoundTripperNoSchemeFails(t *testing.T) {
	server := paymentGate(t)
	defer server.Close()

	client := NewClient() // nothing registered
	if _, err := client.GetWithPayment(context.Background(), server.URL); err == nil {
		t.Error("expected error when no scheme can pay")
	}
}

func TestRoundTripperHookSkipsPayment(t *testing.T) {
	var sawSession bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PAYMENT-SESSION") != "" {
			sawSession = true
			w.Write([]byte("ok"))
			return
		}
		if r.Header.Get(wire.HeaderPaymentSignature) != "" {
			t.Error("payment constructed despite a live session")
		}

		required := x402.PaymentRequired{
			X402Version: 2,
			Accepts:     []x402.PaymentRequirements{{Scheme: "exact", Network: "eip155:84532"}},
		}
		encoded, _ := wire.EncodePaymentRequiredHeader(required)
		w.Header().Set(wire.HeaderPaymentRequired, encoded)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := NewClient(
		x402.WithScheme(2, "eip155:*", payingScheme{}),
		x402.WithOnPaymentRequired(func(ctx context.Context, required x402.PaymentRequired) (map[string]string, error) {
			return map[string]string{"PAYMENT-SESSION": "cached-proof"}, nil
		}),
	)

	resp, err := client.GetWithPayment(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !sawSession {
		t.Error("expected retry to carry the session header")
	}
}

func TestWrapHTTPClientWithPayment(t *testing.T) {
	server := paymentGate(t)
	defer server.Close()

	paying := NewClient(x402.WithScheme(2, "eip155:*", payingScheme{}))
	wrapped := WrapHTTPClientWithPayment(&http.Client{}, paying)

	resp, err := wrapped.Get(server.URL + "/weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after payment, got %d", resp.StatusCode)
	}
}

func TestGetPaymentRequiredResponseV1Body(t *testing.T) {
	client := NewClient()

	body, _ := json.Marshal(x402.PaymentRequired{
		X402Version: 1,
		Accepts:     []x402.PaymentRequirements{{Scheme: "exact", Network: "base-sepolia"}},
	})

	required, err := client.GetPaymentRequiredResponse(map[string]string{}, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if required.X402Version != 1 {
		t.Errorf("expected v1 body fallback, got version %d", required.X402Version)
	}
}
