package x402

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNetworkParse(t *testing.T) {
	namespace, reference, err := Network("eip155:8453").Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if namespace != "eip155" || reference != "8453" {
		t.Errorf("got (%q, %q), want (eip155, 8453)", namespace, reference)
	}

	if _, _, err := Network("base").Parse(); err == nil {
		t.Error("expected error for non-CAIP-2 identifier")
	}
}

func TestNetworkMatch(t *testing.T) {
	tests := []struct {
		network Network
		pattern Network
		want    bool
	}{
		{"eip155:1", "eip155:1", true},
		{"eip155:1", "eip155:*", true},
		{"eip155:*", "eip155:1", true},
		{"eip155:1", "eip155:2", false},
		{"eip155:1", "solana:*", false},
		{"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", "solana:*", true},
		{"base", "base", true},
	}

	for _, tt := range tests {
		if got := tt.network.Match(tt.pattern); got != tt.want {
			t.Errorf("Network(%q).Match(%q) = %v, want %v", tt.network, tt.pattern, got, tt.want)
		}
	}
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{name: "v2", data: `{"x402Version": 2, "payload": {}}`, want: 2},
		{name: "v1", data: `{"x402Version": 1, "scheme": "exact"}`, want: 1},
		{name: "missing field", data: `{"payload": {}}`, wantErr: true},
		{name: "unsupported version", data: `{"x402Version": 7}`, wantErr: true},
		{name: "not json", data: `{{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectVersion([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got version %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPaymentPayloadAccessors(t *testing.T) {
	v1 := PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base-sepolia"}
	if v1.SchemeName() != "exact" || v1.NetworkName() != "base-sepolia" {
		t.Errorf("v1 accessors returned (%q, %q)", v1.SchemeName(), v1.NetworkName())
	}

	v2 := PaymentPayload{
		X402Version: 2,
		Accepted:    PaymentRequirements{Scheme: "exact", Network: "eip155:84532"},
	}
	if v2.SchemeName() != "exact" || v2.NetworkName() != "eip155:84532" {
		t.Errorf("v2 accessors returned (%q, %q)", v2.SchemeName(), v2.NetworkName())
	}
}

func TestV1PayloadOmitsAccepted(t *testing.T) {
	v1 := PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	data, err := json.Marshal(v1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), `"accepted"`) {
		t.Errorf("v1 payloads must not serialize an empty accepted object: %s", data)
	}

	v2 := PaymentPayload{
		X402Version: 2,
		Accepted:    PaymentRequirements{Scheme: "exact", Network: "eip155:84532"},
	}
	data, err = json.Marshal(v2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"accepted"`) {
		t.Errorf("v2 payloads must keep their accepted requirements: %s", data)
	}
}

func TestMatchesRequirements(t *testing.T) {
	req := PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:84532",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:  "1000",
	}

	tests := []struct {
		name    string
		payload PaymentPayload
		want    bool
	}{
		{
			name: "v2 exact match",
			payload: PaymentPayload{
				X402Version: 2,
				Accepted:    req,
			},
			want: true,
		},
		{
			name: "v2 asset case-insensitive",
			payload: PaymentPayload{
				X402Version: 2,
				Accepted: PaymentRequirements{
					Scheme:  "exact",
					Network: "eip155:84532",
					Asset:   "0x036CBD53842C5426634E7929541EC2318F3DCF7E",
					Amount:  "1000",
				},
			},
			want: true,
		},
		{
			name: "v2 amount mismatch",
			payload: PaymentPayload{
				X402Version: 2,
				Accepted: PaymentRequirements{
					Scheme:  "exact",
					Network: "eip155:84532",
					Asset:   req.Asset,
					Amount:  "2000",
				},
			},
			want: false,
		},
		{
			name: "v1 compares scheme and network only",
			payload: PaymentPayload{
				X402Version: 1,
				Scheme:      "exact",
				Network:     "eip155:84532",
			},
			want: true,
		},
		{
			name: "v1 scheme mismatch",
			payload: PaymentPayload{
				X402Version: 1,
				Scheme:      "permit",
				Network:     "eip155:84532",
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.MatchesRequirements(req); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePaymentPayload(t *testing.T) {
	valid := PaymentPayload{
		X402Version: 2,
		Payload:     map[string]interface{}{"signature": "0xsig"},
		Accepted:    PaymentRequirements{Scheme: "exact", Network: "eip155:84532"},
	}
	if err := ValidatePaymentPayload(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := valid
	bad.X402Version = 9
	if err := ValidatePaymentPayload(bad); err == nil {
		t.Error("expected error for unsupported version")
	}

	bad = valid
	bad.Accepted.Scheme = ""
	if err := ValidatePaymentPayload(bad); err == nil {
		t.Error("expected error for missing scheme")
	}

	bad = valid
	bad.Payload = nil
	if err := ValidatePaymentPayload(bad); err == nil {
		t.Error("expected error for missing inner payload")
	}
}

func TestValidatePaymentRequirements(t *testing.T) {
	valid := PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:84532",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:  "1000",
		PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
	}
	if err := ValidatePaymentRequirements(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, clear := range []func(*PaymentRequirements){
		func(r *PaymentRequirements) { r.Scheme = "" },
		func(r *PaymentRequirements) { r.Network = "" },
		func(r *PaymentRequirements) { r.Asset = "" },
		func(r *PaymentRequirements) { r.PayTo = "" },
	} {
		bad := valid
		clear(&bad)
		if err := ValidatePaymentRequirements(bad); err == nil {
			t.Error("expected error for requirements with a missing field")
		}
	}
}
