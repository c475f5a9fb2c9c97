// Package wire implements the version-aware header codec for x402 payment
// data. Protocol v1 uses the X-PAYMENT / X-PAYMENT-RESPONSE headers (with a
// body fallback for 402 responses); v2 uses dedicated PAYMENT-SIGNATURE,
// PAYMENT-REQUIRED and PAYMENT-RESPONSE headers. All header values are
// base64-encoded JSON.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/x402labs/x402-go"
)

// Header names. Lookups must go through a case-insensitive accessor; HTTP
// header names are not case-sensitive.
const (
	// v2 headers
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"

	// v1 headers
	HeaderPaymentV1         = "X-PAYMENT"
	HeaderPaymentResponseV1 = "X-PAYMENT-RESPONSE"
)

// HeaderGetter is the name-insensitive header accessor supplied by the
// transport binding. An absent header returns "".
type HeaderGetter interface {
	GetHeader(name string) string
}

// EncodePaymentHeader encodes a payment payload into its version's request
// header. Dispatch is purely on the payload's declared version; an
// unrecognized version is an error, never a guess.
func EncodePaymentHeader(payload x402.PaymentPayload) (name, value string, err error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)

	switch payload.X402Version {
	case x402.ProtocolVersion:
		return HeaderPaymentSignature, encoded, nil
	case x402.ProtocolVersionV1:
		return HeaderPaymentV1, encoded, nil
	default:
		return "", "", fmt.Errorf("unsupported x402 version: %d", payload.X402Version)
	}
}

// DecodePaymentHeader extracts a payment payload from request headers,
// probing the v2 header then the v1 header. Returns (nil, nil) when no
// payment header is present; a present but malformed header is an error.
func DecodePaymentHeader(h HeaderGetter) (*x402.PaymentPayload, error) {
	header := h.GetHeader(HeaderPaymentSignature)
	if header == "" {
		header = h.GetHeader(HeaderPaymentV1)
	}
	if header == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header: base64 decoding failed: %w", err)
	}

	// Scheme payloads can carry integers beyond float64 precision; decode
	// them as json.Number so they survive re-marshalling verbatim.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload x402.PaymentPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid payment header: not valid JSON: %w", err)
	}

	if _, err := x402.DetectVersion(data); err != nil {
		return nil, fmt.Errorf("invalid payment header: %w", err)
	}

	return &payload, nil
}

// EncodePaymentRequiredHeader encodes a 402 body for the v2 response header.
func EncodePaymentRequiredHeader(required x402.PaymentRequired) (string, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment required response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequired extracts a PaymentRequired from a 402 response,
// probing the v2 header first and falling back to a v1-shaped body.
func DecodePaymentRequired(h HeaderGetter, body []byte) (x402.PaymentRequired, error) {
	if header := h.GetHeader(HeaderPaymentRequired); header != "" {
		data, err := base64.StdEncoding.DecodeString(header)
		if err != nil {
			return x402.PaymentRequired{}, fmt.Errorf("invalid payment required response: %w", err)
		}
		var required x402.PaymentRequired
		if err := json.Unmarshal(data, &required); err != nil {
			return x402.PaymentRequired{}, fmt.Errorf("invalid payment required response: %w", err)
		}
		return required, nil
	}

	if len(body) > 0 {
		var required x402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil &&
			required.X402Version == x402.ProtocolVersionV1 {
			return required, nil
		}
	}

	return x402.PaymentRequired{}, fmt.Errorf("invalid payment required response")
}

// EncodeSettleResponseHeader encodes a settlement receipt into the header
// matching the paid payload's protocol version.
func EncodeSettleResponseHeader(resp x402.SettleResponse, version int) (name, value string, err error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal settle response: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)

	switch version {
	case x402.ProtocolVersion:
		return HeaderPaymentResponse, encoded, nil
	case x402.ProtocolVersionV1:
		return HeaderPaymentResponseV1, encoded, nil
	default:
		return "", "", fmt.Errorf("unsupported x402 version: %d", version)
	}
}

// DecodeSettleResponse extracts a settlement receipt from response headers,
// probing PAYMENT-RESPONSE then X-PAYMENT-RESPONSE.
func DecodeSettleResponse(h HeaderGetter) (x402.SettleResponse, error) {
	header := h.GetHeader(HeaderPaymentResponse)
	if header == "" {
		header = h.GetHeader(HeaderPaymentResponseV1)
	}
	if header == "" {
		return x402.SettleResponse{}, fmt.Errorf("payment response header not found")
	}

	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid payment response header: %w", err)
	}

	var resp x402.SettleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid payment response header: %w", err)
	}

	return resp, nil
}

// MapHeaders adapts a plain map to HeaderGetter with case-insensitive
// lookup, for transports that surface headers as a map.
type MapHeaders map[string]string

// GetHeader implements HeaderGetter.
func (m MapHeaders) GetHeader(name string) string {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
