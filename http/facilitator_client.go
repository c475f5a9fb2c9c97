package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	x402 "github.com/x402labs/x402-go"
)

// FacilitatorClient communicates with a remote facilitator service over HTTP.
// Implements x402.FacilitatorClient for both protocol versions.
type FacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider generates authentication headers for facilitator requests.
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint.
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers per facilitator endpoint.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client.
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service.
	URL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional).
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s).
	Timeout time.Duration

	// Identifier for this facilitator (optional, defaults to URL).
	Identifier string
}

// DefaultFacilitatorURL is the default public facilitator.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// getSupportedRetries is the number of attempts for GetSupported when the
// facilitator answers 429.
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff.
const getSupportedRetryBaseDelay = 1 * time.Second

// NewFacilitatorClient creates a new HTTP facilitator client.
func NewFacilitatorClient(config *FacilitatorConfig) *FacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &FacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// Identifier returns the configured facilitator identifier.
func (c *FacilitatorClient) Identifier() string {
	return c.identifier
}

// Verify asks the facilitator whether a payment is valid. A missing isValid
// discriminant in the response body is a protocol error, not a negative
// verdict.
func (c *FacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	body, err := c.post(ctx, "/verify", payload, requirements, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return x402.VerifyResponse{}, err
	}

	if !hasField(body.data, "isValid") {
		if body.status != http.StatusOK {
			return x402.VerifyResponse{}, fmt.Errorf("facilitator verify failed (%d): %s", body.status, string(body.data))
		}
		return x402.VerifyResponse{}, fmt.Errorf("invalid verify response: missing isValid field")
	}

	var verifyResponse x402.VerifyResponse
	if err := unmarshalBigIntSafe(body.data, &verifyResponse); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to decode verify response: %w", err)
	}

	if body.status != http.StatusOK {
		if verifyResponse.InvalidReason != "" {
			return x402.VerifyResponse{}, x402.NewVerifyError(
				verifyResponse.InvalidReason,
				verifyResponse.Payer,
				verifyResponse.InvalidMessage,
				body.status,
			)
		}
		return x402.VerifyResponse{}, fmt.Errorf("facilitator verify failed (%d): %s", body.status, string(body.data))
	}

	return verifyResponse, nil
}

// Settle asks the facilitator to execute a payment. A missing success
// discriminant in the response body is a protocol error.
func (c *FacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	body, err := c.post(ctx, "/settle", payload, requirements, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return x402.SettleResponse{}, err
	}

	if !hasField(body.data, "success") {
		if body.status != http.StatusOK {
			return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", body.status, string(body.data))
		}
		return x402.SettleResponse{}, fmt.Errorf("invalid settle response: missing success field")
	}

	var settleResponse x402.SettleResponse
	if err := unmarshalBigIntSafe(body.data, &settleResponse); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to decode settle response: %w", err)
	}

	if body.status != http.StatusOK {
		if settleResponse.ErrorReason != "" {
			return x402.SettleResponse{}, x402.NewSettleError(
				settleResponse.ErrorReason,
				settleResponse.Payer,
				settleResponse.Network,
				settleResponse.Transaction,
				fmt.Sprintf("facilitator returned %d", body.status),
				body.status,
			)
		}
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", body.status, string(body.data))
	}

	return settleResponse, nil
}

// GetSupported fetches the payment kinds the facilitator supports. Retries up
// to 3 times with exponential backoff on 429, honoring context cancellation.
// Any other failure returns immediately.
func (c *FacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		if c.authProvider != nil {
			authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
			if err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to get auth headers: %w", err)
			}
			for k, v := range authHeaders.Supported {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := unmarshalBigIntSafe(responseBody, &supportedResponse); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supportedResponse, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		// Only 429 is retryable, and not on the last attempt.
		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

type facilitatorResponse struct {
	status int
	data   []byte
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payload x402.PaymentPayload, requirements x402.PaymentRequirements, pickHeaders func(AuthHeaders) map[string]string) (facilitatorResponse, error) {
	payload.Payload = stringifyBigInts(payload.Payload)
	payload.Extensions = stringifyBigInts(payload.Extensions)
	requirements.Extra = stringifyBigInts(requirements.Extra)

	requestBody := map[string]interface{}{
		"x402Version":         payload.X402Version,
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return facilitatorResponse{}, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, bytes.NewReader(body))
	if err != nil {
		return facilitatorResponse{}, fmt.Errorf("failed to create %s request: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.authProvider != nil {
		authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return facilitatorResponse{}, fmt.Errorf("failed to get auth headers: %w", err)
		}
		for k, v := range pickHeaders(authHeaders) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return facilitatorResponse{}, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return facilitatorResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	return facilitatorResponse{status: resp.StatusCode, data: responseBody}, nil
}

// hasField reports whether a top-level JSON object carries the given key.
func hasField(data []byte, key string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	_, ok := obj[key]
	return ok
}

// unmarshalBigIntSafe decodes JSON preserving integers that exceed float64
// precision. Numbers stay json.Number inside interface{} fields rather than
// being mangled through float64.
func unmarshalBigIntSafe(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// maxSafeJSONInteger is the largest integer a float64-backed JSON parser
// represents exactly (2^53 - 1).
const maxSafeJSONInteger = 1<<53 - 1

// stringifyBigInts converts integers beyond maxSafeJSONInteger to strings
// before the request goes on the wire, so facilitators parsing JSON numbers
// as float64 do not lose precision.
func stringifyBigInts(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = stringifyBigIntValue(v)
	}
	return out
}

func stringifyBigIntValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return stringifyBigInts(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = stringifyBigIntValue(item)
		}
		return out
	case json.Number:
		s := val.String()
		if strings.ContainsAny(s, ".eE") {
			return val
		}
		if i, err := val.Int64(); err != nil || i > maxSafeJSONInteger || i < -maxSafeJSONInteger {
			return s
		}
		return val
	case int64:
		if val > maxSafeJSONInteger || val < -maxSafeJSONInteger {
			return strconv.FormatInt(val, 10)
		}
		return val
	case uint64:
		if val > maxSafeJSONInteger {
			return strconv.FormatUint(val, 10)
		}
		return val
	default:
		return v
	}
}
