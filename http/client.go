package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	x402 "github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/wire"
)

// Client wraps the payment client with HTTP-specific handling: it reads 402
// responses off the wire, constructs payment, and retries the request.
type Client struct {
	client *x402.Client
}

// NewClient creates an HTTP-aware payment client.
func NewClient(opts ...x402.ClientOption) *Client {
	return &Client{client: x402.NewClient(opts...)}
}

// Inner exposes the underlying payment client for scheme registration.
func (c *Client) Inner() *x402.Client {
	return c.client
}

// GetPaymentRequiredResponse extracts payment requirements from a 402
// response, probing the v2 header then a v1-shaped body.
func (c *Client) GetPaymentRequiredResponse(headers map[string]string, body []byte) (x402.PaymentRequired, error) {
	return wire.DecodePaymentRequired(wire.MapHeaders(headers), body)
}

// GetPaymentSettleResponse extracts the settlement receipt from response
// headers.
func (c *Client) GetPaymentSettleResponse(headers map[string]string) (x402.SettleResponse, error) {
	return wire.DecodeSettleResponse(wire.MapHeaders(headers))
}

// WrapHTTPClientWithPayment wraps a standard HTTP client so 402 responses
// are paid and retried transparently.
func WrapHTTPClientWithPayment(client *http.Client, paymentClient *Client) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport:  transport,
		client:     paymentClient,
		retryCount: &sync.Map{},
	}

	return client
}

// PaymentRoundTripper implements http.RoundTripper with automatic payment.
// A request is retried at most once with payment attached.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	client     *Client
	retryCount *sync.Map
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := fmt.Sprintf("%p", req)
	count, _ := t.retryCount.LoadOrStore(requestID, 0)
	retries := count.(int)

	if retries > 1 {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("payment retry limit exceeded")
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.retryCount.Delete(requestID)
		return resp, nil
	}

	t.retryCount.Store(requestID, retries+1)

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	var body []byte
	if resp.Body != nil {
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to read 402 response body: %w", err)
		}
	}

	paymentRequired, err := t.client.GetPaymentRequiredResponse(headers, body)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	ctx := req.Context()

	// Hooks may satisfy the 402 out of band (a cached session for example);
	// the first hook returning headers wins and no payment is constructed.
	if hookHeaders := t.client.client.RunPaymentRequiredHooks(ctx, paymentRequired); hookHeaders != nil {
		retryReq := req.Clone(ctx)
		for k, v := range hookHeaders {
			retryReq.Header.Set(k, v)
		}
		retryResp, err := t.Transport.RoundTrip(retryReq)
		t.retryCount.Delete(requestID)
		return retryResp, err
	}

	payload, err := t.client.client.CreatePaymentForRequired(ctx, paymentRequired)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	name, value, err := wire.EncodePaymentHeader(payload)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to encode payment header: %w", err)
	}

	paymentReq := req.Clone(ctx)
	paymentReq.Header.Set(name, value)

	newResp, err := t.Transport.RoundTrip(paymentReq)
	t.retryCount.Delete(requestID)
	return newResp, err
}

// DoWithPayment performs an HTTP request with automatic payment handling.
func (c *Client) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &PaymentRoundTripper{
			Transport:  http.DefaultTransport,
			client:     c,
			retryCount: &sync.Map{},
		},
	}
	return client.Do(req.WithContext(ctx))
}

// GetWithPayment performs a GET request with automatic payment handling.
func (c *Client) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling.
func (c *Client) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}
