package http

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// requestAdapter adapts *http.Request to HTTPAdapter.
type requestAdapter struct {
	r *http.Request
}

func (a *requestAdapter) GetHeader(name string) string {
	return a.r.Header.Get(name)
}

func (a *requestAdapter) GetMethod() string {
	return a.r.Method
}

func (a *requestAdapter) GetPath() string {
	return a.r.URL.EscapedPath()
}

func (a *requestAdapter) GetURL() string {
	scheme := "http"
	if a.r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.r.Host + a.r.URL.EscapedPath()
}

func (a *requestAdapter) GetAcceptHeader() string {
	return a.r.Header.Get("Accept")
}

func (a *requestAdapter) GetUserAgent() string {
	return a.r.UserAgent()
}

// NewRequestAdapter adapts a net/http request for the resource service.
func NewRequestAdapter(r *http.Request) HTTPAdapter {
	return &requestAdapter{r: r}
}

// bufferedResponseWriter captures the handler's output so settlement can run
// before anything reaches the client. Receipt headers must be set before the
// status line is written.
type bufferedResponseWriter struct {
	http.ResponseWriter
	body       bytes.Buffer
	statusCode int
	written    bool
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *bufferedResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *bufferedResponseWriter) flush() {
	w.ResponseWriter.WriteHeader(w.statusCode)
	w.ResponseWriter.Write(w.body.Bytes())
}

// PaymentMiddleware wraps a net/http handler with the payment flow. The
// protected handler only runs for unprotected routes, bypassed requests and
// verified payments; verified payments settle after the handler, and only
// when it produced a 2xx.
func PaymentMiddleware(service *ResourceService, paywallConfig *PaywallConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adapter := NewRequestAdapter(r)
			result := service.ProcessHTTPRequest(r.Context(), HTTPRequestContext{
				Adapter: adapter,
				Path:    adapter.GetPath(),
				Method:  r.Method,
			}, paywallConfig)

			switch result.Type {
			case ResultNoPaymentRequired, ResultBypass:
				next.ServeHTTP(w, r)

			case ResultPaymentError:
				WriteResponse(w, result.Response)

			case ResultPaymentVerified:
				buffered := newBufferedResponseWriter(w)
				next.ServeHTTP(buffered, r)

				headers, err := service.ProcessSettlement(
					r.Context(),
					*result.PaymentPayload,
					*result.PaymentRequirements,
					buffered.statusCode,
				)
				if err != nil {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusPaymentRequired)
					json.NewEncoder(w).Encode(map[string]interface{}{
						"error": "Settlement failed: " + err.Error(),
					})
					return
				}

				for k, v := range headers {
					w.Header().Set(k, v)
				}
				buffered.flush()
			}
		})
	}
}

// WriteResponse writes a Response produced by ProcessHTTPRequest.
func WriteResponse(w http.ResponseWriter, response *Response) {
	if response == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	for k, v := range response.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(response.Status)

	switch body := response.Body.(type) {
	case nil:
	case string:
		w.Write([]byte(body))
	case []byte:
		w.Write(body)
	default:
		json.NewEncoder(w).Encode(body)
	}
}
