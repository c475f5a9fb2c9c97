// Package gin provides payment middleware for the Gin web framework.
package gin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	x402http "github.com/x402labs/x402-go/http"
)

// ginAdapter adapts a gin request to the service's transport interface.
type ginAdapter struct {
	c *gin.Context
}

func (a *ginAdapter) GetHeader(name string) string {
	return a.c.GetHeader(name)
}

func (a *ginAdapter) GetMethod() string {
	return a.c.Request.Method
}

func (a *ginAdapter) GetPath() string {
	return a.c.Request.URL.EscapedPath()
}

func (a *ginAdapter) GetURL() string {
	scheme := "http"
	if a.c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.c.Request.Host + a.c.Request.URL.EscapedPath()
}

func (a *ginAdapter) GetAcceptHeader() string {
	return a.c.GetHeader("Accept")
}

func (a *ginAdapter) GetUserAgent() string {
	return a.c.Request.UserAgent()
}

// PaymentMiddleware guards routes with the payment flow. Verified payments
// run the handler against a buffered writer and settle afterwards, so the
// payer is never charged for a handler failure and the receipt header lands
// before the response body.
func PaymentMiddleware(service *x402http.ResourceService, paywallConfig *x402http.PaywallConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		adapter := &ginAdapter{c: c}
		result := service.ProcessHTTPRequest(c.Request.Context(), x402http.HTTPRequestContext{
			Adapter: adapter,
			Path:    adapter.GetPath(),
			Method:  c.Request.Method,
		}, paywallConfig)

		switch result.Type {
		case x402http.ResultNoPaymentRequired, x402http.ResultBypass:
			c.Next()

		case x402http.ResultPaymentError:
			writeResponse(c, result.Response)
			c.Abort()

		case x402http.ResultPaymentVerified:
			writer := &responseWriter{
				ResponseWriter: c.Writer,
				body:           &strings.Builder{},
				statusCode:     http.StatusOK,
			}
			c.Writer = writer

			c.Next()

			if c.IsAborted() {
				c.Writer = writer.ResponseWriter
				c.Writer.WriteHeader(writer.statusCode)
				c.Writer.Write([]byte(writer.body.String()))
				return
			}

			headers, err := service.ProcessSettlement(
				c.Request.Context(),
				*result.PaymentPayload,
				*result.PaymentRequirements,
				writer.statusCode,
			)
			if err != nil {
				c.Writer = writer.ResponseWriter
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
					"error": "Settlement failed: " + err.Error(),
				})
				return
			}

			for k, v := range headers {
				c.Header(k, v)
			}

			c.Writer = writer.ResponseWriter
			c.Writer.WriteHeader(writer.statusCode)
			c.Writer.Write([]byte(writer.body.String()))
		}
	}
}

func writeResponse(c *gin.Context, response *x402http.Response) {
	if response == nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	for k, v := range response.Headers {
		c.Header(k, v)
	}

	switch body := response.Body.(type) {
	case nil:
		c.Status(response.Status)
	case string:
		contentType := response.Headers["Content-Type"]
		if contentType == "" {
			contentType = "text/plain"
		}
		c.Data(response.Status, contentType, []byte(body))
	case []byte:
		contentType := response.Headers["Content-Type"]
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(response.Status, contentType, body)
	default:
		c.JSON(response.Status, body)
	}
}

// responseWriter captures handler output until settlement completes.
type responseWriter struct {
	gin.ResponseWriter
	body       *strings.Builder
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return len(b), nil
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}
