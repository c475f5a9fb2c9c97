// Package echo provides payment middleware for the Echo web framework.
package echo

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"

	x402http "github.com/x402labs/x402-go/http"
)

// echoAdapter adapts an echo request to the service's transport interface.
type echoAdapter struct {
	c echo.Context
}

func (a *echoAdapter) GetHeader(name string) string {
	return a.c.Request().Header.Get(name)
}

func (a *echoAdapter) GetMethod() string {
	return a.c.Request().Method
}

func (a *echoAdapter) GetPath() string {
	return a.c.Request().URL.EscapedPath()
}

func (a *echoAdapter) GetURL() string {
	request := a.c.Request()
	scheme := "http"
	if request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + request.Host + request.URL.EscapedPath()
}

func (a *echoAdapter) GetAcceptHeader() string {
	return a.c.Request().Header.Get("Accept")
}

func (a *echoAdapter) GetUserAgent() string {
	return a.c.Request().UserAgent()
}

// PaymentMiddleware guards routes with the payment flow. Handler output for
// verified payments is buffered so settlement runs first and its receipt
// header precedes the body.
func PaymentMiddleware(service *x402http.ResourceService, paywallConfig *x402http.PaywallConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			adapter := &echoAdapter{c: c}
			result := service.ProcessHTTPRequest(c.Request().Context(), x402http.HTTPRequestContext{
				Adapter: adapter,
				Path:    adapter.GetPath(),
				Method:  c.Request().Method,
			}, paywallConfig)

			switch result.Type {
			case x402http.ResultNoPaymentRequired, x402http.ResultBypass:
				return next(c)

			case x402http.ResultPaymentError:
				return writeResponse(c, result.Response)

			case x402http.ResultPaymentVerified:
				original := c.Response().Writer
				buffer := &bufferedWriter{
					ResponseWriter: original,
					statusCode:     http.StatusOK,
				}
				c.Response().Writer = buffer

				handlerErr := next(c)

				c.Response().Writer = original
				if handlerErr != nil {
					return handlerErr
				}

				headers, err := service.ProcessSettlement(
					c.Request().Context(),
					*result.PaymentPayload,
					*result.PaymentRequirements,
					buffer.statusCode,
				)
				if err != nil {
					// The handler already committed the response into the
					// buffer; reset so the 402 can replace its output.
					c.Response().Committed = false
					c.Response().Status = http.StatusPaymentRequired
					return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
						"error": "Settlement failed: " + err.Error(),
					})
				}

				for k, v := range headers {
					c.Response().Header().Set(k, v)
				}

				original.WriteHeader(buffer.statusCode)
				original.Write(buffer.body.Bytes())
				return nil
			}

			return nil
		}
	}
}

func writeResponse(c echo.Context, response *x402http.Response) error {
	if response == nil {
		return c.NoContent(http.StatusInternalServerError)
	}

	for k, v := range response.Headers {
		c.Response().Header().Set(k, v)
	}

	switch body := response.Body.(type) {
	case nil:
		return c.NoContent(response.Status)
	case string:
		if response.IsHTML {
			return c.HTML(response.Status, body)
		}
		return c.String(response.Status, body)
	case []byte:
		return c.Blob(response.Status, response.Headers["Content-Type"], body)
	default:
		return c.JSON(response.Status, body)
	}
}

// bufferedWriter captures handler output until settlement completes.
type bufferedWriter struct {
	http.ResponseWriter
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}
