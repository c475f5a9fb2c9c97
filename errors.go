package x402

import "fmt"

// PaymentError represents a payment-specific error.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidPayment     = "invalid_payment"
	ErrCodePaymentRequired    = "payment_required"
	ErrCodeMalformedHeader    = "malformed_payment_header"
	ErrCodeMalformedPath      = "malformed_request_path"
	ErrCodeNoDefaultAsset     = "no_default_asset"
	ErrCodeInvalidMoneyFormat = "invalid_money_format"
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeUnsupportedScheme  = "unsupported_scheme"
	ErrCodeUnsupportedNetwork = "unsupported_network"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{Code: code, Message: message, Details: details}
}

// VerifyError is raised when a facilitator rejects a payment with a
// well-formed negative verdict. Distinct from transport failures, which
// surface as plain errors.
type VerifyError struct {
	Reason     string
	Message    string
	Payer      string
	StatusCode int
}

func (e *VerifyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("verification failed: %s (%s)", e.Reason, e.Message)
	}
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

// NewVerifyError creates a VerifyError from a facilitator verdict.
func NewVerifyError(reason, payer, message string, statusCode int) *VerifyError {
	return &VerifyError{Reason: reason, Payer: payer, Message: message, StatusCode: statusCode}
}

// SettleError is raised when a facilitator rejects settlement with a
// well-formed negative verdict.
type SettleError struct {
	Reason      string
	Message     string
	Payer       string
	Network     Network
	Transaction string
	StatusCode  int
}

func (e *SettleError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("settlement failed: %s (%s)", e.Reason, e.Message)
	}
	return fmt.Sprintf("settlement failed: %s", e.Reason)
}

// NewSettleError creates a SettleError from a facilitator verdict.
func NewSettleError(reason, payer string, network Network, transaction, message string, statusCode int) *SettleError {
	return &SettleError{
		Reason:      reason,
		Message:     message,
		Payer:       payer,
		Network:     network,
		Transaction: transaction,
		StatusCode:  statusCode,
	}
}
