package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
)

// PayloadType discriminates the inner payload variants of the exact EVM
// scheme. Every payload carries its type tag explicitly; dispatch never
// sniffs for the presence of variant-specific fields.
type PayloadType string

const (
	// PayloadTypeEIP3009 transfers via transferWithAuthorization (USDC
	// and other EIP-3009 tokens).
	PayloadTypeEIP3009 PayloadType = "eip3009"

	// PayloadTypePermit2 transfers any ERC-20 via Permit2 with a witness.
	PayloadTypePermit2 PayloadType = "permit2"
)

// EIP3009Authorization is the transferWithAuthorization message.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"` // 32-byte hex
}

// EIP3009Payload is the signed EIP-3009 variant.
type EIP3009Payload struct {
	Type          PayloadType          `json:"type"`
	Signature     string               `json:"signature"`
	Authorization EIP3009Authorization `json:"authorization"`
}

// Permit2TokenPermissions names the permitted token and amount.
type Permit2TokenPermissions struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Permit2Witness is the witness data verified on-chain by the transfer
// proxy. The upper time bound lives in Permit2's own deadline field.
type Permit2Witness struct {
	To         string `json:"to"`
	ValidAfter string `json:"validAfter"`
	Extra      string `json:"extra"`
}

// Permit2Authorization maps to the PermitWitnessTransferFrom struct.
type Permit2Authorization struct {
	From      string                  `json:"from"`
	Permitted Permit2TokenPermissions `json:"permitted"`
	Spender   string                  `json:"spender"`
	Nonce     string                  `json:"nonce"`
	Deadline  string                  `json:"deadline"`
	Witness   Permit2Witness          `json:"witness"`
}

// Permit2Payload is the signed Permit2 variant.
type Permit2Payload struct {
	Type                 PayloadType          `json:"type"`
	Signature            string               `json:"signature"`
	Permit2Authorization Permit2Authorization `json:"permit2Authorization"`
}

// NewEIP3009Payload tags an EIP-3009 payload with its variant.
func NewEIP3009Payload(signature string, authorization EIP3009Authorization) EIP3009Payload {
	return EIP3009Payload{
		Type:          PayloadTypeEIP3009,
		Signature:     signature,
		Authorization: authorization,
	}
}

// NewPermit2Payload tags a Permit2 payload with its variant.
func NewPermit2Payload(signature string, authorization Permit2Authorization) Permit2Payload {
	return Permit2Payload{
		Type:                 PayloadTypePermit2,
		Signature:            signature,
		Permit2Authorization: authorization,
	}
}

// DecodedPayload is the result of decoding a scheme payload map; exactly
// one variant pointer is set, matching Type.
type DecodedPayload struct {
	Type    PayloadType
	EIP3009 *EIP3009Payload
	Permit2 *Permit2Payload
}

// DecodePayload parses the scheme-defined inner payload map into its tagged
// variant. An unknown or missing type tag is an error; there is no
// fallback dispatch on field shape.
func DecodePayload(data map[string]interface{}) (DecodedPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return DecodedPayload{}, fmt.Errorf("invalid payload: %w", err)
	}

	var tag struct {
		Type PayloadType `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return DecodedPayload{}, fmt.Errorf("invalid payload: %w", err)
	}

	switch tag.Type {
	case PayloadTypeEIP3009:
		var payload EIP3009Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return DecodedPayload{}, fmt.Errorf("invalid eip3009 payload: %w", err)
		}
		return DecodedPayload{Type: tag.Type, EIP3009: &payload}, nil

	case PayloadTypePermit2:
		var payload Permit2Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return DecodedPayload{}, fmt.Errorf("invalid permit2 payload: %w", err)
		}
		return DecodedPayload{Type: tag.Type, Permit2: &payload}, nil

	case "":
		return DecodedPayload{}, fmt.Errorf("payload missing type tag")

	default:
		return DecodedPayload{}, fmt.Errorf("unsupported payload type: %s", tag.Type)
	}
}

// TypedDataDomain is the EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField is one field of an EIP-712 type.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ClientSigner signs EIP-712 typed data on behalf of the payer.
type ClientSigner interface {
	// Address returns the signer's Ethereum address.
	Address() string

	// SignTypedData signs EIP-712 typed data.
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// ToMap converts a tagged payload into the generic map carried inside
// PaymentPayload.
func ToMap(payload interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
