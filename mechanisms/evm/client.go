package evm

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/x402labs/x402-go"
)

var _ x402.SchemeNetworkClient = (*ExactEvmClient)(nil)

// ExactEvmClient is the payer side of the exact scheme on EVM networks. It
// builds and signs EIP-3009 authorizations for the advertised requirements.
type ExactEvmClient struct {
	signer ClientSigner
}

// NewExactEvmClient creates a client-side exact EVM scheme.
func NewExactEvmClient(signer ClientSigner) *ExactEvmClient {
	return &ExactEvmClient{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *ExactEvmClient) Scheme() string {
	return SchemeExact
}

// CreatePaymentPayload signs an EIP-3009 authorization for the selected
// requirements. The payment client layers on the version-specific envelope.
func (c *ExactEvmClient) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
) (x402.PaymentPayload, error) {
	config, ok := GetNetworkConfig(string(requirements.Network))
	if !ok {
		return x402.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return x402.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := createNonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	validAfter, validBefore := createValidityWindow(DefaultValidityPeriod * time.Second)

	// Signing domain comes from the requirements when the server pinned it,
	// falling back to the network default asset.
	tokenName := config.DefaultAsset.Name
	tokenVersion := config.DefaultAsset.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if v, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = v
		}
	}

	authorization := EIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	signature, err := c.signAuthorization(ctx, authorization, config.ChainID, requirements.Asset, tokenName, tokenVersion)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	payloadMap, err := ToMap(NewEIP3009Payload(hexutil.Encode(signature), authorization))
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	return x402.PaymentPayload{
		X402Version: version,
		Payload:     payloadMap,
	}, nil
}

func (c *ExactEvmClient) signAuthorization(
	ctx context.Context,
	authorization EIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName, tokenVersion string,
) ([]byte, error) {
	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	types := map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, err := hexutil.Decode(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return c.signer.SignTypedData(ctx, domain, types, "TransferWithAuthorization", message)
}

// createNonce produces a random 32-byte nonce as a hex string.
func createNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(nonce), nil
}

// createValidityWindow returns the [validAfter, validBefore] bounds for an
// authorization signed now.
func createValidityWindow(validity time.Duration) (*big.Int, *big.Int) {
	now := time.Now()
	validAfter := big.NewInt(now.Add(-10 * time.Second).Unix())
	validBefore := big.NewInt(now.Add(validity).Unix())
	return validAfter, validBefore
}
