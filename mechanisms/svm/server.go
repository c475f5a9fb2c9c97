// Package svm implements the exact payment scheme for Solana networks
// (solana:*). Payments are SPL Token TransferChecked instructions inside a
// client-signed transaction; the facilitator co-signs as fee payer and
// submits it.
package svm

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/x402labs/x402-go"
)

var _ x402.SchemeNetworkServer = (*ExactSvmScheme)(nil)

// ExactSvmScheme is the server side of the exact scheme on Solana networks.
type ExactSvmScheme struct {
	moneyParsers []x402.MoneyParser
}

// NewExactSvmScheme creates the server-side exact SVM scheme.
func NewExactSvmScheme() *ExactSvmScheme {
	return &ExactSvmScheme{}
}

// RegisterMoneyParser appends a custom money parser, tried in registration
// order ahead of the default USDC conversion.
func (s *ExactSvmScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactSvmScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// Scheme returns the scheme identifier.
func (s *ExactSvmScheme) Scheme() string {
	return SchemeExact
}

// ParsePrice resolves a route's declared price for a network.
func (s *ExactSvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return x402.ResolvePrice(price, network, s.moneyParsers, s.defaultMoneyConversion)
}

func (s *ExactSvmScheme) defaultMoneyConversion(decimal string, network x402.Network) (x402.AssetAmount, error) {
	config, ok := GetNetworkConfig(string(network))
	if !ok {
		return x402.AssetAmount{}, x402.NewPaymentError(x402.ErrCodeNoDefaultAsset,
			fmt.Sprintf("no default asset for network %s", network), nil)
	}

	asset := config.DefaultAsset
	return x402.AssetAmount{
		Amount: x402.ScaleDecimal(decimal, asset.Decimals),
		Asset:  asset.Address,
		Extra: map[string]interface{}{
			"name": asset.Name,
		},
	}, nil
}

// EnhancePaymentRequirements fills in the default mint when the route named
// none and copies the facilitator's fee payer into the requirements so the
// client can build a transaction the facilitator will co-sign.
func (s *ExactSvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	extensionKeys []string,
) (x402.PaymentRequirements, error) {
	config, ok := GetNetworkConfig(string(requirements.Network))
	if !ok {
		return requirements, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork,
			fmt.Sprintf("unsupported Solana network: %s", requirements.Network), nil)
	}

	if requirements.Asset == "" {
		requirements.Asset = config.DefaultAsset.Address
	}
	if _, err := solana.PublicKeyFromBase58(requirements.Asset); err != nil {
		return requirements, fmt.Errorf("invalid asset mint %s: %w", requirements.Asset, err)
	}
	if _, err := solana.PublicKeyFromBase58(requirements.PayTo); err != nil {
		return requirements, fmt.Errorf("invalid payTo address %s: %w", requirements.PayTo, err)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	if supportedKind.Extra != nil {
		if feePayer, ok := supportedKind.Extra["feePayer"]; ok {
			requirements.Extra["feePayer"] = feePayer
		}
		for _, key := range extensionKeys {
			if value, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = value
			}
		}
	}

	return requirements, nil
}

// ValidatePayload checks that the inner payload carries a decodable signed
// transaction before the facilitator is contacted.
func (s *ExactSvmScheme) ValidatePayload(payload x402.PaymentPayload) error {
	_, err := DecodeTransaction(payload.Payload)
	return err
}

// DecodeTransaction extracts and decodes the base64 transaction from the
// scheme payload.
func DecodeTransaction(payload map[string]interface{}) (*solana.Transaction, error) {
	encoded, ok := payload["transaction"].(string)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("svm payload missing transaction")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction encoding: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	if len(tx.Message.Instructions) == 0 {
		return nil, fmt.Errorf("transaction carries no instructions")
	}

	return tx, nil
}
