// Package evm implements the exact payment scheme for EVM networks
// (eip155:*). Transfers use EIP-3009 transferWithAuthorization for
// compatible stablecoins, or Permit2 with a witness for any other ERC-20.
package evm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402labs/x402-go"
)

var _ x402.SchemeNetworkServer = (*ExactEvmScheme)(nil)

// ExactEvmScheme is the server side of the exact scheme on EVM networks.
type ExactEvmScheme struct {
	moneyParsers []x402.MoneyParser
}

// NewExactEvmScheme creates the server-side exact EVM scheme.
func NewExactEvmScheme() *ExactEvmScheme {
	return &ExactEvmScheme{}
}

// RegisterMoneyParser appends a custom money parser. Parsers run in
// registration order; the per-network default stablecoin conversion is the
// final fallback.
func (s *ExactEvmScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactEvmScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// Scheme returns the scheme identifier.
func (s *ExactEvmScheme) Scheme() string {
	return SchemeExact
}

// ParsePrice resolves a route's declared price for a network. An
// AssetAmount passes through as-is; money values run through the parser
// chain and fall back to the network's default stablecoin, scaled exactly
// to its decimals.
func (s *ExactEvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return x402.ResolvePrice(price, network, s.moneyParsers, s.defaultMoneyConversion)
}

func (s *ExactEvmScheme) defaultMoneyConversion(decimal string, network x402.Network) (x402.AssetAmount, error) {
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
			"name":    asset.Name,
			"version": asset.Version,
		},
	}, nil
}

// EnhancePaymentRequirements fills in the EIP-712 signing domain metadata
// for the requirement's asset and copies through any facilitator extension
// extras the facilitator advertised. Values already present are kept, the
// route author may have pinned exact ones.
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	extensionKeys []string,
) (x402.PaymentRequirements, error) {
	config, ok := GetNetworkConfig(string(requirements.Network))
	if !ok {
		return requirements, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork,
			fmt.Sprintf("unsupported EVM network: %s", requirements.Network), nil)
	}

	if requirements.Asset == "" {
		requirements.Asset = config.DefaultAsset.Address
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	if strings.EqualFold(requirements.Asset, config.DefaultAsset.Address) {
		if _, ok := requirements.Extra["name"]; !ok {
			requirements.Extra["name"] = config.DefaultAsset.Name
		}
		if _, ok := requirements.Extra["version"]; !ok {
			requirements.Extra["version"] = config.DefaultAsset.Version
		}
	}

	if supportedKind.Extra != nil {
		for _, key := range extensionKeys {
			if value, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = value
			}
		}
	}

	return requirements, nil
}

// ValidatePayload checks the tagged inner payload's shape and addresses
// before any facilitator round trip.
func (s *ExactEvmScheme) ValidatePayload(payload x402.PaymentPayload) error {
	decoded, err := DecodePayload(payload.Payload)
	if err != nil {
		return err
	}

	switch decoded.Type {
	case PayloadTypeEIP3009:
		return validateEIP3009(decoded.EIP3009)
	case PayloadTypePermit2:
		return validatePermit2(decoded.Permit2)
	}
	return fmt.Errorf("unsupported payload type: %s", decoded.Type)
}

func validateEIP3009(payload *EIP3009Payload) error {
	if payload.Signature == "" {
		return fmt.Errorf("eip3009 payload missing signature")
	}

	auth := payload.Authorization
	if !common.IsHexAddress(auth.From) {
		return fmt.Errorf("invalid from address: %s", auth.From)
	}
	if !common.IsHexAddress(auth.To) {
		return fmt.Errorf("invalid to address: %s", auth.To)
	}
	if auth.Value == "" || auth.ValidAfter == "" || auth.ValidBefore == "" {
		return fmt.Errorf("eip3009 authorization incomplete")
	}
	if auth.Nonce == "" {
		return fmt.Errorf("eip3009 authorization missing nonce")
	}
	return nil
}

func validatePermit2(payload *Permit2Payload) error {
	if payload.Signature == "" {
		return fmt.Errorf("permit2 payload missing signature")
	}

	auth := payload.Permit2Authorization
	if !common.IsHexAddress(auth.From) {
		return fmt.Errorf("invalid from address: %s", auth.From)
	}
	if !common.IsHexAddress(auth.Spender) {
		return fmt.Errorf("invalid spender address: %s", auth.Spender)
	}
	if !common.IsHexAddress(auth.Permitted.Token) {
		return fmt.Errorf("invalid token address: %s", auth.Permitted.Token)
	}
	if !common.IsHexAddress(auth.Witness.To) {
		return fmt.Errorf("invalid witness destination: %s", auth.Witness.To)
	}
	if auth.Nonce == "" || auth.Deadline == "" {
		return fmt.Errorf("permit2 authorization incomplete")
	}
	return nil
}
