package evm

import "math/big"

const (
	// SchemeExact is the exact-amount payment scheme identifier.
	SchemeExact = "exact"

	// DefaultDecimals is the decimal count of the default stablecoins.
	DefaultDecimals = 6

	// DefaultValidityPeriod bounds how long a signed authorization stays
	// valid, in seconds.
	DefaultValidityPeriod = 3600

	// Permit2Address is the canonical Uniswap Permit2 contract. The same
	// address exists on every EVM chain via CREATE2 deployment.
	Permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"
)

var (
	// ChainIDBase and ChainIDBaseSepolia are the supported chain IDs.
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
)

// AssetInfo describes a payment asset and its EIP-712 signing domain.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig is the per-network configuration.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// NetworkConfigs maps CAIP-2 network identifiers (and their legacy v1
// aliases) to their configuration. Each chain's default stablecoin is the
// asset used when a route declares a bare money price.
var NetworkConfigs = map[string]NetworkConfig{
	"eip155:8453": {
		ChainID: ChainIDBase,
		DefaultAsset: AssetInfo{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC on Base
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
	},
	"base": {
		ChainID: ChainIDBase,
		DefaultAsset: AssetInfo{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
	},
	"eip155:84532": {
		ChainID: ChainIDBaseSepolia,
		DefaultAsset: AssetInfo{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e", // USDC on Base Sepolia
			Name:     "USDC",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
	},
	"base-sepolia": {
		ChainID: ChainIDBaseSepolia,
		DefaultAsset: AssetInfo{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:     "USDC",
			Version:  "2",
			Decimals: DefaultDecimals,
		},
	},
}

// GetNetworkConfig resolves a network identifier, accepting both CAIP-2
// names and legacy v1 aliases.
func GetNetworkConfig(network string) (NetworkConfig, bool) {
	config, ok := NetworkConfigs[network]
	return config, ok
}
