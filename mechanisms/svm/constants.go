package svm

const (
	// SchemeExact is the exact-amount payment scheme identifier.
	SchemeExact = "exact"

	// DefaultDecimals is the decimal count of USDC SPL mints.
	DefaultDecimals = 6

	// CAIP-2 network identifiers (genesis hash prefixes).
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// AssetInfo describes an SPL token mint.
type AssetInfo struct {
	Address  string
	Name     string
	Decimals int
}

// NetworkConfig is the per-network configuration.
type NetworkConfig struct {
	CAIP2        string
	DefaultAsset AssetInfo
}

// NetworkConfigs maps CAIP-2 identifiers (and legacy v1 aliases) to their
// configuration. USDC is the default asset on each network.
var NetworkConfigs = map[string]NetworkConfig{
	SolanaMainnetCAIP2: {
		CAIP2: SolanaMainnetCAIP2,
		DefaultAsset: AssetInfo{
			Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
			Name:     "USDC",
			Decimals: DefaultDecimals,
		},
	},
	"solana": {
		CAIP2: SolanaMainnetCAIP2,
		DefaultAsset: AssetInfo{
			Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Name:     "USDC",
			Decimals: DefaultDecimals,
		},
	},
	SolanaDevnetCAIP2: {
		CAIP2: SolanaDevnetCAIP2,
		DefaultAsset: AssetInfo{
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", // USDC devnet
			Name:     "USDC",
			Decimals: DefaultDecimals,
		},
	},
	"solana-devnet": {
		CAIP2: SolanaDevnetCAIP2,
		DefaultAsset: AssetInfo{
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Name:     "USDC",
			Decimals: DefaultDecimals,
		},
	},
}

// GetNetworkConfig resolves a network identifier, accepting both CAIP-2
// names and legacy aliases.
func GetNetworkConfig(network string) (NetworkConfig, bool) {
	config, ok := NetworkConfigs[network]
	return config, ok
}
