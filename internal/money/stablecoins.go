// Package money recognizes the stablecoin assets tools are priced in.
// Pricing entries carry a raw asset address per network; this registry
// turns the well-known ones back into a human-readable symbol.
package money

import "strings"

// knownStablecoins maps network -> asset address -> symbol. EVM
// addresses are stored lowercase; Solana mints are case-sensitive.
var knownStablecoins = map[string]map[string]string{
	"base": {
		"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": "USDC",
	},
	"base-sepolia": {
		"0x036cbd53842c5426634e7929541ec2318f3dcf7e": "USDC",
	},
	"ethereum": {
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": "USDC",
		"0xdac17f958d2ee523a2206206994597c13d831ec7": "USDT",
	},
	"solana": {
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
		"2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo": "PYUSD",
	},
}

// Symbol returns the stablecoin symbol for a pricing asset, or the
// empty string when the asset is not a recognized stablecoin.
func Symbol(network, asset string) string {
	assets, ok := knownStablecoins[network]
	if !ok {
		return ""
	}
	if strings.HasPrefix(asset, "0x") {
		asset = strings.ToLower(asset)
	}
	return assets[asset]
}

// IsStablecoin reports whether the asset is a recognized stablecoin on
// the given network.
func IsStablecoin(network, asset string) bool {
	return Symbol(network, asset) != ""
}
