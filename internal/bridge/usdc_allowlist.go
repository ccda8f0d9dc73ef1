package bridge

import "strings"

// usdcAllowlist is a strict per-network allowlist of canonical USDC
// contract addresses. Resolved Open Question: isUSDC is strict, not
// permissive — an address not on this list is never treated as USDC, even
// if it behaves like an ERC-20 with 6 decimals. Mirrors the addresses in
// mechanisms/evm's NetworkConfigs so the two can't silently drift; kept
// separate because the allowlist is a bridge-layer policy, not a scheme
// concern.
var usdcAllowlist = map[string]string{
	"eip155:1":        "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	"eip155:11155111": "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
	"eip155:8453":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"eip155:84532":    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	"eip155:137":      "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	"eip155:42161":    "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
}

// IsAllowlistedUSDC reports whether address is the canonical USDC contract
// on network.
func IsAllowlistedUSDC(address, network string) bool {
	canonical, ok := usdcAllowlist[network]
	if !ok {
		return false
	}
	return strings.EqualFold(address, canonical)
}

// SupportedNetworks lists every network the allowlist (and therefore the
// default BridgeProvider) recognizes.
func SupportedNetworks() []string {
	out := make([]string, 0, len(usdcAllowlist))
	for n := range usdcAllowlist {
		out = append(out, n)
	}
	return out
}
