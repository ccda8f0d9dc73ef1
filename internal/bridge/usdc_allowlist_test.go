package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowlistedUSDC(t *testing.T) {
	assert.True(t, IsAllowlistedUSDC("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "eip155:1"))
	assert.True(t, IsAllowlistedUSDC("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "eip155:1"), "match is case-insensitive")
	assert.False(t, IsAllowlistedUSDC("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "eip155:137"), "wrong network")
	assert.False(t, IsAllowlistedUSDC("0xdeadbeef", "eip155:1"), "wrong address")
	assert.False(t, IsAllowlistedUSDC("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "eip155:999999"), "unknown network")
}

func TestSupportedNetworksCoversAllowlist(t *testing.T) {
	networks := SupportedNetworks()
	assert.Len(t, networks, 6)
	assert.Contains(t, networks, "eip155:1")
	assert.Contains(t, networks, "eip155:8453")
}
