// Package bridge implements the cross-chain bridging subsystem: the
// BridgeProvider capability interface (C7), the durable job store (C9),
// and the background worker that drives jobs to completion (C8).
package bridge

import "context"

// Result is returned by a successful Provider.Bridge call. DestinationTxHash
// may be empty if the mint had not confirmed by the time Bridge returned;
// the worker reconciles this asynchronously.
type Result struct {
	BridgeTxHash      string
	DestinationTxHash string
	MessageID         string
	SourceChain       string
	DestChain         string
}

// Provider abstracts the opaque burn-and-mint USDC bridge network. The
// facilitator core never talks to a bridge network directly — only
// through this interface — so the bridge vendor can be swapped without
// touching the orchestrator or worker.
type Provider interface {
	SupportsChain(network string) bool
	IsUSDC(assetAddress, network string) bool
	CheckLiquidity(ctx context.Context, source, dest, asset, amount string) (bool, error)
	GetExchangeRate(ctx context.Context, source, dest, sourceAsset, destAsset string) (float64, error)
	Bridge(ctx context.Context, source, sourceTxHash, dest, destAsset, amount, recipient string) (*Result, error)
	// CheckMintStatus polls the destination chain for the mint a prior
	// Bridge call's messageID triggers. done is false with no error while
	// the attestation/mint is still outstanding; destinationTxHash is only
	// meaningful once done is true (I4).
	CheckMintStatus(ctx context.Context, destNetwork, messageID string) (destinationTxHash string, done bool, err error)
}
