package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/MarcoBrian/RailBridge/mechanisms/evm"
	"github.com/ethereum/go-ethereum/common"
)

// burnAndMintABI is the minimal interface a burn-and-mint USDC bridge
// contract (e.g. Circle's CCTP TokenMessenger, or a LayerZero OFT adapter)
// exposes for initiating a cross-chain transfer. Field names follow the
// CCTP TokenMessenger shape since that is the dominant burn-and-mint USDC
// bridge in production.
var burnAndMintABI = []byte(`[
	{
		"inputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "destinationDomain", "type": "uint32"},
			{"name": "mintRecipient", "type": "bytes32"},
			{"name": "burnToken", "type": "address"}
		],
		"name": "depositForBurn",
		"outputs": [{"name": "nonce", "type": "uint64"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// mintStatusABI exposes the destination-side lookup a burn's message id
// resolves to once the bridge network's attestation has landed and the
// mint has been submitted. FacilitatorEvmSigner.ReadContract only ever
// returns a call's first decoded output, so this is modeled as a single
// bytes32 return rather than a (bool, bytes32) pair: the zero hash means
// "not yet minted", any other value is the destination mint tx hash.
var mintStatusABI = []byte(`[
	{
		"inputs": [{"name": "messageHash", "type": "bytes32"}],
		"name": "mintTransactionHash",
		"outputs": [{"name": "", "type": "bytes32"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// PartialBridgeError reports that a burn transaction was actually
// submitted on-chain even though Bridge could not confirm it this call —
// BridgeTxHash must be persisted against the job before any retry, or the
// retry will submit a second depositForBurn against the same job.
type PartialBridgeError struct {
	BridgeTxHash string
	Err          error
}

func (e *PartialBridgeError) Error() string { return e.Err.Error() }
func (e *PartialBridgeError) Unwrap() error { return e.Err }

// DomainConfig is the per-network bridge contract and CCTP-style domain id.
type DomainConfig struct {
	ChainID       *big.Int
	Domain        uint32
	BridgeAddress string
}

// BurnAndMintProvider is a Provider implementation over a single
// burn-and-mint contract deployed on each supported chain, driven through
// the same FacilitatorEvmSigner facade the payment scheme uses.
type BurnAndMintProvider struct {
	signers map[string]evm.FacilitatorEvmSigner // network -> signer
	domains map[string]DomainConfig
}

// NewBurnAndMintProvider constructs a provider bound to a signer per
// network and the bridge contract addresses/domain ids those signers
// should target.
func NewBurnAndMintProvider(signers map[string]evm.FacilitatorEvmSigner, domains map[string]DomainConfig) *BurnAndMintProvider {
	return &BurnAndMintProvider{signers: signers, domains: domains}
}

// NewDomainConfig is a convenience constructor for callers in cmd/facilitator.
func NewDomainConfig(chainID *big.Int, domain uint32, bridgeAddress string) DomainConfig {
	return DomainConfig{ChainID: chainID, Domain: domain, BridgeAddress: bridgeAddress}
}

func (p *BurnAndMintProvider) SupportsChain(network string) bool {
	_, ok := p.domains[network]
	return ok
}

func (p *BurnAndMintProvider) IsUSDC(assetAddress, network string) bool {
	return IsAllowlistedUSDC(assetAddress, network)
}

// CheckLiquidity returns true for any pair of supported chains: burning on
// the source chain and minting on the destination chain does not draw
// down a shared liquidity pool (unlike a lock-and-release bridge), so
// the only check is that both chains have a configured domain. An
// unsupported chain yields false with an error.
func (p *BurnAndMintProvider) CheckLiquidity(ctx context.Context, source, dest, asset, amount string) (bool, error) {
	if !p.SupportsChain(source) || !p.SupportsChain(dest) {
		return false, fmt.Errorf("unsupported chain pair %s -> %s", source, dest)
	}
	return true, nil
}

// GetExchangeRate is always 1.0: USDC-in to USDC-out via burn-and-mint,
// per §4.7.
func (p *BurnAndMintProvider) GetExchangeRate(ctx context.Context, source, dest, sourceAsset, destAsset string) (float64, error) {
	return 1.0, nil
}

// Bridge submits a depositForBurn call on the source chain. The mint is
// confirmed off-chain by the bridge network's attestation service;
// DestinationTxHash is left empty here and reconciled later by the worker.
func (p *BurnAndMintProvider) Bridge(ctx context.Context, source, sourceTxHash, dest, destAsset, amount, recipient string) (*Result, error) {
	signer, ok := p.signers[source]
	if !ok {
		return nil, fmt.Errorf("no bridge signer configured for %s", source)
	}
	destCfg, ok := p.domains[dest]
	if !ok {
		return nil, fmt.Errorf("no bridge domain configured for %s", dest)
	}
	sourceCfg, ok := p.domains[source]
	if !ok {
		return nil, fmt.Errorf("no bridge domain configured for %s", source)
	}

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", amount)
	}

	mintRecipient := addressToBytes32(recipient)
	txHash, err := signer.WriteContract(ctx, sourceCfg.BridgeAddress, burnAndMintABI, "depositForBurn",
		value, destCfg.Domain, mintRecipient, common.HexToAddress(destAsset))
	if err != nil {
		return nil, fmt.Errorf("depositForBurn: %w", err)
	}

	receipt, err := signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		// The burn was already submitted even though confirming it failed;
		// callers must record BridgeTxHash before retrying so a retry never
		// resubmits depositForBurn.
		return nil, &PartialBridgeError{BridgeTxHash: txHash, Err: fmt.Errorf("wait for burn receipt: %w", err)}
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, fmt.Errorf("burn transaction %s reverted", txHash)
	}

	return &Result{
		BridgeTxHash: txHash,
		SourceChain:  source,
		DestChain:    dest,
		MessageID:    txHash,
	}, nil
}

func addressToBytes32(address string) [32]byte {
	var out [32]byte
	addr := common.HexToAddress(address)
	copy(out[12:], addr.Bytes())
	return out
}

// CheckMintStatus looks up the destination chain's record of the mint
// triggered by the burn identified by messageID (the burn's own tx hash,
// per Bridge's MessageID assignment). A zero mintTransactionHash means
// the attestation/mint has not landed yet.
func (p *BurnAndMintProvider) CheckMintStatus(ctx context.Context, destNetwork, messageID string) (string, bool, error) {
	signer, ok := p.signers[destNetwork]
	if !ok {
		return "", false, fmt.Errorf("no bridge signer configured for %s", destNetwork)
	}
	destCfg, ok := p.domains[destNetwork]
	if !ok {
		return "", false, fmt.Errorf("no bridge domain configured for %s", destNetwork)
	}

	result, err := signer.ReadContract(ctx, destCfg.BridgeAddress, mintStatusABI, "mintTransactionHash", messageIDToBytes32(messageID))
	if err != nil {
		return "", false, fmt.Errorf("mintTransactionHash: %w", err)
	}
	hash, ok := result.([32]byte)
	if !ok {
		return "", false, fmt.Errorf("unexpected mintTransactionHash result type %T", result)
	}
	if hash == ([32]byte{}) {
		return "", false, nil
	}
	return common.BytesToHash(hash[:]).Hex(), true, nil
}

func messageIDToBytes32(messageID string) [32]byte {
	var out [32]byte
	b := common.FromHex(messageID)
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}
