// Package facilitator implements the exact-evm payment scheme (C3): it
// verifies and settles EIP-3009 TransferWithAuthorization payloads signed
// over a reconstructed EIP-712 domain, and owns all domain-construction
// logic for the facilitator.
package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/MarcoBrian/RailBridge/mechanisms/evm"
	"github.com/MarcoBrian/RailBridge/types"
	"github.com/ethereum/go-ethereum/common"
)

// ExactEvmSchemeConfig toggles optional behavior of the scheme.
type ExactEvmSchemeConfig struct {
	// DeployERC4337WithEIP6492 allows settle to submit a smart-wallet
	// factory deployment transaction when the payload's signature is
	// ERC-6492-wrapped and the wallet has no code yet.
	DeployERC4337WithEIP6492 bool
}

// ExactEvmScheme is the facilitator-side implementation of scheme "exact"
// for EVM networks.
type ExactEvmScheme struct {
	signer evm.FacilitatorEvmSigner
	config *ExactEvmSchemeConfig
}

// NewExactEvmScheme constructs a scheme bound to a single chain signer.
func NewExactEvmScheme(signer evm.FacilitatorEvmSigner, config *ExactEvmSchemeConfig) *ExactEvmScheme {
	if config == nil {
		config = &ExactEvmSchemeConfig{}
	}
	return &ExactEvmScheme{signer: signer, config: config}
}

// Verify implements §4.3's verify operation.
func (s *ExactEvmScheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	if payload.Accepted.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return invalid(evm.ErrUnsupportedScheme), nil
	}
	if payload.Accepted.Network != requirements.Network {
		return invalid(evm.ErrNetworkMismatch), nil
	}

	exact, err := types.ExactEVMPayloadFromMap(payload.Payload)
	if err != nil || exact.Signature == "" {
		return invalid(evm.ErrInvalidSignature), nil
	}

	domainExtra, err := evm.ParseDomainExtra(requirements.Extra)
	if err != nil {
		return invalid(evm.ErrMissingEIP712Domain), nil
	}

	networkCfg, ok := evm.NetworkConfigs[requirements.Network]
	if !ok {
		return invalid(evm.ErrNetworkMismatch), nil
	}

	// 3. Recipient check.
	if !strings.EqualFold(exact.Authorization.To, requirements.PayTo) {
		return invalid(evm.ErrRecipientMismatch), nil
	}

	// 4. Temporal bounds.
	now := big.NewInt(time.Now().Unix())
	validBefore, ok := new(big.Int).SetString(exact.Authorization.ValidBefore, 10)
	if !ok {
		return invalid(evm.ErrValidBefore), nil
	}
	validAfter, ok := new(big.Int).SetString(exact.Authorization.ValidAfter, 10)
	if !ok {
		return invalid(evm.ErrValidAfter), nil
	}
	buffer := big.NewInt(evm.ValidBeforeBufferSeconds)
	if validBefore.Cmp(new(big.Int).Add(now, buffer)) <= 0 {
		return invalid(evm.ErrValidBefore), nil
	}
	if validAfter.Cmp(now) > 0 {
		return invalid(evm.ErrValidAfter), nil
	}

	// 6. Value sufficiency.
	value, ok := new(big.Int).SetString(exact.Authorization.Value, 10)
	if !ok {
		return invalid(evm.ErrInsufficientValue), nil
	}
	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalid(evm.ErrInsufficientValue), nil
	}
	if value.Cmp(amount) < 0 {
		return invalid(evm.ErrInsufficientValue), nil
	}

	// 1+2. Domain reconstruction and signature recovery.
	digest, err := s.buildDigest(ctx, domainExtra, networkCfg, requirements.Asset, exact)
	if err != nil {
		return invalid(evm.ErrDomainSeparatorMismatch), nil
	}
	sigBytes := common.FromHex(exact.Signature)
	valid, err := evm.VerifyUniversalSignature(ctx, s.signer, exact.Authorization.From, digest, sigBytes)
	if err != nil || !valid {
		return invalid(evm.ErrInvalidSignature), nil
	}

	// 5. Balance check — best-effort, does not fail verify on RPC error.
	if err := s.checkBalance(ctx, requirements.Asset, exact.Authorization.From, amount); err != nil {
		if err == errInsufficientFunds {
			return invalid(evm.ErrInsufficientFunds), nil
		}
		// RPC failure: ignore per §4.3 step 5.
	}

	// Nonce (authorization replay) check.
	used, err := s.checkNonceUsed(ctx, requirements.Asset, exact.Authorization.From, exact.Authorization.Nonce)
	if err == nil && used {
		return invalid(evm.ErrInvalidSignature), nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: exact.Authorization.From}, nil
}

var errInsufficientFunds = fmt.Errorf("insufficient funds")

func (s *ExactEvmScheme) checkBalance(ctx context.Context, asset, from string, amount *big.Int) error {
	balance, err := s.signer.GetBalance(ctx, from, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	return nil
}

func (s *ExactEvmScheme) checkNonceUsed(ctx context.Context, asset, authorizer, nonceHex string) (bool, error) {
	result, err := s.signer.ReadContract(ctx, asset, evm.AuthorizationStateABI, evm.FunctionAuthorizationState,
		common.HexToAddress(authorizer), toBytes32(nonceHex))
	if err != nil {
		return false, err
	}
	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected authorizationState result type %T", result)
	}
	return used, nil
}

// buildDigest reconstructs the EIP-712 domain separator and struct hash,
// verifying it against the token's on-chain DOMAIN_SEPARATOR() when the
// merchant did not pin an explicit domain override.
func (s *ExactEvmScheme) buildDigest(ctx context.Context, extra *evm.DomainExtra, networkCfg evm.NetworkConfig, asset string, exact *types.ExactEVMPayload) ([]byte, error) {
	from := common.HexToAddress(exact.Authorization.From)
	to := common.HexToAddress(exact.Authorization.To)
	value, _ := new(big.Int).SetString(exact.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(exact.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(exact.Authorization.ValidBefore, 10)
	nonce := toBytes32(exact.Authorization.Nonce)

	structHash := evm.AuthorizationStructHash(from, to, value, validAfter, validBefore, nonce)

	explicitOverride := extra.Fields != nil || extra.ChainID != nil || len(extra.Salt) == 32
	separator, _, err := evm.BuildDomainSeparator(extra, networkCfg.ChainID, asset)
	if err != nil {
		return nil, err
	}

	if explicitOverride {
		return evm.EIP712Digest(separator, structHash), nil
	}

	onChain, err := s.onChainDomainSeparator(ctx, asset)
	if err == nil && onChain == separator {
		return evm.EIP712Digest(separator, structHash), nil
	}

	for _, candidate := range evm.DomainSeparatorCandidates(extra, networkCfg.ChainID, asset) {
		if err == nil && candidate == onChain {
			return evm.EIP712Digest(candidate, structHash), nil
		}
	}
	if err != nil {
		// Could not fetch on-chain separator; fall back to the default
		// reconstruction rather than fail verification outright.
		return evm.EIP712Digest(separator, structHash), nil
	}
	return nil, fmt.Errorf("domain separator mismatch")
}

func (s *ExactEvmScheme) onChainDomainSeparator(ctx context.Context, asset string) ([32]byte, error) {
	result, err := s.signer.ReadContract(ctx, asset, evm.DomainSeparatorABI, "DOMAIN_SEPARATOR")
	if err != nil {
		return [32]byte{}, err
	}
	b, ok := result.([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("unexpected DOMAIN_SEPARATOR result type %T", result)
	}
	return b, nil
}

// Settle implements §4.3's settle operation.
func (s *ExactEvmScheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	verifyResult, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		return &types.SettleResponse{Success: false, ErrorReason: "verification_error", Network: requirements.Network}, nil
	}
	if !verifyResult.IsValid {
		return &types.SettleResponse{Success: false, ErrorReason: verifyResult.InvalidReason, Network: requirements.Network}, nil
	}

	exact, err := types.ExactEVMPayloadFromMap(payload.Payload)
	if err != nil {
		return &types.SettleResponse{Success: false, ErrorReason: evm.ErrInvalidSignature, Network: requirements.Network}, nil
	}

	sigBytes := common.FromHex(exact.Signature)
	parsed, err := evm.ParseERC6492Signature(sigBytes)
	if err != nil {
		return &types.SettleResponse{Success: false, ErrorReason: evm.ErrInvalidSignature, Network: requirements.Network}, nil
	}

	if parsed.IsWrapped {
		code, err := s.signer.GetCode(ctx, exact.Authorization.From)
		if err == nil && len(code) == 0 {
			if !s.config.DeployERC4337WithEIP6492 {
				return &types.SettleResponse{Success: false, ErrorReason: evm.ErrUndeployedSmartWallet, Network: requirements.Network, Payer: exact.Authorization.From}, nil
			}
			if err := s.deploySmartWallet(ctx, parsed); err != nil {
				return &types.SettleResponse{Success: false, ErrorReason: evm.ErrSmartWalletDeployFailed, Network: requirements.Network, Payer: exact.Authorization.From}, nil
			}
		}
	}

	value, _ := new(big.Int).SetString(exact.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(exact.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(exact.Authorization.ValidBefore, 10)

	effectiveSig := sigBytes
	if parsed.IsWrapped {
		effectiveSig = parsed.InnerSignature
	}

	var txHash string
	if len(effectiveSig) == 65 {
		v := effectiveSig[64]
		if v < 27 {
			v += 27
		}
		var r, rS [32]byte
		copy(r[:], effectiveSig[:32])
		copy(rS[:], effectiveSig[32:64])
		txHash, err = s.signer.WriteContract(ctx, requirements.Asset, evm.TransferWithAuthorizationVRSABI, evm.FunctionTransferWithAuthorization,
			common.HexToAddress(exact.Authorization.From), common.HexToAddress(exact.Authorization.To),
			value, validAfter, validBefore, toBytes32(exact.Authorization.Nonce), v, r, rS)
	} else {
		txHash, err = s.signer.WriteContract(ctx, requirements.Asset, evm.TransferWithAuthorizationBytesABI, evm.FunctionTransferWithAuthorization,
			common.HexToAddress(exact.Authorization.From), common.HexToAddress(exact.Authorization.To),
			value, validAfter, validBefore, toBytes32(exact.Authorization.Nonce), effectiveSig)
	}
	if err != nil {
		return &types.SettleResponse{Success: false, ErrorReason: evm.ErrTransactionFailed, Network: requirements.Network, Payer: exact.Authorization.From}, nil
	}

	receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return &types.SettleResponse{Success: false, ErrorReason: evm.ErrTransactionFailed, Network: requirements.Network, Payer: exact.Authorization.From, Transaction: txHash}, nil
	}
	if receipt.Status != evm.TxStatusSuccess {
		return &types.SettleResponse{Success: false, ErrorReason: evm.ErrInvalidTransactionState, Network: requirements.Network, Payer: exact.Authorization.From, Transaction: txHash}, nil
	}

	return &types.SettleResponse{Success: true, Transaction: txHash, Network: requirements.Network, Payer: exact.Authorization.From}, nil
}

func (s *ExactEvmScheme) deploySmartWallet(ctx context.Context, parsed *evm.ERC6492SignatureData) error {
	factory := common.BytesToAddress(parsed.Factory[:]).Hex()
	txHash, err := s.signer.SendTransaction(ctx, factory, parsed.FactoryCalldata)
	if err != nil {
		return err
	}
	receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	if receipt.Status != evm.TxStatusSuccess {
		return fmt.Errorf("smart wallet deployment transaction reverted")
	}
	return nil
}

func invalid(reason string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: reason}
}

func toBytes32(hexStr string) [32]byte {
	var out [32]byte
	b := common.FromHex(hexStr)
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}
