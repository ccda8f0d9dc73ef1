package facilitator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoBrian/RailBridge/mechanisms/evm"
	"github.com/MarcoBrian/RailBridge/types"
)

const testAsset = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
const testNetwork = "eip155:1"

type fakeFacilitatorSigner struct {
	balance          *big.Int
	balanceErr       error
	nonceUsed        bool
	nonceErr         error
	domainSeparator  [32]byte
	domainErr        error
	writeTxHash      string
	writeErr         error
	receipt          *evm.TransactionReceipt
	receiptErr       error
	code             []byte
	sendTxHash       string
	sendErr          error
}

func (f *fakeFacilitatorSigner) GetAddresses() []string { return []string{"0xFacilitator"} }
func (f *fakeFacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeFacilitatorSigner) ReadContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) (interface{}, error) {
	switch method {
	case evm.FunctionAuthorizationState:
		return f.nonceUsed, f.nonceErr
	case "DOMAIN_SEPARATOR":
		// No fake implements the real on-chain separator; report it as
		// unavailable so buildDigest falls back to default reconstruction,
		// unless a test explicitly wires one up via domainSeparator.
		if f.domainSeparator == ([32]byte{}) && f.domainErr == nil {
			return nil, assertErr
		}
		return f.domainSeparator, f.domainErr
	}
	return nil, nil
}
func (f *fakeFacilitatorSigner) WriteContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	return f.writeTxHash, f.writeErr
}
func (f *fakeFacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	return f.sendTxHash, f.sendErr
}
func (f *fakeFacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return f.receipt, f.receiptErr
}
func (f *fakeFacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	return f.balance, f.balanceErr
}
func (f *fakeFacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return f.code, nil
}

func validRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:  evm.SchemeExact,
		Network: testNetwork,
		Asset:   testAsset,
		Amount:  "1000000",
		PayTo:   "0x00000000000000000000000000000000000ABC",
		Extra:   map[string]interface{}{"name": "USD Coin", "version": "2"},
	}
}

func buildSignedExactPayload(t *testing.T, requirements types.PaymentRequirements, mutate func(auth *types.ExactEVMAuthorization)) (types.PaymentPayload, common.Address) {
	t.Helper()
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(privKey.PublicKey)

	auth := types.ExactEVMAuthorization{
		From:        from.Hex(),
		To:          requirements.PayTo,
		Value:       requirements.Amount,
		ValidAfter:  "0",
		ValidBefore: big.NewInt(time.Now().Unix() + 3600).String(),
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}
	if mutate != nil {
		mutate(&auth)
	}

	domainExtra, err := evm.ParseDomainExtra(requirements.Extra)
	require.NoError(t, err)
	networkCfg := evm.NetworkConfigs[requirements.Network]
	separator, _, err := evm.BuildDomainSeparator(domainExtra, networkCfg.ChainID, requirements.Asset)
	require.NoError(t, err)

	fromAddr := common.HexToAddress(auth.From)
	toAddr := common.HexToAddress(auth.To)
	value, _ := new(big.Int).SetString(auth.Value, 10)
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonce := toBytes32(auth.Nonce)

	structHash := evm.AuthorizationStructHash(fromAddr, toAddr, value, validAfter, validBefore, nonce)
	digest := evm.EIP712Digest(separator, structHash)

	sig, err := crypto.Sign(digest, privKey)
	require.NoError(t, err)
	sig[64] += 27

	payload := types.PaymentPayload{
		X402Version: 1,
		Accepted:    requirements,
		Payload: map[string]interface{}{
			"authorization": map[string]interface{}{
				"from":        auth.From,
				"to":          auth.To,
				"value":       auth.Value,
				"validAfter":  auth.ValidAfter,
				"validBefore": auth.ValidBefore,
				"nonce":       auth.Nonce,
			},
			"signature": "0x" + common.Bytes2Hex(sig),
		},
	}
	return payload, from
}

func TestVerifyAcceptsValidSignedAuthorization(t *testing.T) {
	requirements := validRequirements()
	payload, from := buildSignedExactPayload(t, requirements, nil)

	signer := &fakeFacilitatorSigner{balance: big.NewInt(1_000_000_000)}
	scheme := NewExactEvmScheme(signer, nil)

	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.True(t, result.IsValid, "invalid reason: %s", result.InvalidReason)
	assert.Equal(t, from.Hex(), result.Payer)
}

func TestVerifyRejectsSchemeMismatch(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, nil)
	payload.Accepted.Scheme = "cross-chain"

	signer := &fakeFacilitatorSigner{}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrUnsupportedScheme, result.InvalidReason)
}

func TestVerifyRejectsRecipientMismatch(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, func(a *types.ExactEVMAuthorization) {
		a.To = "0x000000000000000000000000000000000000Ff"
	})

	signer := &fakeFacilitatorSigner{}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrRecipientMismatch, result.InvalidReason)
}

func TestVerifyRejectsExpiredValidBefore(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, func(a *types.ExactEVMAuthorization) {
		a.ValidBefore = big.NewInt(time.Now().Unix() - 10).String()
	})

	signer := &fakeFacilitatorSigner{}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrValidBefore, result.InvalidReason)
}

func TestVerifyRejectsNotYetValid(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, func(a *types.ExactEVMAuthorization) {
		a.ValidAfter = big.NewInt(time.Now().Unix() + 3600).String()
	})

	signer := &fakeFacilitatorSigner{}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrValidAfter, result.InvalidReason)
}

func TestVerifyRejectsInsufficientValue(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, func(a *types.ExactEVMAuthorization) {
		a.Value = "1"
	})

	signer := &fakeFacilitatorSigner{}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrInsufficientValue, result.InvalidReason)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, nil)
	exact := payload.Payload["signature"].(string)
	payload.Payload["signature"] = exact[:len(exact)-2] + "00"

	signer := &fakeFacilitatorSigner{}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrInvalidSignature, result.InvalidReason)
}

func TestVerifyIgnoresRPCErrorOnBalanceCheck(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, nil)

	signer := &fakeFacilitatorSigner{balanceErr: assertErr}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestVerifyRejectsInsufficientFunds(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, nil)

	signer := &fakeFacilitatorSigner{balance: big.NewInt(1)}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrInsufficientFunds, result.InvalidReason)
}

func TestVerifyRejectsAlreadyUsedNonce(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, nil)

	signer := &fakeFacilitatorSigner{balance: big.NewInt(1_000_000_000), nonceUsed: true}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.Equal(t, evm.ErrInvalidSignature, result.InvalidReason)
}

func TestSettleSucceedsAndReturnsTransactionHash(t *testing.T) {
	requirements := validRequirements()
	payload, from := buildSignedExactPayload(t, requirements, nil)

	signer := &fakeFacilitatorSigner{
		balance:     big.NewInt(1_000_000_000),
		writeTxHash: "0xsettletx",
		receipt:     &evm.TransactionReceipt{Status: evm.TxStatusSuccess},
	}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Settle(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0xsettletx", result.Transaction)
	assert.Equal(t, from.Hex(), result.Payer)
}

func TestSettleFailsWhenVerifyFails(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, func(a *types.ExactEVMAuthorization) {
		a.Value = "1"
	})

	signer := &fakeFacilitatorSigner{balance: big.NewInt(1_000_000_000)}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Settle(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, evm.ErrInsufficientValue, result.ErrorReason)
}

func TestSettleReportsTransactionFailedOnWriteError(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, nil)

	signer := &fakeFacilitatorSigner{balance: big.NewInt(1_000_000_000), writeErr: assertErr}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Settle(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, evm.ErrTransactionFailed, result.ErrorReason)
}

func TestSettleReportsInvalidTransactionStateOnRevert(t *testing.T) {
	requirements := validRequirements()
	payload, _ := buildSignedExactPayload(t, requirements, nil)

	signer := &fakeFacilitatorSigner{
		balance:     big.NewInt(1_000_000_000),
		writeTxHash: "0xtx",
		receipt:     &evm.TransactionReceipt{Status: evm.TxStatusFailed},
	}
	scheme := NewExactEvmScheme(signer, nil)
	result, err := scheme.Settle(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, evm.ErrInvalidTransactionState, result.ErrorReason)
}

var assertErr = &staticErr{"rpc unavailable"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
