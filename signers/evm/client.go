// Package evm provides the concrete chain-facing signer implementations:
// a live RPC-backed FacilitatorEvmSigner used by the service, and a
// ClientEvmSigner fixture used to build test payloads.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/MarcoBrian/RailBridge/internal/nonce"
	"github.com/MarcoBrian/RailBridge/mechanisms/evm"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// FacilitatorSigner is a live, RPC-backed FacilitatorEvmSigner bound to one
// chain and one hot-wallet private key.
type FacilitatorSigner struct {
	client       *ethclient.Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	nonceManager *nonce.Manager
}

// NewFacilitatorSigner dials rpcURL and derives the signer's address from
// privateKeyHex. nonceManager must be shared with any other signer that
// submits transactions from the same address on the same chain; pass a
// dedicated *nonce.Manager per caller otherwise.
func NewFacilitatorSigner(ctx context.Context, rpcURL, privateKeyHex string, nonceManager *nonce.Manager) (*FacilitatorSigner, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if nonceManager == nil {
		nonceManager = nonce.NewManager()
	}
	return &FacilitatorSigner{
		client:       client,
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		nonceManager: nonceManager,
	}, nil
}

// pendingNonceChain adapts ethclient.Client's common.Address-keyed
// PendingNonceAt to the string-keyed nonce.Chain interface.
type pendingNonceChain struct {
	client *ethclient.Client
}

func (c pendingNonceChain) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	return c.client.PendingNonceAt(ctx, common.HexToAddress(address))
}

func (s *FacilitatorSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return s.chainID, nil
}

func (s *FacilitatorSigner) ReadContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) (interface{}, error) {
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := common.HexToAddress(contractAddress)
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(result) == 0 {
		return zeroValueFor(method), nil
	}
	outputs, err := parsed.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) == 0 {
		return nil, nil
	}
	return outputs[0], nil
}

// zeroValueFor mirrors the teacher's empty-result handling: some RPC
// providers return zero-length data for view calls against addresses with
// no code rather than erroring.
func zeroValueFor(method string) interface{} {
	switch method {
	case evm.FunctionAuthorizationState:
		return false
	case "balanceOf", "allowance":
		return big.NewInt(0)
	default:
		return nil
	}
}

func (s *FacilitatorSigner) WriteContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("parse abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	to := common.HexToAddress(contractAddress)
	return s.sendRawTx(ctx, &to, data)
}

func (s *FacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	addr := common.HexToAddress(to)
	return s.sendRawTx(ctx, &addr, data)
}

func (s *FacilitatorSigner) sendRawTx(ctx context.Context, to *common.Address, data []byte) (string, error) {
	chainIDStr := s.chainID.String()
	addressStr := s.address.Hex()

	nextNonce, release, err := s.nonceManager.Next(ctx, pendingNonceChain{client: s.client}, chainIDStr, addressStr)
	if err != nil {
		return "", fmt.Errorf("reserve nonce: %w", err)
	}
	defer release()

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	const gasLimit = uint64(300_000)
	tx := types.NewTransaction(nextNonce, *to, big.NewInt(0), gasLimit, gasPrice, data)
	signer := types.NewEIP155Signer(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		s.nonceManager.Resync(chainIDStr, addressStr)
		return "", fmt.Errorf("send tx: %w", err)
	}
	s.nonceManager.Advance(chainIDStr, addressStr, nextNonce)
	return signedTx.Hash().Hex(), nil
}

func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	for i := 0; i < 30; i++ {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("timed out waiting for receipt of %s", txHash)
}

func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" {
		return s.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	}
	result, err := s.ReadContract(ctx, tokenAddress, evm.ERC20BalanceOfABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return s.client.CodeAt(ctx, common.HexToAddress(address), nil)
}

// ClientSigner is a private-key-backed ClientEvmSigner fixture, used by
// tests to produce signed authorizations without a live wallet.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSignerFromPrivateKey parses a hex-encoded private key.
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &ClientSigner{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (c *ClientSigner) Address() string {
	return c.address.Hex()
}

// SignTypedData signs an EIP-712 message using go-ethereum's apitypes
// machinery, then adjusts v to the legacy 27/28 convention.
func (c *ClientSigner) SignTypedData(ctx context.Context, domain evm.TypedDataDomain, typesMap map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error) {
	apiTypes := apitypes.Types{}
	for name, fields := range typesMap {
		var apiFields []apitypes.Type
		for _, f := range fields {
			apiFields = append(apiFields, apitypes.Type{Name: f.Name, Type: f.Type})
		}
		apiTypes[name] = apiFields
	}

	apiDomain := apitypes.TypedDataDomain{
		Name:    domain.Name,
		Version: domain.Version,
	}
	if domain.ChainID != nil {
		apiDomain.ChainId = (*math.HexOrDecimal256)(domain.ChainID)
	}
	if domain.VerifyingContract != "" {
		apiDomain.VerifyingContract = domain.VerifyingContract
	}
	if domain.HasSalt {
		apiDomain.Salt = common.Bytes2Hex(domain.Salt[:])
	}

	typedData := apitypes.TypedData{
		Types:       apiTypes,
		PrimaryType: primaryType,
		Domain:      apiDomain,
		Message:     message,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(primaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash struct: %w", err)
	}

	digest := crypto.Keccak256(
		[]byte{0x19, 0x01},
		domainSeparator,
		structHash,
	)

	sig, err := crypto.Sign(digest, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
