package evm

import (
	"context"
	"math/big"
)

// TypedDataDomain is the EIP-712 domain separator's logical fields. Not
// every field is populated for a given token; the domain reconstruction in
// domain.go decides inclusion via a bitmask (§4.3 step 1).
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
	Salt              [32]byte
	HasSalt           bool
}

// TypedDataField is one field of an EIP-712 struct type definition.
type TypedDataField struct {
	Name string
	Type string
}

// TransactionReceipt is the chain-agnostic subset of receipt fields the
// scheme and bridge worker need.
type TransactionReceipt struct {
	Status      uint64
	BlockNumber uint64
	TxHash      string
}

// ERC6492SignatureData is the decoded form of an ERC-6492 deploy-wrapped
// signature: a factory address, the calldata that deploys the smart
// wallet, and the inner signature to verify against the (to-be-)deployed
// contract.
type ERC6492SignatureData struct {
	Factory         [20]byte
	FactoryCalldata []byte
	InnerSignature  []byte
	IsWrapped       bool
}

// ClientEvmSigner is implemented by buyer-side signers. Out of scope for
// the facilitator core itself, but kept so the scheme package and its
// tests can construct payloads without a live wallet.
type ClientEvmSigner interface {
	Address() string
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// FacilitatorEvmSigner is the Chain Client facade (C1) the exact-evm scheme
// and the bridge worker depend on. One instance per CAIP-2 network.
type FacilitatorEvmSigner interface {
	GetAddresses() []string
	GetChainID(ctx context.Context) (*big.Int, error)
	ReadContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) (interface{}, error)
	WriteContract(ctx context.Context, contractAddress string, abiJSON []byte, method string, args ...interface{}) (string, error)
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)
	GetCode(ctx context.Context, address string) ([]byte, error)
}
