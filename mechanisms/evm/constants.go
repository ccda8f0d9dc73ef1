// Package evm holds the chain-facing building blocks shared by the
// exact-evm payment scheme and the cross-chain bridge worker: EIP-712
// domain/type tables, EIP-3009 ABI fragments, per-network asset config,
// and ERC-6492 wrapped-signature parsing.
package evm

import "math/big"

const (
	// SchemeExact is the scheme tag for EIP-3009 direct transfers.
	SchemeExact = "exact"
	// SchemeCrossChain is the scheme tag routed through the bridge worker.
	SchemeCrossChain = "cross-chain"

	// DefaultDecimals is the USDC decimal count on every supported chain.
	DefaultDecimals = 6

	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"

	TxStatusSuccess = uint64(1)
	TxStatusFailed  = uint64(0)

	// ERC6492MagicValue is the suffix appended to a deploy-wrapped signature.
	// bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1)
	ERC6492MagicValue = "0x6492649264926492649264926492649264926492649264926492649264926492"

	// EIP1271MagicValue is returned by isValidSignature on success.
	EIP1271MagicValue = "0x1626ba7e"

	// Verify failure reasons (§4.3).
	ErrUnsupportedScheme          = "unsupported_scheme"
	ErrNetworkMismatch            = "network_mismatch"
	ErrMissingEIP712Domain        = "missing_eip712_domain"
	ErrDomainSeparatorMismatch    = "domain_separator_mismatch"
	ErrInvalidSignature           = "invalid_exact_evm_payload_signature"
	ErrRecipientMismatch          = "invalid_exact_evm_payload_recipient_mismatch"
	ErrValidBefore                = "invalid_exact_evm_payload_authorization_valid_before"
	ErrValidAfter                 = "invalid_exact_evm_payload_authorization_valid_after"
	ErrInsufficientFunds          = "insufficient_funds"
	ErrInsufficientValue          = "invalid_exact_evm_payload_authorization_value"
	ErrUndeployedSmartWallet      = "invalid_exact_evm_payload_undeployed_smart_wallet"
	ErrSmartWalletDeployFailed    = "smart_wallet_deployment_failed"
	ErrInvalidTransactionState    = "invalid_transaction_state"
	ErrTransactionFailed          = "transaction_failed"

	// ValidBeforeBufferSeconds is the block-propagation safety margin (§4.3 step 4).
	ValidBeforeBufferSeconds = 6
)

// Domain field bitmask (§4.3 step 1).
const (
	DomainFieldName              = 0x01
	DomainFieldVersion           = 0x02
	DomainFieldChainID           = 0x04
	DomainFieldVerifyingContract = 0x08
	DomainFieldSalt              = 0x10
)

// AssetInfo describes a token's EIP-712 identity on one network.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig is per-CAIP-2 chain configuration.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

var (
	ChainIDEthereum    = big.NewInt(1)
	ChainIDSepolia     = big.NewInt(11155111)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
	ChainIDPolygon     = big.NewInt(137)
	ChainIDArbitrum    = big.NewInt(42161)

	// NetworkConfigs maps CAIP-2 network identifiers to their chain id and
	// default (canonical) USDC asset. The cross-chain asset checks do not
	// read this table; they use the bridge package's own USDC allowlist
	// (internal/bridge/usdc_allowlist.go).
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1": {
			ChainID: ChainIDEthereum,
			DefaultAsset: AssetInfo{
				Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals,
			},
		},
		"eip155:11155111": {
			ChainID: ChainIDSepolia,
			DefaultAsset: AssetInfo{
				Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Name: "USDC", Version: "2", Decimals: DefaultDecimals,
			},
		},
		"eip155:8453": {
			ChainID: ChainIDBase,
			DefaultAsset: AssetInfo{
				Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals,
			},
		},
		"eip155:84532": {
			ChainID: ChainIDBaseSepolia,
			DefaultAsset: AssetInfo{
				Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Name: "USDC", Version: "2", Decimals: DefaultDecimals,
			},
		},
		"eip155:137": {
			ChainID: ChainIDPolygon,
			DefaultAsset: AssetInfo{
				Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals,
			},
		},
		"eip155:42161": {
			ChainID: ChainIDArbitrum,
			DefaultAsset: AssetInfo{
				Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Name: "USD Coin", Version: "2", Decimals: DefaultDecimals,
			},
		},
	}

	// TransferWithAuthorizationVRSABI is the EOA-signature overload.
	TransferWithAuthorizationVRSABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// TransferWithAuthorizationBytesABI is the smart-wallet (bytes signature) overload.
	TransferWithAuthorizationBytesABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	ERC20BalanceOfABI = []byte(`[
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	DomainSeparatorABI = []byte(`[
		{
			"inputs": [],
			"name": "DOMAIN_SEPARATOR",
			"outputs": [{"name": "", "type": "bytes32"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)
