package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferWithAuthorizationTypeHash is keccak256 of the EIP-3009 struct
// type string, precomputed once rather than rebuilt on every verify.
var transferWithAuthorizationTypeHash = crypto.Keccak256(
	[]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"),
)

// AuthorizationStructHash hashes the TransferWithAuthorization struct per
// EIP-712's hashStruct.
func AuthorizationStructHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) [32]byte {
	buf := make([]byte, 0, 32*6)
	buf = append(buf, transferWithAuthorizationTypeHash...)
	buf = append(buf, common.LeftPadBytes(from.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(to.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(value.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(validAfter.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(validBefore.Bytes(), 32)...)
	buf = append(buf, nonce[:]...)
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// EIP712Digest builds the final "\x19\x01" || domainSeparator || structHash
// digest that gets signed/recovered.
func EIP712Digest(domainSeparator, structHash [32]byte) []byte {
	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator[:]...)
	buf = append(buf, structHash[:]...)
	return crypto.Keccak256(buf)
}

// RecoverSigner recovers the signing address from a 65-byte (r,s,v)
// signature over digest. v may be 0/1 or 27/28.
func RecoverSigner(digest []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("expected 65-byte signature, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParseERC6492Signature detects and decodes an ERC-6492 deploy-wrapped
// signature. A wrapped signature is:
//
//	abi.encode(factory, factoryCalldata, innerSignature) || magicValue(32 bytes)
//
// When the trailing 32 bytes don't match the magic value, the signature is
// treated as a plain (non-wrapped) signature.
func ParseERC6492Signature(signature []byte) (*ERC6492SignatureData, error) {
	magic := common.FromHex(ERC6492MagicValue)
	if len(signature) < 32 || !hasSuffix(signature, magic) {
		return &ERC6492SignatureData{IsWrapped: false, InnerSignature: signature}, nil
	}

	body := signature[:len(signature)-32]
	// abi.encode(address factory, bytes factoryCalldata, bytes innerSignature)
	// Minimal hand-rolled ABI decode: three head words (offsets for the two
	// dynamic fields are relative to the start of body), factory is static.
	if len(body) < 32*3 {
		return nil, fmt.Errorf("malformed erc-6492 signature: too short")
	}
	var factory [20]byte
	copy(factory[:], body[12:32])

	calldataOffset := new(big.Int).SetBytes(body[32:64]).Int64()
	sigOffset := new(big.Int).SetBytes(body[64:96]).Int64()

	calldata, err := decodeDynamicBytes(body, calldataOffset)
	if err != nil {
		return nil, fmt.Errorf("malformed erc-6492 factoryCalldata: %w", err)
	}
	inner, err := decodeDynamicBytes(body, sigOffset)
	if err != nil {
		return nil, fmt.Errorf("malformed erc-6492 innerSignature: %w", err)
	}

	return &ERC6492SignatureData{
		Factory:         factory,
		FactoryCalldata: calldata,
		InnerSignature:  inner,
		IsWrapped:       true,
	}, nil
}

func decodeDynamicBytes(body []byte, offset int64) ([]byte, error) {
	if offset < 0 || int(offset)+32 > len(body) {
		return nil, fmt.Errorf("offset out of range")
	}
	length := new(big.Int).SetBytes(body[offset : offset+32]).Int64()
	start := offset + 32
	if length < 0 || int(start+length) > len(body) {
		return nil, fmt.Errorf("length out of range")
	}
	return body[start : start+length], nil
}

func hasSuffix(b, suffix []byte) bool {
	if len(b) < len(suffix) {
		return false
	}
	return strings_equalFold(b[len(b)-len(suffix):], suffix)
}

func strings_equalFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// VerifyUniversalSignature verifies signature over digest for address,
// supporting plain ECDSA recovery, ERC-1271 contract signatures, and
// ERC-6492 deploy-wrapped signatures. It does not deploy an undeployed
// wallet itself.
func VerifyUniversalSignature(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	address string,
	digest []byte,
	signature []byte,
) (bool, error) {
	parsed, err := ParseERC6492Signature(signature)
	if err != nil {
		return false, err
	}

	innerSig := signature
	if parsed.IsWrapped {
		innerSig = parsed.InnerSignature
	}

	if len(innerSig) == 65 {
		recovered, err := RecoverSigner(digest, innerSig)
		if err == nil && strings.EqualFold(recovered.Hex(), address) {
			return true, nil
		}
	}

	// Fall back to ERC-1271 isValidSignature(hash, sig) on the address
	// itself. Works whether or not the wallet is already deployed; for the
	// undeployed+wrapped case the caller is responsible for deploying the
	// factory first (scheme.Settle does this explicitly).
	result, err := signer.ReadContract(ctx, address, erc1271ABI, "isValidSignature", toBytes32(digest), innerSig)
	if err != nil {
		return false, nil //nolint:nilerr // contract call failing just means "not a valid ERC-1271 signer"
	}
	if b, ok := result.([4]byte); ok {
		return fmt.Sprintf("0x%x", b) == EIP1271MagicValue, nil
	}
	return false, nil
}

func toBytes32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

var erc1271ABI = []byte(`[
	{
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "isValidSignature",
		"outputs": [{"name": "", "type": "bytes4"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)
