package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eip712DomainTypeHash is precomputed at package init for each of the
// domain-field combinations this facilitator supports, avoiding the
// per-verify string-building the source repo performs (§9 design note:
// "prefer a precomputed per-chain table... rather than probing on every
// verify").
var eip712DomainTypeHash = map[uint8][]byte{}

func init() {
	for _, mask := range []uint8{
		DomainFieldName | DomainFieldVersion | DomainFieldChainID | DomainFieldVerifyingContract,
		DomainFieldName | DomainFieldVersion | DomainFieldVerifyingContract | DomainFieldSalt,
		DomainFieldName | DomainFieldVersion | DomainFieldChainID | DomainFieldVerifyingContract | DomainFieldSalt,
		DomainFieldName | DomainFieldChainID | DomainFieldVerifyingContract,
	} {
		eip712DomainTypeHash[mask] = crypto.Keccak256([]byte(domainTypeString(mask)))
	}
}

// DomainExtra is the EIP-712 domain hint carried in PaymentRequirements.Extra.
type DomainExtra struct {
	Name    string
	Version string
	Fields  *uint8   // explicit bitmask, nil means "use the default rule"
	ChainID *big.Int // domain.chainId override
	Salt    []byte   // domain.salt override, 32 bytes
}

// ParseDomainExtra reads {name, version, domain:{fields,chainId,salt}} out
// of a PaymentRequirements.Extra map.
func ParseDomainExtra(extra map[string]interface{}) (*DomainExtra, error) {
	if extra == nil {
		return nil, fmt.Errorf("missing extra")
	}
	name, _ := extra["name"].(string)
	version, _ := extra["version"].(string)
	if name == "" || version == "" {
		return nil, fmt.Errorf("missing name/version")
	}
	d := &DomainExtra{Name: name, Version: version}

	domainRaw, ok := extra["domain"]
	if !ok || domainRaw == nil {
		return d, nil
	}
	domainMap, ok := domainRaw.(map[string]interface{})
	if !ok {
		return d, nil
	}
	if fieldsRaw, ok := domainMap["fields"]; ok {
		switch v := fieldsRaw.(type) {
		case float64:
			f := uint8(v)
			d.Fields = &f
		case int:
			f := uint8(v)
			d.Fields = &f
		}
	}
	if chainIDRaw, ok := domainMap["chainId"]; ok {
		switch v := chainIDRaw.(type) {
		case float64:
			d.ChainID = big.NewInt(int64(v))
		case string:
			n := new(big.Int)
			if _, ok := n.SetString(v, 10); ok {
				d.ChainID = n
			}
		}
	}
	if saltRaw, ok := domainMap["salt"].(string); ok && saltRaw != "" {
		d.Salt = common.FromHex(saltRaw)
	}
	return d, nil
}

// domainFieldMask resolves which fields belong in the domain separator,
// implementing the bitmask / default asymmetry from §4.3 step 1.
func domainFieldMask(extra *DomainExtra) uint8 {
	if extra.Fields != nil {
		return *extra.Fields
	}
	if len(extra.Salt) == 32 {
		// Salt-based domain: {name, version, verifyingContract, salt}, no chainId.
		return DomainFieldName | DomainFieldVersion | DomainFieldVerifyingContract | DomainFieldSalt
	}
	return DomainFieldName | DomainFieldVersion | DomainFieldChainID | DomainFieldVerifyingContract
}

func domainTypeString(mask uint8) string {
	fields := ""
	add := func(f string) {
		if fields != "" {
			fields += ","
		}
		fields += f
	}
	if mask&DomainFieldName != 0 {
		add("string name")
	}
	if mask&DomainFieldVersion != 0 {
		add("string version")
	}
	if mask&DomainFieldChainID != 0 {
		add("uint256 chainId")
	}
	if mask&DomainFieldVerifyingContract != 0 {
		add("address verifyingContract")
	}
	if mask&DomainFieldSalt != 0 {
		add("bytes32 salt")
	}
	return "EIP712Domain(" + fields + ")"
}

// BuildDomainSeparator reconstructs the EIP-712 domain separator hash for
// the resolved field set, the token's address, and the chain id.
func BuildDomainSeparator(extra *DomainExtra, chainID *big.Int, verifyingContract string) ([32]byte, uint8, error) {
	mask := domainFieldMask(extra)
	typeHash, ok := eip712DomainTypeHash[mask]
	if !ok {
		typeHash = crypto.Keccak256([]byte(domainTypeString(mask)))
	}

	buf := make([]byte, 0, 32*6)
	buf = append(buf, typeHash...)

	if mask&DomainFieldName != 0 {
		buf = append(buf, crypto.Keccak256([]byte(extra.Name))...)
	}
	if mask&DomainFieldVersion != 0 {
		buf = append(buf, crypto.Keccak256([]byte(extra.Version))...)
	}
	if mask&DomainFieldChainID != 0 {
		cid := extra.ChainID
		if cid == nil {
			cid = chainID
		}
		buf = append(buf, common.LeftPadBytes(cid.Bytes(), 32)...)
	}
	if mask&DomainFieldVerifyingContract != 0 {
		buf = append(buf, common.LeftPadBytes(common.HexToAddress(verifyingContract).Bytes(), 32)...)
	}
	if mask&DomainFieldSalt != 0 {
		if len(extra.Salt) != 32 {
			return [32]byte{}, mask, fmt.Errorf("domain fields include salt but no 32-byte salt was provided")
		}
		buf = append(buf, extra.Salt...)
	}

	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out, mask, nil
}

// DomainSeparatorCandidates enumerates the field combinations worth probing
// when a merchant did not supply an explicit extra.domain override and the
// default reconstruction doesn't match the token's on-chain separator.
func DomainSeparatorCandidates(extra *DomainExtra, chainID *big.Int, verifyingContract string) [][32]byte {
	masks := []uint8{
		DomainFieldName | DomainFieldVersion | DomainFieldChainID | DomainFieldVerifyingContract,
		DomainFieldName | DomainFieldVersion | DomainFieldVerifyingContract | DomainFieldSalt,
		DomainFieldName | DomainFieldChainID | DomainFieldVerifyingContract,
	}
	var out [][32]byte
	for _, m := range masks {
		mm := m
		candidate := *extra
		candidate.Fields = &mm
		if mm&DomainFieldSalt != 0 && len(candidate.Salt) != 32 {
			continue
		}
		sep, _, err := BuildDomainSeparator(&candidate, chainID, verifyingContract)
		if err != nil {
			continue
		}
		out = append(out, sep)
	}
	return out
}
