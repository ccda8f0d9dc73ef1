// Package extension declares and validates the cross-chain routing
// extension: the {destinationNetwork, destinationAsset, destinationPayTo}
// directive a merchant attaches to PaymentRequirements so the facilitator
// knows to bridge settled funds onward after the source-chain transfer
// lands.
package extension

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/MarcoBrian/RailBridge/types"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidDestinationPayTo distinguishes a present-but-malformed
// destinationPayTo from an absent extension, so callers can report the
// spec's dedicated invalid_destination_pay_to reason instead of
// collapsing it into "extension missing".
var ErrInvalidDestinationPayTo = errors.New("cross-chain extension: destinationPayTo is not a valid address")

// Name is the extension identifier advertised in /supported.
const Name = types.CrossChainExtensionKey

var caip2Pattern = regexp.MustCompile(`^eip155:\d+$`)
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// schemaJSON constrains the declared extension payload shape. Declared
// alongside the extension (rather than hand-validated) so a merchant
// integration can self-check before ever hitting the facilitator.
const schemaJSON = `{
	"type": "object",
	"required": ["destinationNetwork", "destinationAsset", "destinationPayTo"],
	"properties": {
		"destinationNetwork": {"type": "string", "pattern": "^eip155:[0-9]+$"},
		"destinationAsset": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"destinationPayTo": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"}
	}
}`

// Declaration is the shape returned to callers of DeclareCrossChainExtension:
// a human/machine-readable description plus the JSON schema its payload
// must satisfy.
type Declaration struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// DeclareCrossChainExtension returns the extension's self-description for
// the /supported endpoint.
func DeclareCrossChainExtension() Declaration {
	return Declaration{Name: Name, Schema: schemaJSON}
}

// ValidateCrossChainExtension checks a raw extension payload against the
// schema, returning the collected validation errors (empty when valid).
func ValidateCrossChainExtension(data map[string]interface{}) ([]string, error) {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("validate cross-chain extension: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	var messages []string
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}
	return messages, nil
}

// ExtractCrossChainInfo reads payload.extensions["cross-chain"] and returns
// nil (not an error) when the extension is absent, or when its network or
// asset fields are malformed — routing cross-chain is opt-in, so absence
// just means "settle in place", and a malformed chain/asset pair has no
// more specific failure reason than "extension missing". A present
// extension with a malformed destinationPayTo is reported distinctly via
// ErrInvalidDestinationPayTo, since that case has its own stable reason.
func ExtractCrossChainInfo(payload types.PaymentPayload) (*types.CrossChainInfo, error) {
	raw, ok := payload.Extensions[Name]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	network, _ := m["destinationNetwork"].(string)
	asset, _ := m["destinationAsset"].(string)
	payTo, _ := m["destinationPayTo"].(string)
	if !caip2Pattern.MatchString(network) || !addressPattern.MatchString(asset) {
		return nil, nil
	}
	if !addressPattern.MatchString(payTo) {
		return nil, ErrInvalidDestinationPayTo
	}
	return &types.CrossChainInfo{
		DestinationNetwork: network,
		DestinationAsset:   asset,
		DestinationPayTo:   payTo,
	}, nil
}
