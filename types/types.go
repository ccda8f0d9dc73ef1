// Package types defines the wire-level data model for the payment protocol:
// payment requirements, signed payment payloads, and facilitator responses.
package types

import "encoding/json"

// PaymentRequirements is the merchant's offer for a route. It is immutable
// once issued; a merchant emits it fresh per 402 response.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentPayload is the buyer's signed authorization. Created once per
// payment attempt; consumed at most once.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// ExactEVMAuthorization is the EIP-3009 TransferWithAuthorization payload
// carried inside payload.payload for the exact-evm scheme.
type ExactEVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEVMPayload is the scheme-specific payload shape for exact-evm.
type ExactEVMPayload struct {
	Authorization ExactEVMAuthorization `json:"authorization"`
	Signature     string                 `json:"signature"`
}

// CrossChainExtensionKey is the extensions map key used for cross-chain
// routing directives.
const CrossChainExtensionKey = "cross-chain"

// CrossChainInfo is the destination-chain routing directive carried inside
// payload.extensions["cross-chain"]. All three fields are mandatory when present.
type CrossChainInfo struct {
	DestinationNetwork string `json:"destinationNetwork"`
	DestinationAsset   string `json:"destinationAsset"`
	DestinationPayTo   string `json:"destinationPayTo"`
}

// VerifyResponse is the result of a verify operation.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the result of a settle operation.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// SupportedKind describes one registered scheme/network combination.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what the facilitator supports.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Facilitator string `json:"facilitator"`
}

// ToPaymentPayload unmarshals raw bytes into a PaymentPayload.
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ToPaymentRequirements unmarshals raw bytes into PaymentRequirements.
func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	var r PaymentRequirements
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ExactEVMPayloadFromMap decodes the scheme-specific payload.payload map
// into a typed ExactEVMPayload by round-tripping through JSON, since the
// dispatch boundary carries it as map[string]interface{}.
func ExactEVMPayloadFromMap(m map[string]interface{}) (*ExactEVMPayload, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var p ExactEVMPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
