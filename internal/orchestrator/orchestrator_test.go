package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoBrian/RailBridge/internal/bridge"
	"github.com/MarcoBrian/RailBridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheme struct {
	verifyResult *types.VerifyResponse
	verifyErr    error
	settleResult *types.SettleResponse
	settleErr    error
	lastReq      types.PaymentRequirements
}

func (s *fakeScheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	s.lastReq = requirements
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verifyResult, nil
}

func (s *fakeScheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	s.lastReq = requirements
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	return s.settleResult, nil
}

type fakeBridgeProvider struct {
	supported      map[string]bool
	usdc           map[string]bool
	liquidityOK    bool
	liquidityErr   error
	exchangeRate   float64
	exchangeErr    error
}

func (p *fakeBridgeProvider) SupportsChain(network string) bool { return p.supported[network] }
func (p *fakeBridgeProvider) IsUSDC(assetAddress, network string) bool {
	return p.usdc[assetAddress+"|"+network]
}
func (p *fakeBridgeProvider) CheckLiquidity(ctx context.Context, source, dest, asset, amount string) (bool, error) {
	return p.liquidityOK, p.liquidityErr
}
func (p *fakeBridgeProvider) GetExchangeRate(ctx context.Context, source, dest, sourceAsset, destAsset string) (float64, error) {
	return p.exchangeRate, p.exchangeErr
}
func (p *fakeBridgeProvider) Bridge(ctx context.Context, source, sourceTxHash, dest, destAsset, amount, recipient string) (*bridge.Result, error) {
	return &bridge.Result{}, nil
}
func (p *fakeBridgeProvider) CheckMintStatus(ctx context.Context, destNetwork, messageID string) (string, bool, error) {
	return "", true, nil
}

func defaultProvider() *fakeBridgeProvider {
	return &fakeBridgeProvider{
		supported: map[string]bool{"eip155:1": true, "eip155:8453": true},
		usdc: map[string]bool{
			"0xSourceUSDC|eip155:1":    true,
			"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913|eip155:8453": true,
		},
		liquidityOK:  true,
		exchangeRate: 1.0,
	}
}

func crossChainRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:  "cross-chain",
		Network: "eip155:1",
		Asset:   "0xSourceUSDC",
		Amount:  "1000000",
		PayTo:   "0xFacilitator",
	}
}

func crossChainPayload() types.PaymentPayload {
	return types.PaymentPayload{
		Extensions: map[string]interface{}{
			"cross-chain": map[string]interface{}{
				"destinationNetwork": "eip155:8453",
				"destinationAsset":   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				"destinationPayTo":   "0x000000000000000000000000000000000000dEaD",
			},
		},
	}
}

func TestVerifyUnsupportedSchemeReturnsInvalid(t *testing.T) {
	f := New(nil, nil, nil, true)
	result, err := f.Verify(context.Background(), types.PaymentPayload{}, types.PaymentRequirements{Scheme: "exact", Network: "eip155:1"})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "unsupported_scheme", result.InvalidReason)
}

func TestVerifyDelegatesToRegisteredScheme(t *testing.T) {
	f := New(nil, nil, nil, true)
	scheme := &fakeScheme{verifyResult: &types.VerifyResponse{IsValid: true}}
	f.Register("exact", "eip155:1", scheme, "0xFacilitator", nil)

	result, err := f.Verify(context.Background(), types.PaymentPayload{}, types.PaymentRequirements{Scheme: "exact", Network: "eip155:1"})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestVerifyPropagatesInfrastructureError(t *testing.T) {
	f := New(nil, nil, nil, true)
	scheme := &fakeScheme{verifyErr: errors.New("rpc down")}
	f.Register("exact", "eip155:1", scheme, "0xFacilitator", nil)

	result, err := f.Verify(context.Background(), types.PaymentPayload{}, types.PaymentRequirements{Scheme: "exact", Network: "eip155:1"})
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestVerifyBeforeHookCanAbort(t *testing.T) {
	f := New(nil, nil, nil, true)
	f.OnBeforeVerify(func(vctx VerifyContext) BeforeHookResult {
		return BeforeHookResult{Abort: true, Reason: "blocked_by_policy"}
	})
	result, err := f.Verify(context.Background(), types.PaymentPayload{}, types.PaymentRequirements{Scheme: "exact", Network: "eip155:1"})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "blocked_by_policy", result.InvalidReason)
}

func TestVerifyCrossChainMissingExtensionFails(t *testing.T) {
	f := New(nil, defaultProvider(), nil, true)
	scheme := &fakeScheme{verifyResult: &types.VerifyResponse{IsValid: true}}
	f.Register("exact", "eip155:1", scheme, "0xFacilitator", nil)

	result, err := f.Verify(context.Background(), types.PaymentPayload{}, crossChainRequirements())
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "missing_cross_chain_extension", result.InvalidReason)
}

func TestVerifyCrossChainRewritesPayToToFacilitatorAddress(t *testing.T) {
	f := New(nil, defaultProvider(), nil, true)
	scheme := &fakeScheme{verifyResult: &types.VerifyResponse{IsValid: true}}
	f.Register("exact", "eip155:1", scheme, "0xFacilitator", nil)

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator" // matches so pre-verify passes
	_, err := f.Verify(context.Background(), crossChainPayload(), req)
	require.NoError(t, err)
	assert.Equal(t, "0xFacilitator", scheme.lastReq.PayTo)
}

func TestValidateCrossChainPreVerifyRejectsWrongPayTo(t *testing.T) {
	f := New(nil, defaultProvider(), nil, true)
	f.Register("exact", "eip155:1", &fakeScheme{}, "0xFacilitator", nil)

	req := crossChainRequirements()
	req.PayTo = "0xSomeoneElse"
	reason := f.validateCrossChainPreVerify(context.Background(), crossChainPayload(), req)
	assert.Equal(t, "invalid_source_pay_to", reason)
}

func TestValidateCrossChainPreVerifyRejectsMalformedDestinationPayTo(t *testing.T) {
	f := New(nil, defaultProvider(), nil, true)
	f.Register("exact", "eip155:1", &fakeScheme{}, "0xFacilitator", nil)

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator"
	payload := types.PaymentPayload{
		Extensions: map[string]interface{}{
			"cross-chain": map[string]interface{}{
				"destinationNetwork": "eip155:8453",
				"destinationAsset":   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				"destinationPayTo":   "not-an-address",
			},
		},
	}
	reason := f.validateCrossChainPreVerify(context.Background(), payload, req)
	assert.Equal(t, "invalid_destination_pay_to", reason)
}

func TestValidateCrossChainPreVerifyRejectsUnsupportedChain(t *testing.T) {
	provider := defaultProvider()
	provider.supported["eip155:8453"] = false
	f := New(nil, provider, nil, true)
	f.Register("exact", "eip155:1", &fakeScheme{}, "0xFacilitator", nil)

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator"
	reason := f.validateCrossChainPreVerify(context.Background(), crossChainPayload(), req)
	assert.Equal(t, "unsupported_chain_pair", reason)
}

func TestValidateCrossChainPreVerifyRejectsNonUSDCSource(t *testing.T) {
	provider := defaultProvider()
	provider.usdc["0xSourceUSDC|eip155:1"] = false
	f := New(nil, provider, nil, true)
	f.Register("exact", "eip155:1", &fakeScheme{}, "0xFacilitator", nil)

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator"
	reason := f.validateCrossChainPreVerify(context.Background(), crossChainPayload(), req)
	assert.Equal(t, "unsupported_source_asset", reason)
}

func TestValidateCrossChainPreVerifyRejectsInsufficientLiquidity(t *testing.T) {
	provider := defaultProvider()
	provider.liquidityOK = false
	f := New(nil, provider, nil, true)
	f.Register("exact", "eip155:1", &fakeScheme{}, "0xFacilitator", nil)

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator"
	reason := f.validateCrossChainPreVerify(context.Background(), crossChainPayload(), req)
	assert.Equal(t, "insufficient_bridge_liquidity", reason)
}

func TestSettleTriggersBridgeEnqueueOnCrossNetworkSuccess(t *testing.T) {
	provider := defaultProvider()
	f := New(nil, provider, nil, true)
	scheme := &fakeScheme{settleResult: &types.SettleResponse{Success: true, Transaction: "0xsettletx", Network: "eip155:1"}}
	f.Register("exact", "eip155:1", scheme, "0xFacilitator", nil)

	var enqueued *bridge.EnqueueRequest
	f.SetBridgeEnqueue(func(ctx context.Context, req bridge.EnqueueRequest) {
		enqueued = &req
	})

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator"
	result, err := f.Settle(context.Background(), crossChainPayload(), req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, enqueued)
	assert.Equal(t, "eip155:1", enqueued.SourceNetwork)
	assert.Equal(t, "eip155:8453", enqueued.DestinationNetwork)
	assert.Equal(t, "0xsettletx", enqueued.SourceTxHash)
}

func TestSettleDoesNotEnqueueWhenCrossChainDisabled(t *testing.T) {
	provider := defaultProvider()
	f := New(nil, provider, nil, false)
	scheme := &fakeScheme{settleResult: &types.SettleResponse{Success: true, Transaction: "0xsettletx", Network: "eip155:1"}}
	f.Register("exact", "eip155:1", scheme, "0xFacilitator", nil)

	called := false
	f.SetBridgeEnqueue(func(ctx context.Context, req bridge.EnqueueRequest) {
		called = true
	})

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator"
	_, err := f.Settle(context.Background(), crossChainPayload(), req)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestSettleDoesNotEnqueueWhenSettleFails(t *testing.T) {
	provider := defaultProvider()
	f := New(nil, provider, nil, true)
	scheme := &fakeScheme{settleResult: &types.SettleResponse{Success: false, ErrorReason: "insufficient_funds"}}
	f.Register("exact", "eip155:1", scheme, "0xFacilitator", nil)

	called := false
	f.SetBridgeEnqueue(func(ctx context.Context, req bridge.EnqueueRequest) {
		called = true
	})

	req := crossChainRequirements()
	req.PayTo = "0xFacilitator"
	_, err := f.Settle(context.Background(), crossChainPayload(), req)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestSupportedAssemblesKindsAndSigners(t *testing.T) {
	f := New(nil, nil, nil, true)
	f.Register("exact", "eip155:1", &fakeScheme{}, "0xFacilitator1", map[string]interface{}{"name": "USDC"})
	f.Register("exact", "eip155:8453", &fakeScheme{}, "0xFacilitator1", nil)

	supported := f.Supported()
	assert.Len(t, supported.Kinds, 2)
	assert.Contains(t, supported.Extensions, "cross-chain")
	assert.Equal(t, []string{"0xFacilitator1"}, supported.Signers["evm"])
}

func TestRegisterDedupsSignerAddressesCaseInsensitively(t *testing.T) {
	f := New(nil, nil, nil, true)
	f.Register("exact", "eip155:1", &fakeScheme{}, "0xABCDEF", nil)
	f.Register("exact", "eip155:8453", &fakeScheme{}, "0xabcdef", nil)

	supported := f.Supported()
	assert.Len(t, supported.Signers["evm"], 1)
}

func TestSchemeDispatchTagMapsCrossChainToExact(t *testing.T) {
	assert.Equal(t, "exact", schemeDispatchTag("cross-chain"))
	assert.Equal(t, "exact", schemeDispatchTag("exact"))
}
