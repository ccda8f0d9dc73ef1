// Package orchestrator implements the facilitator's scheme-agnostic
// dispatch logic (C5): scheme registry, lifecycle hooks, cross-chain
// pre-verify validation, and the after-settle bridging trigger.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/MarcoBrian/RailBridge/internal/bridge"
	"github.com/MarcoBrian/RailBridge/internal/extension"
	"github.com/MarcoBrian/RailBridge/types"
)

// Scheme is implemented by every registered payment scheme (exact-evm
// today; any future scheme plugs in the same way).
type Scheme interface {
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error)
}

type schemeKey struct {
	scheme  string
	network string
}

// Facilitator is the orchestrator: a scheme registry plus the lifecycle
// hooks that fire around every verify/settle call.
type Facilitator struct {
	mu      sync.RWMutex
	schemes map[schemeKey]Scheme
	extra   map[schemeKey]map[string]interface{}
	signers map[string][]string // chain family -> addresses

	bridgeProvider bridge.Provider
	bridgeStore    bridge.Store
	bridgeEnqueue  func(ctx context.Context, job bridge.EnqueueRequest)
	crossChainOn   bool
	facilitatorAddr map[string]string // source network -> facilitator address

	beforeVerify    []BeforeVerifyHook
	afterVerify     []AfterVerifyHook
	onVerifyFailure []OnVerifyFailureHook
	beforeSettle    []BeforeSettleHook
	afterSettle     []AfterSettleHook
	onSettleFailure []OnSettleFailureHook

	logger *slog.Logger
}

// New constructs an empty orchestrator.
func New(logger *slog.Logger, bridgeProvider bridge.Provider, bridgeStore bridge.Store, crossChainEnabled bool) *Facilitator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facilitator{
		schemes:         make(map[schemeKey]Scheme),
		extra:           make(map[schemeKey]map[string]interface{}),
		signers:         make(map[string][]string),
		facilitatorAddr: make(map[string]string),
		bridgeProvider:  bridgeProvider,
		bridgeStore:     bridgeStore,
		crossChainOn:    crossChainEnabled,
		logger:          logger,
	}
}

// Register binds a scheme implementation to a (scheme, network) pair and
// records the facilitator's own address on that network (needed for the
// cross-chain router's payTo rewrite and pre-verify checks).
func (f *Facilitator) Register(scheme, network string, impl Scheme, facilitatorAddress string, extra map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := schemeKey{scheme: scheme, network: network}
	f.schemes[k] = impl
	f.extra[k] = extra
	if facilitatorAddress != "" {
		f.facilitatorAddr[network] = facilitatorAddress
		family := "evm"
		addrs := f.signers[family]
		for _, a := range addrs {
			if strings.EqualFold(a, facilitatorAddress) {
				return
			}
		}
		f.signers[family] = append(addrs, facilitatorAddress)
	}
}

// SetBridgeEnqueue wires the after-settle bridging trigger to the bridge
// worker's enqueue path. Kept as an injected func rather than a direct
// dependency so the orchestrator can be built independently of the worker
// in tests.
func (f *Facilitator) SetBridgeEnqueue(fn func(ctx context.Context, job bridge.EnqueueRequest)) {
	f.bridgeEnqueue = fn
}

func (f *Facilitator) OnBeforeVerify(h BeforeVerifyHook)       { f.beforeVerify = append(f.beforeVerify, h) }
func (f *Facilitator) OnAfterVerify(h AfterVerifyHook)         { f.afterVerify = append(f.afterVerify, h) }
func (f *Facilitator) OnVerifyFailure(h OnVerifyFailureHook)   { f.onVerifyFailure = append(f.onVerifyFailure, h) }
func (f *Facilitator) OnBeforeSettle(h BeforeSettleHook)       { f.beforeSettle = append(f.beforeSettle, h) }
func (f *Facilitator) OnAfterSettle(h AfterSettleHook)         { f.afterSettle = append(f.afterSettle, h) }
func (f *Facilitator) OnSettleFailure(h OnSettleFailureHook)   { f.onSettleFailure = append(f.onSettleFailure, h) }

func (f *Facilitator) lookup(scheme, network string) (Scheme, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.schemes[schemeKey{scheme: scheme, network: network}]
	return s, ok
}

// Verify runs the full verify dispatch: pre-verify cross-chain validation,
// before-hooks, scheme delegation, after/failure hooks.
func (f *Facilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	vctx := VerifyContext{Ctx: ctx, Payload: payload, Requirements: requirements}

	for _, h := range f.beforeVerify {
		if r := h(vctx); r.Abort {
			return &types.VerifyResponse{IsValid: false, InvalidReason: r.Reason}, nil
		}
	}

	if requirements.Scheme == "cross-chain" {
		if reason := f.validateCrossChainPreVerify(ctx, payload, requirements); reason != "" {
			result := &types.VerifyResponse{IsValid: false, InvalidReason: reason}
			f.runVerifyFailureHooks(vctx, NewVerifyError(reason, "", requirements.Network, nil))
			return result, nil
		}
	}

	scheme, ok := f.lookup(schemeDispatchTag(requirements.Scheme), requirements.Network)
	if !ok {
		result := &types.VerifyResponse{IsValid: false, InvalidReason: "unsupported_scheme"}
		f.runVerifyFailureHooks(vctx, NewVerifyError("unsupported_scheme", "", requirements.Network, nil))
		return result, nil
	}

	effectiveReq := requirements
	if requirements.Scheme == "cross-chain" {
		effectiveReq.PayTo = f.facilitatorAddr[requirements.Network]
	}

	result, err := scheme.Verify(ctx, payload, effectiveReq)
	if err != nil {
		f.logger.Error("verify infrastructure error", "network", requirements.Network, "scheme", requirements.Scheme, "error", err)
		f.runVerifyFailureHooks(vctx, NewVerifyError("infrastructure_error", "", requirements.Network, err))
		return nil, err
	}

	for _, h := range f.afterVerify {
		h(VerifyResultContext{VerifyContext: vctx, Result: result})
	}
	return result, nil
}

func (f *Facilitator) runVerifyFailureHooks(vctx VerifyContext, err error) {
	fctx := VerifyFailureContext{VerifyContext: vctx, Error: err}
	for _, h := range f.onVerifyFailure {
		h(fctx)
	}
}

// Settle runs the full settle dispatch, including the cross-chain router's
// payTo rewrite and the after-settle bridging trigger.
func (f *Facilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	sctx := SettleContext{Ctx: ctx, Payload: payload, Requirements: requirements}

	for _, h := range f.beforeSettle {
		if r := h(sctx); r.Abort {
			return &types.SettleResponse{Success: false, ErrorReason: r.Reason, Network: requirements.Network}, nil
		}
	}

	isCrossChain := requirements.Scheme == "cross-chain"
	var crossChainInfo *types.CrossChainInfo
	if isCrossChain {
		if reason := f.validateCrossChainPreVerify(ctx, payload, requirements); reason != "" {
			result := &types.SettleResponse{Success: false, ErrorReason: reason, Network: requirements.Network}
			f.runSettleFailureHooks(sctx, NewSettleError(reason, "", requirements.Network, "", nil))
			return result, nil
		}
		crossChainInfo, _ = extension.ExtractCrossChainInfo(payload)
	}

	scheme, ok := f.lookup(schemeDispatchTag(requirements.Scheme), requirements.Network)
	if !ok {
		result := &types.SettleResponse{Success: false, ErrorReason: "unsupported_scheme", Network: requirements.Network}
		f.runSettleFailureHooks(sctx, NewSettleError("unsupported_scheme", "", requirements.Network, "", nil))
		return result, nil
	}

	effectiveReq := requirements
	if isCrossChain {
		effectiveReq.PayTo = f.facilitatorAddr[requirements.Network]
	}

	result, err := scheme.Settle(ctx, payload, effectiveReq)
	if err != nil {
		f.logger.Error("settle infrastructure error", "network", requirements.Network, "scheme", requirements.Scheme, "error", err)
		f.runSettleFailureHooks(sctx, NewSettleError("infrastructure_error", "", requirements.Network, "", err))
		return nil, err
	}

	for _, h := range f.afterSettle {
		h(SettleResultContext{SettleContext: sctx, Result: result})
	}

	if isCrossChain && result.Success && crossChainInfo != nil && f.crossChainOn &&
		!strings.EqualFold(requirements.Network, crossChainInfo.DestinationNetwork) && f.bridgeEnqueue != nil {
		f.bridgeEnqueue(ctx, bridge.EnqueueRequest{
			SourceNetwork:      requirements.Network,
			SourceTxHash:       result.Transaction,
			DestinationNetwork: crossChainInfo.DestinationNetwork,
			Amount:             requirements.Amount,
			DestinationAsset:   crossChainInfo.DestinationAsset,
			DestinationPayTo:   crossChainInfo.DestinationPayTo,
		})
	}

	return result, nil
}

func (f *Facilitator) runSettleFailureHooks(sctx SettleContext, err error) {
	fctx := SettleFailureContext{SettleContext: sctx, Error: err}
	for _, h := range f.onSettleFailure {
		h(fctx)
	}
}

// validateCrossChainPreVerify implements §4.5's mandatory cross-chain
// checks, returning the stable failure reason string or "" when all pass.
func (f *Facilitator) validateCrossChainPreVerify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) string {
	info, err := extension.ExtractCrossChainInfo(payload)
	if errors.Is(err, extension.ErrInvalidDestinationPayTo) {
		return "invalid_destination_pay_to"
	}
	if info == nil {
		return "missing_cross_chain_extension"
	}
	if f.bridgeProvider == nil {
		return "unsupported_chain_pair"
	}
	if !f.bridgeProvider.SupportsChain(requirements.Network) || !f.bridgeProvider.SupportsChain(info.DestinationNetwork) {
		return "unsupported_chain_pair"
	}
	if !f.bridgeProvider.IsUSDC(requirements.Asset, requirements.Network) {
		return "unsupported_source_asset"
	}
	if !f.bridgeProvider.IsUSDC(info.DestinationAsset, info.DestinationNetwork) {
		return "unsupported_destination_asset"
	}
	facilitatorSource, ok := f.facilitatorAddr[requirements.Network]
	if !ok || !strings.EqualFold(requirements.PayTo, facilitatorSource) {
		return "invalid_source_pay_to"
	}
	amount := requirements.Amount
	ok2, err := f.bridgeProvider.CheckLiquidity(ctx, requirements.Network, info.DestinationNetwork, requirements.Asset, amount)
	if err != nil || !ok2 {
		return "insufficient_bridge_liquidity"
	}
	if !strings.EqualFold(requirements.Asset, info.DestinationAsset) {
		rate, err := f.bridgeProvider.GetExchangeRate(ctx, requirements.Network, info.DestinationNetwork, requirements.Asset, info.DestinationAsset)
		if err != nil || rate <= 0 {
			return "invalid_exchange_rate"
		}
	}
	return ""
}

// Supported assembles the /supported payload: registered kinds, declared
// extensions, and signer addresses by chain family.
func (f *Facilitator) Supported() types.SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var kinds []types.SupportedKind
	for k, extra := range f.extra {
		kinds = append(kinds, types.SupportedKind{X402Version: 2, Scheme: k.scheme, Network: k.network, Extra: extra})
	}
	signers := make(map[string][]string, len(f.signers))
	for family, addrs := range f.signers {
		signers[family] = append([]string{}, addrs...)
	}
	return types.SupportedResponse{
		Kinds:      kinds,
		Extensions: []string{extension.Name},
		Signers:    signers,
	}
}

// schemeDispatchTag maps a requirements.scheme value to the registry tag.
// Cross-chain payments are verified/settled by the exact-evm scheme once
// the router has rewritten payTo; only the dispatch *key* differs.
func schemeDispatchTag(scheme string) string {
	if scheme == "cross-chain" {
		return "exact"
	}
	return scheme
}
