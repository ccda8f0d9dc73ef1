package orchestrator

import (
	"context"

	"github.com/MarcoBrian/RailBridge/types"
)

// VerifyContext carries everything a hook needs to inspect or react to a
// verify call.
type VerifyContext struct {
	Ctx          context.Context
	Payload      types.PaymentPayload
	Requirements types.PaymentRequirements
}

// VerifyResultContext is passed to after-verify hooks.
type VerifyResultContext struct {
	VerifyContext
	Result *types.VerifyResponse
}

// VerifyFailureContext is passed to on-verify-failure hooks.
type VerifyFailureContext struct {
	VerifyContext
	Error error
}

// SettleContext carries everything a hook needs for a settle call.
type SettleContext struct {
	Ctx          context.Context
	Payload      types.PaymentPayload
	Requirements types.PaymentRequirements
}

// SettleResultContext is passed to after-settle hooks.
type SettleResultContext struct {
	SettleContext
	Result *types.SettleResponse
}

// SettleFailureContext is passed to on-settle-failure hooks.
type SettleFailureContext struct {
	SettleContext
	Error error
}

// BeforeHookResult lets a before-hook abort the operation outright.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult is what a verify-failure hook returns. The
// orchestrator runs every such hook but does not read the result:
// Recovered and Result do not change the verify response.
type VerifyFailureHookResult struct {
	Recovered bool
	Result    *types.VerifyResponse
}

// SettleFailureHookResult is what a settle-failure hook returns. The
// orchestrator runs every such hook but does not read the result:
// Recovered and Result do not change the settle response.
type SettleFailureHookResult struct {
	Recovered bool
	Result    *types.SettleResponse
}

// Hook function types. Every hook is optional; the orchestrator runs all
// registered hooks of a kind in registration order.
type (
	BeforeVerifyHook    func(VerifyContext) BeforeHookResult
	AfterVerifyHook     func(VerifyResultContext)
	OnVerifyFailureHook func(VerifyFailureContext) VerifyFailureHookResult

	BeforeSettleHook    func(SettleContext) BeforeHookResult
	AfterSettleHook     func(SettleResultContext)
	OnSettleFailureHook func(SettleFailureContext) SettleFailureHookResult
)
