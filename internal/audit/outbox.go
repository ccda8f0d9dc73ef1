// Package audit implements the event outbox (C10): structured logging of
// every bridge lifecycle transition plus a forward-compatible event
// envelope for downstream consumers.
package audit

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the bridge lifecycle events §4.10 requires at
// minimum.
type EventType string

const (
	EventBridgeStart   EventType = "bridge_start"
	EventBridgeAttempt EventType = "bridge_attempt"
	EventBridgeSuccess EventType = "bridge_success"
	EventBridgeFailure EventType = "bridge_failure"
)

// Envelope is the forward-compatible wrapper every event is logged through.
// Consumers of the resulting log stream must tolerate unrecognized fields
// in Payload.
type Envelope struct {
	EventID      string         `json:"eventId"`
	EventType    EventType      `json:"eventType"`
	EventVersion int            `json:"eventVersion"`
	OccurredAt   time.Time      `json:"occurredAt"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Payload      map[string]any `json:"payload"`
}

// Recorder emits structured lifecycle events via slog. It is deliberately
// a thin wrapper — at-least-once delivery here means "written to a
// durable log sink", not a separate message queue; the spec explicitly
// treats the outbox as foundational rather than prescribing a transport.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder constructs a Recorder over logger (or slog.Default() if nil).
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Record emits one event. jobID/idempotencyKey/sourceTx/sourceNetwork/
// destinationNetwork/amount/attempt/maxAttempts are logged as top-level
// fields per §4.10's minimum set; extra carries anything else (error,
// errorCode, recoverability, ...).
func (r *Recorder) Record(eventType EventType, jobID, idempotencyKey, sourceTx, sourceNetwork, destinationNetwork, amount string, attempt, maxAttempts int, extra map[string]any) {
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		EventVersion:   1,
		OccurredAt:     time.Now(),
		IdempotencyKey: idempotencyKey,
		Payload:        extra,
	}

	args := []any{
		"eventId", env.EventID,
		"eventType", string(eventType),
		"eventVersion", env.EventVersion,
		"occurredAt", env.OccurredAt,
		"jobId", jobID,
		"idempotencyKey", idempotencyKey,
		"sourceTx", sourceTx,
		"sourceNetwork", sourceNetwork,
		"destinationNetwork", destinationNetwork,
		"amount", amount,
		"attempt", attempt,
		"maxAttempts", maxAttempts,
	}
	for k, v := range extra {
		args = append(args, k, v)
	}

	level := slog.LevelInfo
	if eventType == EventBridgeFailure {
		level = slog.LevelError
	}
	r.logger.Log(nil, level, "bridge lifecycle event", args...)
}
