package events

import (
	"context"
	"log/slog"
)

const (
	// KindPacketPrepared indicates a prepare packet entered the switch.
	KindPacketPrepared = "packet_prepared"
	// KindPacketFulfilled indicates a packet completed with a fulfillment.
	KindPacketFulfilled = "packet_fulfilled"
	// KindPacketRejected indicates a packet completed with a reject.
	KindPacketRejected = "packet_rejected"
	// KindSettlementInitiated indicates an outbound settlement request was
	// accepted by the settlement engine.
	KindSettlementInitiated = "settlement_initiated"
	// KindSettlementFailed indicates an outbound settlement request could
	// not be submitted.
	KindSettlementFailed = "settlement_failed"
	// KindSettlementReceived indicates an incoming settlement was applied.
	KindSettlementReceived = "settlement_received"
)

// Event describes one packet or settlement outcome.
type Event struct {
	Kind      string
	AccountID string
	Amount    string
	Code      string
}

// Sink receives events for downstream metrics and monitoring systems.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LoggerSink is a stub implementation that writes events to the logger.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink constructs a logging event sink stub.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Emit writes the event to the structured logger.
func (s *LoggerSink) Emit(_ context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Info("event", "kind", event.Kind, "account_id", event.AccountID, "amount", event.Amount, "code", event.Code)
}
