package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/events"
	"github.com/ubangi-pay/ubangi_switch/internal/ledger"
)

// Coordinator watches clearing-balance movement and drives the account's
// settlement engine. It never blocks packet switching: submission failures
// are compensated and reported, not propagated as packet outcomes.
type Coordinator struct {
	tracker ledger.BalanceTracker
	engine  EngineClient
	sink    events.Sink
	logger  *slog.Logger
}

// NewCoordinator wires a settlement coordinator.
func NewCoordinator(tracker ledger.BalanceTracker, engine EngineClient, sink events.Sink, logger *slog.Logger) *Coordinator {
	return &Coordinator{tracker: tracker, engine: engine, sink: sink, logger: logger}
}

// MaybeSettle evaluates the account's settlement threshold after a clearing
// balance mutation. When the threshold is reached it optimistically debits
// the clearing balance down to settleTo and submits an idempotent
// settlement request for the difference. A failure to even submit the
// request reverses the optimistic debit; a rejection-free submission leaves
// the pessimistic local balance in place until the engine's completion
// arrives through ReceiveIncoming.
func (c *Coordinator) MaybeSettle(ctx context.Context, account accounts.Account) error {
	if account.SettleThreshold == nil || account.SettlementEngineURL == "" {
		return nil
	}

	requested, err := c.tracker.PrepareSettlement(ctx, account.ID, account.SettleThreshold, account.SettleTo)
	if err != nil {
		return fmt.Errorf("prepare settlement: %w", err)
	}
	if requested == nil {
		return nil
	}

	idempotencyKey := uuid.NewString()
	quantity := QuantityFromBase(requested, account.AssetScale)

	committed, err := c.engine.InitiateSettlement(ctx, account.SettlementEngineURL, account.ID, idempotencyKey, quantity)
	if err != nil {
		// The request never reached the engine; put the optimistic debit
		// back so the balance stays correct.
		if _, refundErr := c.tracker.AdjustClearing(ctx, account.ID, requested); refundErr != nil {
			c.logger.Error("settlement refund failed", "account_id", account.ID, "amount", requested.String(), "error", refundErr)
		}
		c.sink.Emit(ctx, events.Event{Kind: events.KindSettlementFailed, AccountID: account.ID, Amount: requested.String()})
		c.logger.Warn("settlement submission failed", "account_id", account.ID, "amount", requested.String(), "error", err)
		return err
	}

	committedBase, _ := committed.BaseUnits(account.AssetScale)
	if committedBase.Cmp(requested) > 0 {
		// The settlement protocol guarantees the engine never settles more
		// than requested. Accounting stays capped at the requested amount.
		c.logger.Error("engine committed more than requested", "account_id", account.ID,
			"requested", requested.String(), "committed", committedBase.String())
	}

	c.sink.Emit(ctx, events.Event{Kind: events.KindSettlementInitiated, AccountID: account.ID, Amount: requested.String()})
	c.logger.Info("settlement initiated", "account_id", account.ID, "amount", requested.String(), "idempotency_key", idempotencyKey)
	return nil
}

// ReceiveIncoming applies a completed incoming settlement notification,
// converting the engine's scale to the connector's. Idempotent per key.
func (c *Coordinator) ReceiveIncoming(ctx context.Context, account accounts.Account, idempotencyKey string, quantity Quantity) (ledger.Entry, error) {
	amount, leftover := quantity.BaseUnits(account.AssetScale)
	if !leftover.IsZero() {
		c.logger.Warn("incoming settlement truncated to connector scale", "account_id", account.ID,
			"leftover", leftover.String(), "scale", account.AssetScale)
	}
	if amount.Sign() < 0 {
		return ledger.Entry{}, ledger.ErrAmountNegative
	}

	entry, err := c.tracker.ApplySettlement(ctx, idempotencyKey, account.ID, amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	c.sink.Emit(ctx, events.Event{Kind: events.KindSettlementReceived, AccountID: account.ID, Amount: amount.String()})
	return entry, nil
}

// SetupAccount provisions the settlement-side account for a newly created
// connector account, when one is configured.
func (c *Coordinator) SetupAccount(ctx context.Context, account accounts.Account) error {
	if account.SettlementEngineURL == "" {
		return nil
	}
	return c.engine.SetupAccount(ctx, account.SettlementEngineURL, account.ID)
}

// RelayMessage passes an opaque message to the account's settlement engine.
func (c *Coordinator) RelayMessage(ctx context.Context, account accounts.Account, message []byte) ([]byte, error) {
	if account.SettlementEngineURL == "" {
		return nil, fmt.Errorf("account %s has no settlement engine", account.ID)
	}
	return c.engine.SendMessage(ctx, account.SettlementEngineURL, account.ID, message)
}
