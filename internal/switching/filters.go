package switching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/events"
	"github.com/ubangi-pay/ubangi_switch/internal/ledger"
	"github.com/ubangi-pay/ubangi_switch/internal/packet"
)

// ExpiryFilter rejects packets whose expiry has already passed, before any
// reservation or forwarding work happens.
type ExpiryFilter struct {
	LocalAddress string
	Now          func() time.Time
}

// DoFilter implements SwitchFilter.
func (f *ExpiryFilter) DoFilter(ctx context.Context, _ accounts.Account, p packet.Prepare, next SwitchNext) packet.Response {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	if p.Expired(now()) {
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodeTransferTimedOut,
			Message:     "packet already expired",
			TriggeredBy: f.LocalAddress,
		})
	}
	return next(ctx, p)
}

// RateLimitFilter throttles packets per source account using a one-second
// Redis window. Fail-open on cache errors so a Redis hiccup degrades to
// unlimited throughput rather than an outage.
type RateLimitFilter struct {
	Cache        *redis.Client
	MaxPerSecond int64
	LocalAddress string
	Logger       *slog.Logger
}

// DoFilter implements SwitchFilter.
func (f *RateLimitFilter) DoFilter(ctx context.Context, source accounts.Account, p packet.Prepare, next SwitchNext) packet.Response {
	if f.Cache == nil || f.MaxPerSecond <= 0 {
		return next(ctx, p)
	}
	key := "rl:packets:" + source.ID
	cnt, err := f.Cache.Incr(ctx, key).Result()
	if err == nil && cnt == 1 {
		f.Cache.Expire(ctx, key, time.Second)
	}
	if err != nil {
		if f.Logger != nil {
			f.Logger.Warn("rate limit check failed", "account_id", source.ID, "error", err)
		}
		return next(ctx, p)
	}
	if cnt > f.MaxPerSecond {
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodeRateLimited,
			Message:     "too many packets, try again later",
			TriggeredBy: f.LocalAddress,
		})
	}
	return next(ctx, p)
}

// EventsFilter emits one event per packet outcome.
type EventsFilter struct {
	Sink events.Sink
}

// DoFilter implements SwitchFilter.
func (f *EventsFilter) DoFilter(ctx context.Context, source accounts.Account, p packet.Prepare, next SwitchNext) packet.Response {
	f.Sink.Emit(ctx, events.Event{Kind: events.KindPacketPrepared, AccountID: source.ID, Amount: p.Amount.String()})
	resp := next(ctx, p)
	if resp.Rejected() {
		f.Sink.Emit(ctx, events.Event{
			Kind:      events.KindPacketRejected,
			AccountID: source.ID,
			Amount:    p.Amount.String(),
			Code:      string(resp.Reject.Code),
		})
	} else {
		f.Sink.Emit(ctx, events.Event{Kind: events.KindPacketFulfilled, AccountID: source.ID, Amount: p.Amount.String()})
	}
	return resp
}

// SettlementTrigger is the coordinator hook run after a fulfill credits the
// source account's clearing balance.
type SettlementTrigger interface {
	MaybeSettle(ctx context.Context, account accounts.Account) error
}

// BalanceFilter is the link filter that turns a switched packet into a
// conditional balance mutation. It reserves against the destination account
// before delegating and finalizes after the whole inner chain returns, so
// no outcome can leave a reservation dangling. The reservation token is
// consumed exactly once whichever of fulfill, reject, or expiry wins.
type BalanceFilter struct {
	Tracker      ledger.BalanceTracker
	Settlement   SettlementTrigger
	LocalAddress string
	Logger       *slog.Logger
}

// DoFilter implements LinkFilter.
func (f *BalanceFilter) DoFilter(ctx context.Context, lc LinkContext, p packet.Prepare, next LinkNext) packet.Response {
	if lc.Source.MaxBalance != nil {
		entry, err := f.Tracker.Entry(ctx, lc.Source.ID)
		if err == nil {
			prospective := new(big.Int).Add(entry.ClearingBalance, lc.Inbound.Amount)
			if prospective.Cmp(lc.Source.MaxBalance) > 0 {
				return packet.RejectResponse(packet.Reject{
					Code:        packet.CodeInsufficientLiquidity,
					Message:     "packet would exceed maximum balance",
					TriggeredBy: f.LocalAddress,
				})
			}
		}
	}

	res, err := f.Tracker.Reserve(ctx, lc.Destination.ID, p.Amount, lc.Destination.EffectiveMinBalance())
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return packet.RejectResponse(packet.Reject{
				Code:        packet.CodeInsufficientLiquidity,
				Message:     "insufficient liquidity on outbound account",
				TriggeredBy: f.LocalAddress,
			})
		}
		correlationID := uuid.NewString()
		f.Logger.Error("balance reservation failed",
			"account_id", lc.Destination.ID, "correlation_id", correlationID, "error", err)
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodeInternalError,
			Message:     fmt.Sprintf("internal error, correlation id %s", correlationID),
			TriggeredBy: f.LocalAddress,
		})
	}

	// The send happens between reserve and finalize; neither side of the
	// ledger is locked while the packet is in flight.
	resp := next(ctx, p)

	if resp.Fulfill != nil {
		if !resp.Fulfill.Validates(p.ExecutionCondition) {
			f.void(ctx, res)
			return packet.RejectResponse(packet.Reject{
				Code:        packet.CodeInvalidFulfillment,
				Message:     "fulfillment does not match execution condition",
				TriggeredBy: f.LocalAddress,
			})
		}
		if err := f.Tracker.Commit(ctx, res); err != nil {
			f.Logger.Error("reservation commit failed", "account_id", lc.Destination.ID, "token", res.Token, "error", err)
		}
		if _, err := f.Tracker.AdjustClearing(ctx, lc.Source.ID, lc.Inbound.Amount); err != nil {
			f.Logger.Error("source credit failed", "account_id", lc.Source.ID, "error", err)
		} else if f.Settlement != nil {
			// Submission failures are already compensated and logged by the
			// coordinator; they never turn a fulfill into a reject.
			_ = f.Settlement.MaybeSettle(ctx, lc.Source)
		}
		return resp
	}

	f.void(ctx, res)
	return resp
}

func (f *BalanceFilter) void(ctx context.Context, res ledger.Reservation) {
	if err := f.Tracker.Void(ctx, res); err != nil {
		f.Logger.Error("reservation void failed", "account_id", res.AccountID, "token", res.Token, "error", err)
	}
}

// LinkEventsFilter counts outcomes at the link level, per destination.
type LinkEventsFilter struct {
	Sink events.Sink
}

// DoFilter implements LinkFilter.
func (f *LinkEventsFilter) DoFilter(ctx context.Context, lc LinkContext, p packet.Prepare, next LinkNext) packet.Response {
	resp := next(ctx, p)
	kind := events.KindPacketFulfilled
	code := ""
	if resp.Rejected() {
		kind = events.KindPacketRejected
		code = string(resp.Reject.Code)
	}
	f.Sink.Emit(ctx, events.Event{Kind: kind, AccountID: lc.Destination.ID, Amount: p.Amount.String(), Code: code})
	return resp
}
