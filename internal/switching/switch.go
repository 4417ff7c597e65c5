package switching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/link"
	"github.com/ubangi-pay/ubangi_switch/internal/packet"
	"github.com/ubangi-pay/ubangi_switch/internal/routing"
)

// SwitchNext invokes the remainder of the switch filter chain.
type SwitchNext func(ctx context.Context, p packet.Prepare) packet.Response

// SwitchFilter wraps the whole switching decision for one packet. A filter
// may short-circuit with its own reject, modify the packet before
// delegating, or inspect the response on the way back out.
type SwitchFilter interface {
	DoFilter(ctx context.Context, source accounts.Account, p packet.Prepare, next SwitchNext) packet.Response
}

// LinkContext carries the resolved hop into the link filters. Inbound is
// the original packet in the source account's asset, before conversion.
type LinkContext struct {
	Source      accounts.Account
	Destination accounts.Account
	Inbound     packet.Prepare
}

// LinkNext invokes the remainder of the link filter chain.
type LinkNext func(ctx context.Context, p packet.Prepare) packet.Response

// LinkFilter wraps the act of sending on the chosen outbound link.
type LinkFilter interface {
	DoFilter(ctx context.Context, lc LinkContext, p packet.Prepare, next LinkNext) packet.Response
}

// Switch is the packet dispatcher: it resolves the source account, runs the
// configured filter chain around next-hop resolution and the outbound send,
// and always returns a well-formed response. Filters execute in configured
// order on the way in and reverse order on the way out.
type Switch struct {
	store        accounts.Store
	resolver     *routing.Resolver
	links        *link.Registry
	filters      []SwitchFilter
	linkFilters  []LinkFilter
	localAddress string
	logger       *slog.Logger
	now          func() time.Time
}

// Config collects the dispatcher's explicitly owned collaborators.
type Config struct {
	Store        accounts.Store
	Resolver     *routing.Resolver
	Links        *link.Registry
	Filters      []SwitchFilter
	LinkFilters  []LinkFilter
	LocalAddress string
	Logger       *slog.Logger
}

// New builds a dispatcher.
func New(cfg Config) *Switch {
	return &Switch{
		store:        cfg.Store,
		resolver:     cfg.Resolver,
		links:        cfg.Links,
		filters:      cfg.Filters,
		linkFilters:  cfg.LinkFilters,
		localAddress: cfg.LocalAddress,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// SwitchPacket dispatches one prepare packet on behalf of a source account.
// Internal defects never escape: any panic in the chain becomes a T00
// reject carrying a correlation id.
func (s *Switch) SwitchPacket(ctx context.Context, sourceAccountID string, p packet.Prepare) (resp packet.Response) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("panic while switching packet",
				"account_id", sourceAccountID, "correlation_id", correlationID, "panic", fmt.Sprint(r))
			resp = s.internalReject(fmt.Sprintf("internal error, correlation id %s", correlationID))
		}
	}()

	source, err := s.store.FindByID(ctx, sourceAccountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return s.internalReject(fmt.Sprintf("no account found for %s", sourceAccountID))
		}
		correlationID := uuid.NewString()
		s.logger.Error("account lookup failed",
			"account_id", sourceAccountID, "correlation_id", correlationID, "error", err)
		return s.internalReject(fmt.Sprintf("internal error, correlation id %s", correlationID))
	}

	chain := s.composeSwitchChain(source)
	return chain(ctx, p)
}

func (s *Switch) composeSwitchChain(source accounts.Account) SwitchNext {
	next := func(ctx context.Context, p packet.Prepare) packet.Response {
		return s.forward(ctx, source, p)
	}
	for i := len(s.filters) - 1; i >= 0; i-- {
		filter, delegate := s.filters[i], next
		next = func(ctx context.Context, p packet.Prepare) packet.Response {
			return filter.DoFilter(ctx, source, p, delegate)
		}
	}
	return next
}

// forward is the terminal switch step: resolve the next hop, then run the
// link filter chain around the outbound send.
func (s *Switch) forward(ctx context.Context, source accounts.Account, p packet.Prepare) packet.Response {
	destination, adjusted, err := s.resolver.Resolve(ctx, source, p)
	if err != nil {
		return s.rejectForResolveError(err)
	}

	lc := LinkContext{Source: source, Destination: destination, Inbound: p}
	send := s.composeLinkChain(lc)
	return send(ctx, adjusted)
}

func (s *Switch) composeLinkChain(lc LinkContext) LinkNext {
	next := func(ctx context.Context, p packet.Prepare) packet.Response {
		return s.send(ctx, lc.Destination, p)
	}
	for i := len(s.linkFilters) - 1; i >= 0; i-- {
		filter, delegate := s.linkFilters[i], next
		next = func(ctx context.Context, p packet.Prepare) packet.Response {
			return filter.DoFilter(ctx, lc, p, delegate)
		}
	}
	return next
}

// send puts the packet on the destination's link, bounding the wait by the
// packet's own expiry. There is no mid-flight cancellation: the call
// returns with a definitive response or times out at the expiry.
func (s *Switch) send(ctx context.Context, destination accounts.Account, p packet.Prepare) packet.Response {
	l, err := s.links.Get(destination.ID)
	if err != nil {
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodeUnreachable,
			Message:     fmt.Sprintf("no link for account %s", destination.ID),
			TriggeredBy: s.localAddress,
		})
	}

	sendCtx, cancel := context.WithDeadline(ctx, p.ExpiresAt)
	defer cancel()

	resp, err := l.SendPacket(sendCtx, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || p.Expired(s.now()) {
			return packet.RejectResponse(packet.Reject{
				Code:        packet.CodeTransferTimedOut,
				Message:     "packet expired before a response arrived",
				TriggeredBy: s.localAddress,
			})
		}
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodePeerUnreachable,
			Message:     "outbound send failed",
			TriggeredBy: s.localAddress,
		})
	}
	return resp
}

func (s *Switch) rejectForResolveError(err error) packet.Response {
	switch {
	case errors.Is(err, routing.ErrNoRoute):
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodeUnreachable,
			Message:     "no route to destination",
			TriggeredBy: s.localAddress,
		})
	case errors.Is(err, routing.ErrAmountTooLarge):
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodeAmountTooLarge,
			Message:     "amount exceeds next hop limit",
			TriggeredBy: s.localAddress,
		})
	case errors.Is(err, routing.ErrExpiryTooSoon):
		return packet.RejectResponse(packet.Reject{
			Code:        packet.CodeTransferTimedOut,
			Message:     "insufficient expiry window to forward",
			TriggeredBy: s.localAddress,
		})
	default:
		correlationID := uuid.NewString()
		s.logger.Error("next hop resolution failed", "correlation_id", correlationID, "error", err)
		return s.internalReject(fmt.Sprintf("internal error, correlation id %s", correlationID))
	}
}

func (s *Switch) internalReject(message string) packet.Response {
	return packet.RejectResponse(packet.Reject{
		Code:        packet.CodeInternalError,
		Message:     message,
		TriggeredBy: s.localAddress,
	})
}
