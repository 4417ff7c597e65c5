package link

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ubangi-pay/ubangi_switch/internal/packet"
)

// BreakerConfig tunes the per-link circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval over which closed-state counts are reset.
	Interval time.Duration
	// Timeout is the open-state cool-down before probing half-open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig suits most outbound links.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerLink isolates transport failures on one outbound link. Only
// transport-level errors count as breaker failures: a Reject returned by
// the remote party over a healthy transport is a normal protocol outcome
// and passes through unchanged, so a peer cannot be cut off merely for
// legitimately rejecting packets. While open, sends short-circuit to a
// local T01 reject without touching the transport.
type BreakerLink struct {
	inner   Link
	breaker *gobreaker.CircuitBreaker
	local   string
}

// NewBreakerLink wraps inner with a circuit breaker named for the account.
// localAddress appears as TriggeredBy on locally generated rejects.
func NewBreakerLink(accountID, localAddress string, inner Link, cfg BreakerConfig) *BreakerLink {
	settings := gobreaker.Settings{
		Name:        "link-" + accountID,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}
	return &BreakerLink{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		local:   localAddress,
	}
}

// SendPacket forwards through the breaker. Transport failures propagate as
// errors and count against the breaker; an open breaker answers with a
// local reject instead of touching the transport.
func (l *BreakerLink) SendPacket(ctx context.Context, p packet.Prepare) (packet.Response, error) {
	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.inner.SendPacket(ctx, p)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return packet.RejectResponse(packet.Reject{
				Code:        packet.CodePeerUnreachable,
				Message:     "outbound link unavailable",
				TriggeredBy: l.local,
			}), nil
		}
		return packet.Response{}, err
	}
	return result.(packet.Response), nil
}

// State exposes the breaker state for monitoring.
func (l *BreakerLink) State() gobreaker.State {
	return l.breaker.State()
}
