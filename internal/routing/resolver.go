package routing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/packet"
)

var (
	// ErrNoRoute indicates no prefix matches the destination address.
	ErrNoRoute = errors.New("no route for destination")

	// ErrAmountTooLarge indicates the adjusted amount exceeds the next
	// hop's per-packet policy limit.
	ErrAmountTooLarge = errors.New("amount exceeds next hop policy")

	// ErrExpiryTooSoon indicates the reduced expiry leaves no usable
	// forwarding window.
	ErrExpiryTooSoon = errors.New("packet expiry window too small")
)

// RateSource supplies the exchange multiplier between two assets. The
// identity source serves single-asset deployments.
type RateSource interface {
	Rate(sourceAsset, destinationAsset string) (decimal.Decimal, error)
}

// IdentityRates always answers 1. Useful when every peer shares one asset.
type IdentityRates struct{}

// Rate returns the identity multiplier.
func (IdentityRates) Rate(_, _ string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

// Resolver picks the next hop for a prepare packet and produces the
// adjusted outgoing packet: amount converted into the destination asset,
// expiry reduced by the per-hop safety margin. It never touches the ledger.
type Resolver struct {
	table Table
	rates RateSource
	store accounts.Store

	expiryMargin time.Duration
	minExpiry    time.Duration
	now          func() time.Time
}

// NewResolver builds a resolver. expiryMargin is subtracted from each
// forwarded packet's expiry; minExpiry is the smallest window worth
// forwarding at all.
func NewResolver(table Table, rates RateSource, store accounts.Store, expiryMargin, minExpiry time.Duration) *Resolver {
	if expiryMargin <= 0 {
		expiryMargin = time.Second
	}
	if minExpiry <= 0 {
		minExpiry = 500 * time.Millisecond
	}
	return &Resolver{
		table:        table,
		rates:        rates,
		store:        store,
		expiryMargin: expiryMargin,
		minExpiry:    minExpiry,
		now:          time.Now,
	}
}

// Resolve returns the destination account and the adjusted packet for one
// hop.
func (r *Resolver) Resolve(ctx context.Context, source accounts.Account, p packet.Prepare) (accounts.Account, packet.Prepare, error) {
	nextHopID, ok := r.table.BestRoute(p.Destination)
	if !ok {
		return accounts.Account{}, packet.Prepare{}, ErrNoRoute
	}

	destination, err := r.store.FindByID(ctx, nextHopID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return accounts.Account{}, packet.Prepare{}, ErrNoRoute
		}
		return accounts.Account{}, packet.Prepare{}, fmt.Errorf("load next hop %s: %w", nextHopID, err)
	}

	amount, err := r.convertAmount(source, destination, p.Amount)
	if err != nil {
		return accounts.Account{}, packet.Prepare{}, err
	}
	if destination.MaxPacketAmount != nil && amount.Cmp(destination.MaxPacketAmount) > 0 {
		return accounts.Account{}, packet.Prepare{}, ErrAmountTooLarge
	}

	expiresAt := p.ExpiresAt.Add(-r.expiryMargin)
	if expiresAt.Sub(r.now()) < r.minExpiry {
		return accounts.Account{}, packet.Prepare{}, ErrExpiryTooSoon
	}

	adjusted := p
	adjusted.Amount = amount
	adjusted.ExpiresAt = expiresAt
	return destination, adjusted, nil
}

func (r *Resolver) convertAmount(source, destination accounts.Account, amount *big.Int) (*big.Int, error) {
	if source.AssetCode == destination.AssetCode && source.AssetScale == destination.AssetScale {
		return new(big.Int).Set(amount), nil
	}
	rate, err := r.rates.Rate(source.AssetCode, destination.AssetCode)
	if err != nil {
		return nil, fmt.Errorf("rate %s/%s: %w", source.AssetCode, destination.AssetCode, err)
	}
	converted := decimal.NewFromBigInt(amount, 0).
		Mul(rate).
		Shift(int32(destination.AssetScale) - int32(source.AssetScale)).
		Floor()
	return converted.BigInt(), nil
}
