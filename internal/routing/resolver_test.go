package routing

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/packet"
)

type fixedRates struct{ rate decimal.Decimal }

func (r fixedRates) Rate(_, _ string) (decimal.Decimal, error) { return r.rate, nil }

func setupResolver(t *testing.T, rates RateSource, dest accounts.Account) (*Resolver, accounts.Account) {
	t.Helper()
	repo := accounts.NewMemoryRepository()
	ctx := context.Background()

	source := accounts.Account{ID: "peer-src", AssetCode: "USD", AssetScale: 2, Relation: accounts.RelationPeer}
	if err := repo.Create(ctx, source); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if err := repo.Create(ctx, dest); err != nil {
		t.Fatalf("create destination: %v", err)
	}

	table := NewPrefixTable()
	table.AddRoute("g.peer", dest.ID)

	return NewResolver(table, rates, repo, time.Second, 500*time.Millisecond), source
}

func TestResolveAdjustsExpiryAndKeepsAmount(t *testing.T) {
	dest := accounts.Account{ID: "peer-dst", AssetCode: "USD", AssetScale: 2, Relation: accounts.RelationPeer}
	r, source := setupResolver(t, IdentityRates{}, dest)

	expiry := time.Now().Add(10 * time.Second)
	p := packet.Prepare{Destination: "g.peer.alice", Amount: big.NewInt(500), ExpiresAt: expiry}

	gotDest, adjusted, err := r.Resolve(context.Background(), source, p)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if gotDest.ID != "peer-dst" {
		t.Fatalf("unexpected destination %s", gotDest.ID)
	}
	if adjusted.Amount.Int64() != 500 {
		t.Fatalf("same-asset amount must not change, got %s", adjusted.Amount)
	}
	if !adjusted.ExpiresAt.Equal(expiry.Add(-time.Second)) {
		t.Fatalf("expiry not reduced by margin: %s", adjusted.ExpiresAt)
	}
}

func TestResolveConvertsAcrossAssets(t *testing.T) {
	// EUR at scale 4, rate 0.9 per source unit.
	dest := accounts.Account{ID: "peer-dst", AssetCode: "EUR", AssetScale: 4, Relation: accounts.RelationPeer}
	r, source := setupResolver(t, fixedRates{rate: decimal.RequireFromString("0.9")}, dest)

	p := packet.Prepare{Destination: "g.peer.alice", Amount: big.NewInt(100), ExpiresAt: time.Now().Add(10 * time.Second)}
	_, adjusted, err := r.Resolve(context.Background(), source, p)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	// 100 * 0.9 shifted from scale 2 to scale 4 = 9000.
	if adjusted.Amount.Int64() != 9000 {
		t.Fatalf("expected 9000, got %s", adjusted.Amount)
	}
}

func TestResolveNoRoute(t *testing.T) {
	dest := accounts.Account{ID: "peer-dst", AssetCode: "USD", AssetScale: 2, Relation: accounts.RelationPeer}
	r, source := setupResolver(t, IdentityRates{}, dest)

	p := packet.Prepare{Destination: "g.elsewhere.bob", Amount: big.NewInt(10), ExpiresAt: time.Now().Add(10 * time.Second)}
	if _, _, err := r.Resolve(context.Background(), source, p); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected no-route, got %v", err)
	}
}

func TestResolveEnforcesMaxPacketAmount(t *testing.T) {
	dest := accounts.Account{
		ID: "peer-dst", AssetCode: "USD", AssetScale: 2,
		Relation: accounts.RelationPeer, MaxPacketAmount: big.NewInt(100),
	}
	r, source := setupResolver(t, IdentityRates{}, dest)

	p := packet.Prepare{Destination: "g.peer.alice", Amount: big.NewInt(101), ExpiresAt: time.Now().Add(10 * time.Second)}
	if _, _, err := r.Resolve(context.Background(), source, p); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected amount-too-large, got %v", err)
	}
}

func TestResolveRejectsTightExpiry(t *testing.T) {
	dest := accounts.Account{ID: "peer-dst", AssetCode: "USD", AssetScale: 2, Relation: accounts.RelationPeer}
	r, source := setupResolver(t, IdentityRates{}, dest)

	// One second margin leaves less than the minimum window.
	p := packet.Prepare{Destination: "g.peer.alice", Amount: big.NewInt(10), ExpiresAt: time.Now().Add(1200 * time.Millisecond)}
	if _, _, err := r.Resolve(context.Background(), source, p); !errors.Is(err, ErrExpiryTooSoon) {
		t.Fatalf("expected expiry-too-soon, got %v", err)
	}
}

func TestPrefixTableLongestMatch(t *testing.T) {
	table := NewPrefixTable()
	table.AddRoute("g.", "fallback")
	table.AddRoute("g.peer", "peer-dst")

	if id, ok := table.BestRoute("g.peer.alice"); !ok || id != "peer-dst" {
		t.Fatalf("expected longest prefix peer-dst, got %s ok=%v", id, ok)
	}
	if id, ok := table.BestRoute("g.other.bob"); !ok || id != "fallback" {
		t.Fatalf("expected fallback, got %s ok=%v", id, ok)
	}
	table.RemoveRoute("g.")
	if _, ok := table.BestRoute("g.other.bob"); ok {
		t.Fatal("expected no route after removal")
	}
}

func TestPrefixTableSegmentBoundaries(t *testing.T) {
	table := NewPrefixTable()
	table.AddRoute("g.peer-b", "peer-b")

	if id, ok := table.BestRoute("g.peer-b.alice"); !ok || id != "peer-b" {
		t.Fatalf("expected peer-b, got %s ok=%v", id, ok)
	}
	if id, ok := table.BestRoute("g.peer-b"); !ok || id != "peer-b" {
		t.Fatalf("exact match expected, got %s ok=%v", id, ok)
	}
	if _, ok := table.BestRoute("g.peer-bob.store"); ok {
		t.Fatal("route must not match inside an address segment")
	}

	// A trailing dot names the same prefix.
	table.AddRoute("g.parent.", "parent")
	if id, ok := table.BestRoute("g.parent.child"); !ok || id != "parent" {
		t.Fatalf("expected parent, got %s ok=%v", id, ok)
	}
	table.RemoveRoute("g.parent")
	if _, ok := table.BestRoute("g.parent.child"); ok {
		t.Fatal("expected no route after removal")
	}
}
