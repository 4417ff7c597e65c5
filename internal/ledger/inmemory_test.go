package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"
)

func TestInMemoryReserveSplitsPrepaidFirst(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	SeedEntry(tr, "peer-a", 50, 30)

	res, err := tr.Reserve(ctx, "peer-a", big.NewInt(40), nil)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	entry, _ := tr.Entry(ctx, "peer-a")
	if entry.PrepaidAmount.Int64() != 0 {
		t.Fatalf("expected prepaid 0, got %s", entry.PrepaidAmount)
	}
	if entry.ClearingBalance.Int64() != 40 {
		t.Fatalf("expected clearing 40, got %s", entry.ClearingBalance)
	}

	// Voiding restores the exact split the debit was taken from.
	if err := tr.Void(ctx, res); err != nil {
		t.Fatalf("void failed: %v", err)
	}
	entry, _ = tr.Entry(ctx, "peer-a")
	if entry.PrepaidAmount.Int64() != 30 || entry.ClearingBalance.Int64() != 50 {
		t.Fatalf("void did not restore split: clearing=%s prepaid=%s", entry.ClearingBalance, entry.PrepaidAmount)
	}
}

func TestInMemoryReserveRespectsMinBalance(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	SeedEntry(tr, "peer-a", 10, 0)

	if _, err := tr.Reserve(ctx, "peer-a", big.NewInt(11), big.NewInt(0)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	// A negative floor extends the available balance.
	if _, err := tr.Reserve(ctx, "peer-a", big.NewInt(15), big.NewInt(-5)); err != nil {
		t.Fatalf("reserve against negative floor failed: %v", err)
	}
	entry, _ := tr.Entry(ctx, "peer-a")
	if entry.ClearingBalance.Int64() != -5 {
		t.Fatalf("expected clearing -5, got %s", entry.ClearingBalance)
	}
}

func TestInMemoryReservationConsumedOnce(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	SeedEntry(tr, "peer-a", 100, 0)

	res, err := tr.Reserve(ctx, "peer-a", big.NewInt(60), nil)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := tr.Commit(ctx, res); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// A late void must not credit anything back: first consumer won.
	if err := tr.Void(ctx, res); err != nil {
		t.Fatalf("replayed void errored: %v", err)
	}
	entry, _ := tr.Entry(ctx, "peer-a")
	if entry.ClearingBalance.Int64() != 40 {
		t.Fatalf("expected clearing 40 after commit+void, got %s", entry.ClearingBalance)
	}

	// Double void credits exactly once.
	res2, _ := tr.Reserve(ctx, "peer-a", big.NewInt(10), nil)
	tr.Void(ctx, res2)
	tr.Void(ctx, res2)
	entry, _ = tr.Entry(ctx, "peer-a")
	if entry.ClearingBalance.Int64() != 40 {
		t.Fatalf("expected clearing 40 after double void, got %s", entry.ClearingBalance)
	}
}

func TestInMemoryConservation(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	SeedEntry(tr, "peer-a", 500, 200)

	var fulfilled int64
	for i := 0; i < 20; i++ {
		res, err := tr.Reserve(ctx, "peer-a", big.NewInt(25), nil)
		if err != nil {
			t.Fatalf("reserve %d failed: %v", i, err)
		}
		if i%2 == 0 {
			tr.Commit(ctx, res)
			fulfilled += 25
		} else {
			tr.Void(ctx, res)
		}
	}

	entry, _ := tr.Entry(ctx, "peer-a")
	total := entry.ClearingBalance.Int64() + entry.PrepaidAmount.Int64()
	if total != 700-fulfilled {
		t.Fatalf("conservation violated: total=%d want %d", total, 700-fulfilled)
	}
}

func TestInMemoryConcurrentReservations(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	// Covers exactly 4 of 10 concurrent reservations of 25.
	SeedEntry(tr, "peer-a", 100, 0)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, insufficient int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Reserve(ctx, "peer-a", big.NewInt(25), nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 4 || insufficient != 6 {
		t.Fatalf("expected 4 successes and 6 rejections, got %d/%d", successes, insufficient)
	}
	entry, _ := tr.Entry(ctx, "peer-a")
	if entry.ClearingBalance.Int64() != 0 {
		t.Fatalf("expected clearing 0 after exhausting balance, got %s", entry.ClearingBalance)
	}
}

func TestApplySettlementOffsetOrdering(t *testing.T) {
	cases := []struct {
		name                      string
		clearing, prepaid, settle int64
		wantClearing, wantPrepaid int64
	}{
		{"debt fully extinguished", -1, 0, 1, 0, 0},
		{"debt cleared before prepaid touched", -1, 1, 1, 0, 1},
		{"no debt banks as prepaid", 0, 1, 1, 0, 2},
		{"positive clearing untouched", 10, 1, 10, 10, 11},
		{"offset capped at debt", -1, 10, 1, 0, 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewInMemory(time.Hour)
			ctx := context.Background()
			SeedEntry(tr, "peer-a", tc.clearing, tc.prepaid)

			entry, err := tr.ApplySettlement(ctx, "key-"+tc.name, "peer-a", big.NewInt(tc.settle))
			if err != nil {
				t.Fatalf("apply settlement failed: %v", err)
			}
			if entry.ClearingBalance.Int64() != tc.wantClearing || entry.PrepaidAmount.Int64() != tc.wantPrepaid {
				t.Fatalf("got clearing=%s prepaid=%s, want %d/%d",
					entry.ClearingBalance, entry.PrepaidAmount, tc.wantClearing, tc.wantPrepaid)
			}
		})
	}
}

func TestApplySettlementIdempotent(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	SeedEntry(tr, "peer-a", -5, 0)

	first, err := tr.ApplySettlement(ctx, "dup", "peer-a", big.NewInt(10))
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	// Replay with a different amount must not move balances again.
	second, err := tr.ApplySettlement(ctx, "dup", "peer-a", big.NewInt(999))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.ClearingBalance.Cmp(first.ClearingBalance) != 0 || second.PrepaidAmount.Cmp(first.PrepaidAmount) != 0 {
		t.Fatalf("replay changed result: %v vs %v", second, first)
	}

	entry, _ := tr.Entry(ctx, "peer-a")
	if entry.ClearingBalance.Int64() != 0 || entry.PrepaidAmount.Int64() != 5 {
		t.Fatalf("balance moved on replay: clearing=%s prepaid=%s", entry.ClearingBalance, entry.PrepaidAmount)
	}
}

func TestApplySettlementIndependentAcrossAccounts(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	SeedEntry(tr, "peer-a", 0, 0)
	SeedEntry(tr, "peer-b", 0, 0)

	// Hold one account's lock; a settlement for another account must not
	// queue behind it.
	im := tr.(*inMemoryTracker)
	st := im.state("peer-a")
	st.mu.Lock()
	defer st.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := tr.ApplySettlement(ctx, "unrelated-key", "peer-b", big.NewInt(10))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("apply settlement failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("settlement for an unrelated account blocked on another account's lock")
	}

	entry, _ := tr.Entry(ctx, "peer-b")
	if entry.PrepaidAmount.Int64() != 10 {
		t.Fatalf("expected prepaid 10, got %s", entry.PrepaidAmount)
	}
}

func TestPrepareSettlement(t *testing.T) {
	tr := NewInMemory(time.Hour)
	ctx := context.Background()
	SeedEntry(tr, "peer-a", 900, 0)

	requested, err := tr.PrepareSettlement(ctx, "peer-a", big.NewInt(1000), big.NewInt(0))
	if err != nil {
		t.Fatalf("prepare settlement failed: %v", err)
	}
	if requested != nil {
		t.Fatalf("expected no settlement below threshold, got %s", requested)
	}

	SeedEntry(tr, "peer-a", 1000, 0)
	requested, err = tr.PrepareSettlement(ctx, "peer-a", big.NewInt(1000), big.NewInt(0))
	if err != nil {
		t.Fatalf("prepare settlement failed: %v", err)
	}
	if requested == nil || requested.Int64() != 1000 {
		t.Fatalf("expected requested 1000, got %v", requested)
	}
	entry, _ := tr.Entry(ctx, "peer-a")
	if entry.ClearingBalance.Int64() != 0 {
		t.Fatalf("optimistic debit missing: clearing=%s", entry.ClearingBalance)
	}
}
