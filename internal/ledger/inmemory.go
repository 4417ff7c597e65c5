package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

type accountState struct {
	mu          sync.Mutex
	clearing    big.Int
	prepaid     big.Int
	settlements map[string]settlementRecord
}

type reservationRecord struct {
	accountID    string
	fromPrepaid  *big.Int
	fromClearing *big.Int
}

type settlementRecord struct {
	entry     Entry
	appliedAt time.Time
}

type inMemoryTracker struct {
	mu       sync.RWMutex
	accounts map[string]*accountState

	bookMu       sync.Mutex
	reservations map[string]reservationRecord

	retention time.Duration
	now       func() time.Time
}

// NewInMemory creates a concurrency-safe in-process balance tracker.
// Idempotency records for settlement application are retained for the given
// window; zero uses a 24h default.
func NewInMemory(retention time.Duration) BalanceTracker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &inMemoryTracker{
		accounts:     make(map[string]*accountState),
		reservations: make(map[string]reservationRecord),
		retention:    retention,
		now:          time.Now,
	}
}

func (t *inMemoryTracker) state(accountID string) *accountState {
	t.mu.RLock()
	st, ok := t.accounts[accountID]
	t.mu.RUnlock()
	if ok {
		return st
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.accounts[accountID]; ok {
		return st
	}
	st = &accountState{settlements: make(map[string]settlementRecord)}
	t.accounts[accountID] = st
	return st
}

func (t *inMemoryTracker) Entry(_ context.Context, accountID string) (Entry, error) {
	st := t.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshot(st), nil
}

func (t *inMemoryTracker) Reserve(_ context.Context, accountID string, amount, minBalance *big.Int) (Reservation, error) {
	if amount.Sign() < 0 {
		return Reservation{}, ErrAmountNegative
	}
	if minBalance == nil {
		minBalance = big.NewInt(0)
	}

	st := t.state(accountID)
	st.mu.Lock()

	// available = prepaid + (clearing - minBalance)
	available := new(big.Int).Sub(&st.clearing, minBalance)
	available.Add(available, &st.prepaid)
	if available.Cmp(amount) < 0 {
		st.mu.Unlock()
		return Reservation{}, ErrInsufficientFunds
	}

	fromPrepaid := new(big.Int).Set(amount)
	if fromPrepaid.Cmp(&st.prepaid) > 0 {
		fromPrepaid.Set(&st.prepaid)
	}
	fromClearing := new(big.Int).Sub(amount, fromPrepaid)
	st.prepaid.Sub(&st.prepaid, fromPrepaid)
	st.clearing.Sub(&st.clearing, fromClearing)
	st.mu.Unlock()

	res := Reservation{
		Token:     uuid.NewString(),
		AccountID: accountID,
		Amount:    new(big.Int).Set(amount),
	}

	t.bookMu.Lock()
	t.reservations[res.Token] = reservationRecord{
		accountID:    accountID,
		fromPrepaid:  fromPrepaid,
		fromClearing: fromClearing,
	}
	t.bookMu.Unlock()

	return res, nil
}

func (t *inMemoryTracker) Commit(_ context.Context, res Reservation) error {
	// Consuming the token is all a commit needs: the debit already applied
	// at reserve time becomes permanent.
	t.bookMu.Lock()
	delete(t.reservations, res.Token)
	t.bookMu.Unlock()
	return nil
}

func (t *inMemoryTracker) Void(_ context.Context, res Reservation) error {
	t.bookMu.Lock()
	rec, ok := t.reservations[res.Token]
	if ok {
		delete(t.reservations, res.Token)
	}
	t.bookMu.Unlock()
	if !ok {
		// Already committed or voided; first consumer won.
		return nil
	}

	st := t.state(rec.accountID)
	st.mu.Lock()
	st.prepaid.Add(&st.prepaid, rec.fromPrepaid)
	st.clearing.Add(&st.clearing, rec.fromClearing)
	st.mu.Unlock()
	return nil
}

func (t *inMemoryTracker) AdjustClearing(_ context.Context, accountID string, delta *big.Int) (Entry, error) {
	st := t.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.clearing.Add(&st.clearing, delta)
	return snapshot(st), nil
}

func (t *inMemoryTracker) PrepareSettlement(_ context.Context, accountID string, threshold, settleTo *big.Int) (*big.Int, error) {
	if settleTo == nil {
		settleTo = big.NewInt(0)
	}
	st := t.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.clearing.Cmp(threshold) < 0 {
		return nil, nil
	}
	requested := new(big.Int).Sub(&st.clearing, settleTo)
	if requested.Sign() <= 0 {
		return nil, nil
	}
	st.clearing.Sub(&st.clearing, requested)
	return requested, nil
}

func (t *inMemoryTracker) ApplySettlement(_ context.Context, idempotencyKey, accountID string, amount *big.Int) (Entry, error) {
	if amount.Sign() < 0 {
		return Entry{}, ErrAmountNegative
	}

	// The account lock is held across the whole application so a concurrent
	// replay of the same key cannot interleave between the idempotency check
	// and the balance mutation. Settlement records live on the account state,
	// so settlements for other accounts proceed independently.
	st := t.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	t.pruneSettlementsLocked(st)
	if rec, ok := st.settlements[idempotencyKey]; ok {
		return copyEntry(rec.entry), nil
	}

	if st.clearing.Sign() >= 0 {
		st.prepaid.Add(&st.prepaid, amount)
	} else {
		// Extinguish debt before banking any surplus as prepaid funds.
		offset := new(big.Int).Neg(&st.clearing)
		if offset.Cmp(amount) > 0 {
			offset.Set(amount)
		}
		st.clearing.Add(&st.clearing, offset)
		leftover := new(big.Int).Sub(amount, offset)
		st.prepaid.Add(&st.prepaid, leftover)
	}
	entry := snapshot(st)

	st.settlements[idempotencyKey] = settlementRecord{entry: copyEntry(entry), appliedAt: t.now()}
	return entry, nil
}

func (t *inMemoryTracker) pruneSettlementsLocked(st *accountState) {
	cutoff := t.now().Add(-t.retention)
	for key, rec := range st.settlements {
		if rec.appliedAt.Before(cutoff) {
			delete(st.settlements, key)
		}
	}
}

func snapshot(st *accountState) Entry {
	return Entry{
		ClearingBalance: new(big.Int).Set(&st.clearing),
		PrepaidAmount:   new(big.Int).Set(&st.prepaid),
	}
}

func copyEntry(e Entry) Entry {
	return Entry{
		ClearingBalance: new(big.Int).Set(e.ClearingBalance),
		PrepaidAmount:   new(big.Int).Set(e.PrepaidAmount),
	}
}
