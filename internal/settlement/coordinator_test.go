package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/events"
	"github.com/ubangi-pay/ubangi_switch/internal/ledger"
	"github.com/ubangi-pay/ubangi_switch/internal/logging"
)

type engineCall struct {
	accountID      string
	idempotencyKey string
	amount         Quantity
}

type fakeEngine struct {
	calls    []engineCall
	fail     bool
	commit   func(requested Quantity) Quantity
	messages [][]byte
}

func (e *fakeEngine) SetupAccount(_ context.Context, _, _ string) error { return nil }

func (e *fakeEngine) InitiateSettlement(_ context.Context, _, accountID, key string, amount Quantity) (Quantity, error) {
	if e.fail {
		return Quantity{}, errors.New("engine unreachable")
	}
	e.calls = append(e.calls, engineCall{accountID: accountID, idempotencyKey: key, amount: amount})
	if e.commit != nil {
		return e.commit(amount), nil
	}
	return amount, nil
}

func (e *fakeEngine) SendMessage(_ context.Context, _, _ string, message []byte) ([]byte, error) {
	e.messages = append(e.messages, message)
	return []byte("ack"), nil
}

type nopSink struct{}

func (nopSink) Emit(_ context.Context, _ events.Event) {}

func testAccount(threshold, settleTo int64) accounts.Account {
	return accounts.Account{
		ID:                  "peer-a",
		AssetCode:           "USD",
		AssetScale:          2,
		Relation:            accounts.RelationPeer,
		SettleThreshold:     big.NewInt(threshold),
		SettleTo:            big.NewInt(settleTo),
		SettlementEngineURL: "http://engine.test",
	}
}

func TestMaybeSettleBelowThreshold(t *testing.T) {
	tracker := ledger.NewInMemory(time.Hour)
	engine := &fakeEngine{}
	c := NewCoordinator(tracker, engine, nopSink{}, logging.Discard())

	ledger.SeedEntry(tracker, "peer-a", 900, 0)
	require.NoError(t, c.MaybeSettle(context.Background(), testAccount(1000, 0)))
	require.Empty(t, engine.calls)

	entry, _ := tracker.Entry(context.Background(), "peer-a")
	require.EqualValues(t, 900, entry.ClearingBalance.Int64())
}

func TestMaybeSettleDebitsAndSubmits(t *testing.T) {
	tracker := ledger.NewInMemory(time.Hour)
	engine := &fakeEngine{}
	c := NewCoordinator(tracker, engine, nopSink{}, logging.Discard())

	ledger.SeedEntry(tracker, "peer-a", 1000, 0)
	require.NoError(t, c.MaybeSettle(context.Background(), testAccount(1000, 0)))

	require.Len(t, engine.calls, 1)
	call := engine.calls[0]
	require.Equal(t, "peer-a", call.accountID)
	require.NotEmpty(t, call.idempotencyKey)
	require.Equal(t, "1000", call.amount.Amount.String())
	require.EqualValues(t, 2, call.amount.Scale)

	// Optimistic debit is immediate: concurrent packets see the
	// post-settlement balance before the engine completes anything.
	entry, _ := tracker.Entry(context.Background(), "peer-a")
	require.EqualValues(t, 0, entry.ClearingBalance.Int64())

	// A second evaluation at the same balance does nothing, and a rerun
	// after more traffic uses a fresh key.
	require.NoError(t, c.MaybeSettle(context.Background(), testAccount(1000, 0)))
	require.Len(t, engine.calls, 1)

	ledger.SeedEntry(tracker, "peer-a", 1500, 0)
	require.NoError(t, c.MaybeSettle(context.Background(), testAccount(1000, 0)))
	require.Len(t, engine.calls, 2)
	require.NotEqual(t, engine.calls[0].idempotencyKey, engine.calls[1].idempotencyKey)
}

func TestMaybeSettleReversesOnSubmissionFailure(t *testing.T) {
	tracker := ledger.NewInMemory(time.Hour)
	engine := &fakeEngine{fail: true}
	c := NewCoordinator(tracker, engine, nopSink{}, logging.Discard())

	ledger.SeedEntry(tracker, "peer-a", 1200, 0)
	err := c.MaybeSettle(context.Background(), testAccount(1000, 0))
	require.Error(t, err)

	entry, _ := tracker.Entry(context.Background(), "peer-a")
	require.EqualValues(t, 1200, entry.ClearingBalance.Int64())
}

func TestMaybeSettlePartialCommitIsAccepted(t *testing.T) {
	tracker := ledger.NewInMemory(time.Hour)
	engine := &fakeEngine{commit: func(requested Quantity) Quantity {
		return Quantity{Amount: requested.Amount.Div(decimal.NewFromInt(2)).Floor(), Scale: requested.Scale}
	}}
	c := NewCoordinator(tracker, engine, nopSink{}, logging.Discard())

	ledger.SeedEntry(tracker, "peer-a", 1000, 0)
	require.NoError(t, c.MaybeSettle(context.Background(), testAccount(1000, 0)))

	// The local balance stays pessimistic; the shortfall comes back later
	// through an incoming settlement notification.
	entry, _ := tracker.Entry(context.Background(), "peer-a")
	require.EqualValues(t, 0, entry.ClearingBalance.Int64())
}

func TestReceiveIncomingConvertsScale(t *testing.T) {
	tracker := ledger.NewInMemory(time.Hour)
	c := NewCoordinator(tracker, &fakeEngine{}, nopSink{}, logging.Discard())

	// Engine reports 1.5 units at scale 0 against a scale-2 account.
	account := testAccount(0, 0)
	account.SettleThreshold = nil
	entry, err := c.ReceiveIncoming(context.Background(), account, "key-1",
		Quantity{Amount: decimal.RequireFromString("1.5"), Scale: 0})
	require.NoError(t, err)
	require.EqualValues(t, 150, entry.PrepaidAmount.Int64())

	// Replay under the same key is a no-op.
	entry, err = c.ReceiveIncoming(context.Background(), account, "key-1",
		Quantity{Amount: decimal.RequireFromString("1.5"), Scale: 0})
	require.NoError(t, err)
	require.EqualValues(t, 150, entry.PrepaidAmount.Int64())
}

func TestQuantityBaseUnitsFloors(t *testing.T) {
	q := Quantity{Amount: decimal.RequireFromString("105"), Scale: 3}
	amount, leftover := q.BaseUnits(2)
	require.EqualValues(t, 10, amount.Int64())
	require.Equal(t, "5", leftover.String())
}
