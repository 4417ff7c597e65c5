package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	balanceKeyPrefix     = "ledger:balances:"
	reservationKeyPrefix = "ledger:reservations:"
	settlementKeyPrefix  = "ledger:settlements:"
	scratchKeyPrefix     = "ledger:scratch:"
)

// Lua scripts give each operation a single server-side atomic step, so any
// number of switch instances can share one tracker without cross-process
// locks. Balances stay decimal strings end to end: every sum, comparison,
// and mutation runs through the INCRBY family of commands, which is exact
// int64 arithmetic on the server and errors on overflow. Lua numbers are
// float64 and lose integer precision above 2^53, so the scripts never
// convert a balance or amount through tonumber. The scratch key only lives
// inside a script invocation; scripts are atomic, so sharing it per account
// is safe.
var (
	reserveScript = redis.NewScript(`
local prepaid = redis.call('HGET', KEYS[1], 'prepaid') or '0'
local clearing = redis.call('HGET', KEYS[1], 'clearing') or '0'
local scratch = KEYS[3]
redis.call('SET', scratch, prepaid)
redis.call('INCRBY', scratch, clearing)
redis.call('DECRBY', scratch, ARGV[2])
redis.call('DECRBY', scratch, ARGV[1])
if string.sub(redis.call('GET', scratch), 1, 1) == '-' then
  redis.call('DEL', scratch)
  return redis.error_reply('insufficient funds')
end
redis.call('SET', scratch, prepaid)
redis.call('DECRBY', scratch, ARGV[1])
local covered = string.sub(redis.call('GET', scratch), 1, 1) ~= '-'
local from_prepaid
local from_clearing
if covered then
  from_prepaid = ARGV[1]
  from_clearing = '0'
else
  from_prepaid = prepaid
  redis.call('SET', scratch, ARGV[1])
  redis.call('DECRBY', scratch, prepaid)
  from_clearing = redis.call('GET', scratch)
end
redis.call('DEL', scratch)
if from_prepaid ~= '0' then
  redis.call('HINCRBY', KEYS[1], 'prepaid', '-' .. from_prepaid)
end
if from_clearing ~= '0' then
  redis.call('HINCRBY', KEYS[1], 'clearing', '-' .. from_clearing)
end
redis.call('HSET', KEYS[2], 'from_prepaid', from_prepaid, 'from_clearing', from_clearing)
redis.call('EXPIRE', KEYS[2], ARGV[3])
return redis.status_reply('OK')
`)

	commitScript = redis.NewScript(`
return redis.call('DEL', KEYS[1])
`)

	voidScript = redis.NewScript(`
local from_prepaid = redis.call('HGET', KEYS[2], 'from_prepaid')
if not from_prepaid then
  return 0
end
local from_clearing = redis.call('HGET', KEYS[2], 'from_clearing')
redis.call('DEL', KEYS[2])
if from_prepaid ~= '0' then
  redis.call('HINCRBY', KEYS[1], 'prepaid', from_prepaid)
end
if from_clearing ~= '0' then
  redis.call('HINCRBY', KEYS[1], 'clearing', from_clearing)
end
return 1
`)

	adjustClearingScript = redis.NewScript(`
local clearing = redis.call('HINCRBY', KEYS[1], 'clearing', ARGV[1])
local prepaid = redis.call('HGET', KEYS[1], 'prepaid') or '0'
return {tostring(clearing), prepaid}
`)

	prepareSettlementScript = redis.NewScript(`
local clearing = redis.call('HGET', KEYS[1], 'clearing') or '0'
local scratch = KEYS[2]
redis.call('SET', scratch, clearing)
redis.call('DECRBY', scratch, ARGV[1])
if string.sub(redis.call('GET', scratch), 1, 1) == '-' then
  redis.call('DEL', scratch)
  return false
end
redis.call('SET', scratch, clearing)
redis.call('DECRBY', scratch, ARGV[2])
local requested = redis.call('GET', scratch)
redis.call('DEL', scratch)
if requested == '0' or string.sub(requested, 1, 1) == '-' then
  return false
end
redis.call('HINCRBY', KEYS[1], 'clearing', '-' .. requested)
return requested
`)

	applySettlementScript = redis.NewScript(`
local prior = redis.call('HGET', KEYS[2], 'clearing')
if prior then
  return {prior, redis.call('HGET', KEYS[2], 'prepaid')}
end
local clearing = redis.call('HGET', KEYS[1], 'clearing') or '0'
if string.sub(clearing, 1, 1) ~= '-' then
  redis.call('HINCRBY', KEYS[1], 'prepaid', ARGV[1])
else
  local deficit = string.sub(clearing, 2)
  local scratch = KEYS[3]
  redis.call('SET', scratch, deficit)
  redis.call('DECRBY', scratch, ARGV[1])
  local absorbs = string.sub(redis.call('GET', scratch), 1, 1) ~= '-'
  if absorbs then
    redis.call('HINCRBY', KEYS[1], 'clearing', ARGV[1])
  else
    redis.call('HINCRBY', KEYS[1], 'clearing', deficit)
    redis.call('SET', scratch, ARGV[1])
    redis.call('DECRBY', scratch, deficit)
    local leftover = redis.call('GET', scratch)
    if leftover ~= '0' then
      redis.call('HINCRBY', KEYS[1], 'prepaid', leftover)
    end
  end
  redis.call('DEL', scratch)
end
local new_clearing = redis.call('HGET', KEYS[1], 'clearing') or '0'
local new_prepaid = redis.call('HGET', KEYS[1], 'prepaid') or '0'
redis.call('HSET', KEYS[2], 'clearing', new_clearing, 'prepaid', new_prepaid)
redis.call('EXPIRE', KEYS[2], ARGV[2])
return {new_clearing, new_prepaid}
`)
)

// RedisTracker keeps balances in Redis hashes mutated only through Lua
// scripts. Amounts must fit in int64; anything larger is refused rather
// than truncated.
type RedisTracker struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisTracker builds a tracker on the provided client. Reservation and
// idempotency records expire after retention; zero uses a 24h default.
func NewRedisTracker(client *redis.Client, retention time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisTracker{client: client, retention: retention}
}

func (t *RedisTracker) Entry(ctx context.Context, accountID string) (Entry, error) {
	vals, err := t.client.HMGet(ctx, balanceKeyPrefix+accountID, "clearing", "prepaid").Result()
	if err != nil {
		return Entry{}, fmt.Errorf("read balance: %w", err)
	}
	clearing, err := parseBalanceField(vals[0])
	if err != nil {
		return Entry{}, err
	}
	prepaid, err := parseBalanceField(vals[1])
	if err != nil {
		return Entry{}, err
	}
	return Entry{ClearingBalance: clearing, PrepaidAmount: prepaid}, nil
}

func (t *RedisTracker) Reserve(ctx context.Context, accountID string, amount, minBalance *big.Int) (Reservation, error) {
	if amount.Sign() < 0 {
		return Reservation{}, ErrAmountNegative
	}
	if minBalance == nil {
		minBalance = big.NewInt(0)
	}
	amt, err := toInt64(amount)
	if err != nil {
		return Reservation{}, err
	}
	minBal, err := toInt64(minBalance)
	if err != nil {
		return Reservation{}, err
	}

	token := uuid.NewString()
	keys := []string{balanceKeyPrefix + accountID, reservationKeyPrefix + token, scratchKeyPrefix + accountID}
	err = reserveScript.Run(ctx, t.client, keys, amt, minBal, int(t.retention.Seconds())).Err()
	if err != nil {
		if strings.Contains(err.Error(), "insufficient funds") {
			return Reservation{}, ErrInsufficientFunds
		}
		return Reservation{}, fmt.Errorf("reserve: %w", err)
	}

	return Reservation{Token: token, AccountID: accountID, Amount: new(big.Int).Set(amount)}, nil
}

func (t *RedisTracker) Commit(ctx context.Context, res Reservation) error {
	err := commitScript.Run(ctx, t.client, []string{reservationKeyPrefix + res.Token}).Err()
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

func (t *RedisTracker) Void(ctx context.Context, res Reservation) error {
	keys := []string{balanceKeyPrefix + res.AccountID, reservationKeyPrefix + res.Token}
	err := voidScript.Run(ctx, t.client, keys).Err()
	if err != nil {
		return fmt.Errorf("void reservation: %w", err)
	}
	return nil
}

func (t *RedisTracker) AdjustClearing(ctx context.Context, accountID string, delta *big.Int) (Entry, error) {
	d, err := toInt64(delta)
	if err != nil {
		return Entry{}, err
	}
	vals, err := adjustClearingScript.Run(ctx, t.client, []string{balanceKeyPrefix + accountID}, d).StringSlice()
	if err != nil {
		return Entry{}, fmt.Errorf("adjust clearing: %w", err)
	}
	return entryFromStrings(vals)
}

func (t *RedisTracker) PrepareSettlement(ctx context.Context, accountID string, threshold, settleTo *big.Int) (*big.Int, error) {
	if settleTo == nil {
		settleTo = big.NewInt(0)
	}
	th, err := toInt64(threshold)
	if err != nil {
		return nil, err
	}
	to, err := toInt64(settleTo)
	if err != nil {
		return nil, err
	}
	keys := []string{balanceKeyPrefix + accountID, scratchKeyPrefix + accountID}
	res, err := prepareSettlementScript.Run(ctx, t.client, keys, th, to).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("prepare settlement: %w", err)
	}
	s, ok := res.(string)
	if !ok {
		return nil, nil
	}
	requested, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid settlement amount %q", s)
	}
	return requested, nil
}

func (t *RedisTracker) ApplySettlement(ctx context.Context, idempotencyKey, accountID string, amount *big.Int) (Entry, error) {
	if amount.Sign() < 0 {
		return Entry{}, ErrAmountNegative
	}
	amt, err := toInt64(amount)
	if err != nil {
		return Entry{}, err
	}
	keys := []string{balanceKeyPrefix + accountID, settlementKeyPrefix + idempotencyKey, scratchKeyPrefix + accountID}
	vals, err := applySettlementScript.Run(ctx, t.client, keys, amt, int(t.retention.Seconds())).StringSlice()
	if err != nil {
		return Entry{}, fmt.Errorf("apply settlement: %w", err)
	}
	return entryFromStrings(vals)
}

func toInt64(v *big.Int) (int64, error) {
	if !v.IsInt64() {
		return 0, fmt.Errorf("amount %s exceeds the redis tracker's int64 range", v)
	}
	return v.Int64(), nil
}

func parseBalanceField(v any) (*big.Int, error) {
	if v == nil {
		return big.NewInt(0), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected balance field type %T", v)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored balance %q", s)
	}
	return n, nil
}

func entryFromStrings(vals []string) (Entry, error) {
	if len(vals) != 2 {
		return Entry{}, fmt.Errorf("unexpected balance reply of length %d", len(vals))
	}
	clearing, ok := new(big.Int).SetString(vals[0], 10)
	if !ok {
		return Entry{}, fmt.Errorf("invalid clearing balance %q", vals[0])
	}
	prepaid, ok := new(big.Int).SetString(vals[1], 10)
	if !ok {
		return Entry{}, fmt.Errorf("invalid prepaid amount %q", vals[1])
	}
	return Entry{ClearingBalance: clearing, PrepaidAmount: prepaid}, nil
}
