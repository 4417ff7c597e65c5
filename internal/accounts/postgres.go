package accounts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores accounts in PostgreSQL. Balance parameters are
// persisted as decimal strings so values never truncate at int64.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an account record.
func (r *PostgresRepository) Create(ctx context.Context, account Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts
        (id, asset_code, asset_scale, relation, settle_threshold, settle_to, min_balance, max_balance, max_packet_amount, settlement_engine_url, link_url, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		account.ID, account.AssetCode, int16(account.AssetScale), string(account.Relation),
		encodeBig(account.SettleThreshold), encodeBig(account.SettleTo),
		encodeBig(account.MinBalance), encodeBig(account.MaxBalance), encodeBig(account.MaxPacketAmount),
		account.SettlementEngineURL, account.LinkURL, account.CreatedAt.UTC())
	return err
}

// FindByID fetches account metadata by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT id, asset_code, asset_scale, relation, settle_threshold, settle_to, min_balance, max_balance, max_packet_amount, settlement_engine_url, link_url, created_at
        FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// UpdateSettlement replaces the admin-mutable settlement parameters and
// returns the updated account.
func (r *PostgresRepository) UpdateSettlement(ctx context.Context, id string, update SettlementUpdate) (Account, error) {
	row := r.db.QueryRow(ctx, `UPDATE accounts
        SET settle_threshold = $2, settle_to = $3, min_balance = $4, max_balance = $5, max_packet_amount = $6
        WHERE id = $1
        RETURNING id, asset_code, asset_scale, relation, settle_threshold, settle_to, min_balance, max_balance, max_packet_amount, settlement_engine_url, link_url, created_at`,
		id, encodeBig(update.SettleThreshold), encodeBig(update.SettleTo),
		encodeBig(update.MinBalance), encodeBig(update.MaxBalance), encodeBig(update.MaxPacketAmount))
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a         Account
		relation  string
		scale     int16
		threshold *string
		settleTo  *string
		minBal    *string
		maxBal    *string
		maxPacket *string
		createdAt time.Time
	)
	if err := row.Scan(&a.ID, &a.AssetCode, &scale, &relation, &threshold, &settleTo, &minBal, &maxBal, &maxPacket, &a.SettlementEngineURL, &a.LinkURL, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.AssetScale = uint8(scale)
	a.Relation = Relation(relation)
	a.CreatedAt = createdAt.UTC()

	var err error
	if a.SettleThreshold, err = decodeBig(threshold); err != nil {
		return Account{}, err
	}
	if a.SettleTo, err = decodeBig(settleTo); err != nil {
		return Account{}, err
	}
	if a.MinBalance, err = decodeBig(minBal); err != nil {
		return Account{}, err
	}
	if a.MaxBalance, err = decodeBig(maxBal); err != nil {
		return Account{}, err
	}
	if a.MaxPacketAmount, err = decodeBig(maxPacket); err != nil {
		return Account{}, err
	}
	return a, nil
}

func encodeBig(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func decodeBig(v *string) (*big.Int, error) {
	if v == nil {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(*v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored balance parameter %q", *v)
	}
	return n, nil
}
