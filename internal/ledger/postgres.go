package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foliosync/portfolio-core/internal/model"
	"github.com/jmoiron/sqlx"
)

const (
	_insertTrade = `INSERT INTO trades (
						id,
						identity_key,
						venue,
						symbol,
						side,
						quantity,
						price,
						currency,
						commission,
						commission_currency,
						executed_at,
						asset_name,
						isin,
						asset_type,
						source
					) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_getTrade = `SELECT id, venue, symbol, side, quantity, price, currency,
						commission, commission_currency, executed_at,
						asset_name, isin, asset_type, source, corrected_at
					FROM trades WHERE id = $1 AND deleted_at IS NULL`
	_updateTrade = `UPDATE trades SET
						identity_key = $2,
						quantity = $3,
						price = $4,
						commission = $5,
						asset_name = $6,
						executed_at = $7,
						corrected_at = $8
					WHERE id = $1 AND deleted_at IS NULL`
	_deleteTrade  = `UPDATE trades SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	_identityKeys = `SELECT identity_key, id FROM trades WHERE deleted_at IS NULL`
)

// PostgresStore keeps the ledger in the trades table. It is the only
// durable store the core owns.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, r model.TradeRecord) error {
	if _, err := s.db.ExecContext(ctx, _insertTrade,
		r.ID,
		r.IdentityKey(),
		r.Venue,
		r.Symbol,
		r.Side,
		r.Quantity,
		r.Price,
		r.Currency,
		r.Commission,
		r.CommissionCurrency,
		r.ExecutedAt,
		r.AssetName,
		r.ISIN,
		r.AssetType,
		r.Source,
	); err != nil {
		return fmt.Errorf("%w: can't insert trade", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]model.TradeRecord, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, venue, symbol, side, quantity, price, currency,
						commission, commission_currency, executed_at,
						asset_name, isin, asset_type, source, corrected_at
					FROM trades WHERE deleted_at IS NULL`)

	args := make([]interface{}, 0, 4)
	if f.Venue != "" {
		args = append(args, f.Venue)
		fmt.Fprintf(&query, " AND venue = $%d", len(args))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		fmt.Fprintf(&query, " AND symbol = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		fmt.Fprintf(&query, " AND executed_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		fmt.Fprintf(&query, " AND executed_at <= $%d", len(args))
	}
	query.WriteString(" ORDER BY executed_at, id")

	var records []model.TradeRecord
	if err := s.db.SelectContext(ctx, &records, query.String(), args...); err != nil {
		return nil, fmt.Errorf("%w: can't query trades", err)
	}
	return records, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.TradeRecord, error) {
	var r model.TradeRecord
	if err := s.db.GetContext(ctx, &r, _getTrade, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TradeRecord{}, ErrNotFound
		}
		return model.TradeRecord{}, fmt.Errorf("%w: can't get trade", err)
	}
	return r, nil
}

func (s *PostgresStore) Update(ctx context.Context, r model.TradeRecord) error {
	res, err := s.db.ExecContext(ctx, _updateTrade,
		r.ID,
		r.IdentityKey(),
		r.Quantity,
		r.Price,
		r.Commission,
		r.AssetName,
		r.ExecutedAt,
		r.CorrectedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: can't update trade", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, _deleteTrade, id, at)
	if err != nil {
		return fmt.Errorf("%w: can't delete trade", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IdentityKeys(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, _identityKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: can't query identity keys", err)
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("%w: can't scan identity key", err)
		}
		keys[key] = id
	}
	return keys, rows.Err()
}
