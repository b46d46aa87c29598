package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
)

// PostgresDirectory reads the trading_accounts table maintained by the
// account-metadata service.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a PostgreSQL-backed directory.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

const accountCols = `id, name, active, issuer_id, total_shares_issued, current_share_price::TEXT, fee_rate::TEXT`

func (d *PostgresDirectory) Get(ctx context.Context, id string) (*model.TradingAccount, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM trading_accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trading account %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trading account: %w", err)
	}
	return a, nil
}

func (d *PostgresDirectory) List(ctx context.Context) ([]model.TradingAccount, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+accountCols+` FROM trading_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.TradingAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// Put upserts an account. Intended for administrative seeding only.
func (d *PostgresDirectory) Put(ctx context.Context, a *model.TradingAccount) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO trading_accounts (id, name, active, issuer_id, total_shares_issued, current_share_price, fee_rate)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, active = EXCLUDED.active, issuer_id = EXCLUDED.issuer_id,
		     total_shares_issued = EXCLUDED.total_shares_issued,
		     current_share_price = EXCLUDED.current_share_price, fee_rate = EXCLUDED.fee_rate`,
		a.ID, a.Name, a.Active, a.IssuerID, a.TotalSharesIssued, a.CurrentSharePrice.String(), a.FeeRate.String())
	return err
}

func scanAccount(row pgx.Row) (*model.TradingAccount, error) {
	var a model.TradingAccount
	var price, fee string
	if err := row.Scan(&a.ID, &a.Name, &a.Active, &a.IssuerID, &a.TotalSharesIssued, &price, &fee); err != nil {
		return nil, err
	}
	a.CurrentSharePrice, _ = decimal.NewFromString(price)
	a.FeeRate, _ = decimal.NewFromString(fee)
	return &a, nil
}
