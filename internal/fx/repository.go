package fx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbit-erp/orbit/internal/platform/db"
)

// Repository persists currency rates in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LatestRate returns the most recent rate effective on or before the date.
func (r *Repository) LatestRate(ctx context.Context, from, to string, on time.Time) (Rate, bool, error) {
	var rate Rate
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT base_currency, quote_currency, rate_date, rate
FROM currency_rates
WHERE base_currency = $1 AND quote_currency = $2 AND rate_date <= $3
ORDER BY rate_date DESC
LIMIT 1`, from, to, on).Scan(&rate.From, &rate.To, &rate.Date, &rate.Rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rate{}, false, nil
		}
		return Rate{}, false, err
	}
	return rate, true, nil
}

// UpsertRate stores a rate, replacing any existing rate for the same pair and day.
func (r *Repository) UpsertRate(ctx context.Context, rate Rate) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO currency_rates (base_currency, quote_currency, rate_date, rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (base_currency, quote_currency, rate_date) DO UPDATE SET rate = EXCLUDED.rate, updated_at = NOW()`,
		normalize(rate.From), normalize(rate.To), rate.Date, rate.Rate)
	return err
}

// ListRates returns stored rates of a pair within [from, to].
func (r *Repository) ListRates(ctx context.Context, base, quote string, from, to time.Time) ([]Rate, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT base_currency, quote_currency, rate_date, rate
FROM currency_rates
WHERE base_currency = $1 AND quote_currency = $2 AND rate_date BETWEEN $3 AND $4
ORDER BY rate_date`, normalize(base), normalize(quote), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rate
	for rows.Next() {
		var rate Rate
		if err := rows.Scan(&rate.From, &rate.To, &rate.Date, &rate.Rate); err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}
