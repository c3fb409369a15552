package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	upsertRateSQL = `INSERT INTO exchange_rates (
        rate_date,
        usd_php_rate,
        dollar_index,
        ma20,
        ma50,
        synthetic,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (rate_date) DO UPDATE
    SET
        usd_php_rate = EXCLUDED.usd_php_rate,
        dollar_index = EXCLUDED.dollar_index,
        synthetic    = EXCLUDED.synthetic,
        created_at   = EXCLUDED.created_at;`

	rateColumns = `rate_date, usd_php_rate, dollar_index, ma20, ma50, synthetic, created_at`

	listRatesBetweenSQL = `SELECT ` + rateColumns + `
    FROM exchange_rates
    WHERE rate_date >= $1
      AND rate_date <= $2
    ORDER BY rate_date;`

	listRecentRatesSQL = `SELECT ` + rateColumns + `
    FROM exchange_rates
    ORDER BY rate_date DESC
    LIMIT $1;`

	latestRateSQL = `SELECT ` + rateColumns + `
    FROM exchange_rates
    WHERE rate_date <= $1
    ORDER BY rate_date DESC
    LIMIT 1;`

	earlierRateSQL = `SELECT ` + rateColumns + `
    FROM exchange_rates
    WHERE rate_date < $1
    ORDER BY rate_date DESC
    LIMIT 1;`

	setMovingAveragesSQL = `UPDATE exchange_rates
    SET ma20 = $2, ma50 = $3
    WHERE rate_date = $1;`

	countRatesSQL = `SELECT COUNT(*) FROM exchange_rates;`
)

// RateStore defines persistence operations for daily exchange rates.
type RateStore interface {
	Upsert(ctx context.Context, records []RateRecord) error
	Between(ctx context.Context, from, to time.Time) ([]RateRecord, error)
	Recent(ctx context.Context, limit int) ([]RateRecord, error)
	Latest(ctx context.Context) (RateRecord, error)
	EarlierThan(ctx context.Context, day time.Time) (RateRecord, error)
	SetMovingAverages(ctx context.Context, day time.Time, ma20, ma50 *decimal.Decimal) error
	Count(ctx context.Context) (int64, error)
}

// RateRepo provides typed access to the exchange_rates table.
type RateRepo struct {
	pool *pgxpool.Pool
}

// Upsert writes records keyed by date. An existing record for the same date
// is replaced in place (last write wins); derived MA columns are left alone
// so a recompute is not undone by an overlapping range sync.
func (r *RateRepo) Upsert(ctx context.Context, records []RateRecord) error {
	if r.pool == nil {
		return ErrNotConfigured
	}

	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.pool.Exec(ctx, upsertRateSQL,
			Day(rec.Date),
			rec.USDPHPRate.String(),
			decimalArg(rec.DollarIndex),
			decimalArg(rec.MA20),
			decimalArg(rec.MA50),
			rec.Synthetic,
			createdAt,
		)
		if err != nil {
			return storeErr("upsert rate", err)
		}
	}
	return nil
}

// Between lists records within an inclusive calendar-day range, ascending.
func (r *RateRepo) Between(ctx context.Context, from, to time.Time) ([]RateRecord, error) {
	if r.pool == nil {
		return nil, ErrNotConfigured
	}

	rows, err := r.pool.Query(ctx, listRatesBetweenSQL, Day(from), Day(to))
	if err != nil {
		return nil, storeErr("list rates between", err)
	}
	defer rows.Close()

	return collectRates(rows)
}

// Recent lists the most recent records ordered by date descending.
func (r *RateRepo) Recent(ctx context.Context, limit int) ([]RateRecord, error) {
	if r.pool == nil {
		return nil, ErrNotConfigured
	}

	rows, err := r.pool.Query(ctx, listRecentRatesSQL, limit)
	if err != nil {
		return nil, storeErr("list recent rates", err)
	}
	defer rows.Close()

	return collectRates(rows)
}

// Latest returns the newest record dated today or earlier.
func (r *RateRepo) Latest(ctx context.Context) (RateRecord, error) {
	if r.pool == nil {
		return RateRecord{}, ErrNotConfigured
	}

	rows, err := r.pool.Query(ctx, latestRateSQL, Day(time.Now().UTC()))
	if err != nil {
		return RateRecord{}, storeErr("latest rate", err)
	}
	defer rows.Close()

	return oneRate(rows)
}

// EarlierThan returns the newest record strictly before the given day. Used
// by gap filling to find a carry-forward seed for the start of a range.
func (r *RateRepo) EarlierThan(ctx context.Context, day time.Time) (RateRecord, error) {
	if r.pool == nil {
		return RateRecord{}, ErrNotConfigured
	}

	rows, err := r.pool.Query(ctx, earlierRateSQL, Day(day))
	if err != nil {
		return RateRecord{}, storeErr("earlier rate", err)
	}
	defer rows.Close()

	return oneRate(rows)
}

// SetMovingAverages writes derived MA values onto a single record.
func (r *RateRepo) SetMovingAverages(ctx context.Context, day time.Time, ma20, ma50 *decimal.Decimal) error {
	if r.pool == nil {
		return ErrNotConfigured
	}

	cmdTag, err := r.pool.Exec(ctx, setMovingAveragesSQL, Day(day), decimalArg(ma20), decimalArg(ma50))
	if err != nil {
		return storeErr("set moving averages", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count counts stored rate records.
func (r *RateRepo) Count(ctx context.Context) (int64, error) {
	if r.pool == nil {
		return 0, ErrNotConfigured
	}
	var count int64
	if err := r.pool.QueryRow(ctx, countRatesSQL).Scan(&count); err != nil {
		return 0, storeErr("count rates", err)
	}
	return count, nil
}

func collectRates(rows pgx.Rows) ([]RateRecord, error) {
	records := make([]RateRecord, 0)
	for rows.Next() {
		rec, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, storeErr("scan rates", rows.Err())
	}
	return records, nil
}

func oneRate(rows pgx.Rows) (RateRecord, error) {
	if !rows.Next() {
		if rows.Err() != nil {
			return RateRecord{}, storeErr("scan rate", rows.Err())
		}
		return RateRecord{}, ErrNotFound
	}
	return scanRate(rows)
}

// decimal.Decimal and decimal.NullDecimal implement sql.Scanner, so pgx
// hands NUMERIC columns over without a string round-trip.
func scanRate(rows pgx.Rows) (RateRecord, error) {
	var (
		day       time.Time
		rate      decimal.Decimal
		index     decimal.NullDecimal
		ma20      decimal.NullDecimal
		ma50      decimal.NullDecimal
		synthetic bool
		createdAt time.Time
	)

	if err := rows.Scan(&day, &rate, &index, &ma20, &ma50, &synthetic, &createdAt); err != nil {
		return RateRecord{}, storeErr("scan rate", err)
	}

	return RateRecord{
		Date:        Day(day),
		USDPHPRate:  rate,
		DollarIndex: nullDecimal(index),
		MA20:        nullDecimal(ma20),
		MA50:        nullDecimal(ma50),
		Synthetic:   synthetic,
		CreatedAt:   createdAt,
	}, nil
}

func nullDecimal(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	return &v.Decimal
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// IsNoRows reports whether err is a missing-row condition from pgx or from
// this package.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound)
}

var _ RateStore = (*RateRepo)(nil)
