package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	alertColumns = `id, target_rate, direction, owner_id, is_active, created_at`

	insertAlertSQL = `INSERT INTO rate_alerts (
        target_rate,
        direction,
        owner_id,
        is_active
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING ` + alertColumns + `;`

	listAlertsSQL = `SELECT ` + alertColumns + `
    FROM rate_alerts
    WHERE owner_id = $1
    ORDER BY created_at DESC;`

	setAlertActiveSQL = `UPDATE rate_alerts
    SET is_active = $3
    WHERE id = $1 AND owner_id = $2
    RETURNING ` + alertColumns + `;`

	deleteAlertSQL = `DELETE FROM rate_alerts WHERE id = $1 AND owner_id = $2;`
)

// AlertStore defines owner-scoped rate alert persistence.
type AlertStore interface {
	Insert(ctx context.Context, ownerID string, alert RateAlert) (RateAlert, error)
	ListByOwner(ctx context.Context, ownerID string) ([]RateAlert, error)
	SetActive(ctx context.Context, ownerID string, id int64, active bool) (RateAlert, error)
	Delete(ctx context.Context, ownerID string, id int64) error
}

// AlertRepo provides typed access to the rate_alerts table.
type AlertRepo struct {
	pool *pgxpool.Pool
}

// Insert creates an alert for the owner. New alerts start active unless the
// caller says otherwise.
func (r *AlertRepo) Insert(ctx context.Context, ownerID string, alert RateAlert) (RateAlert, error) {
	if r.pool == nil {
		return RateAlert{}, ErrNotConfigured
	}
	if ownerID == "" {
		return RateAlert{}, ErrAuthRequired
	}
	if alert.Direction != DirectionAbove && alert.Direction != DirectionBelow {
		return RateAlert{}, fmt.Errorf("invalid alert direction %q", alert.Direction)
	}

	row := r.pool.QueryRow(ctx, insertAlertSQL,
		alert.TargetRate.String(),
		alert.Direction,
		ownerID,
		alert.IsActive,
	)

	inserted, err := scanAlert(row)
	if err != nil {
		return RateAlert{}, storeErr("insert alert", err)
	}
	return inserted, nil
}

// ListByOwner lists the owner's alerts, newest first.
func (r *AlertRepo) ListByOwner(ctx context.Context, ownerID string) ([]RateAlert, error) {
	if r.pool == nil {
		return nil, ErrNotConfigured
	}
	if ownerID == "" {
		return nil, ErrAuthRequired
	}

	rows, err := r.pool.Query(ctx, listAlertsSQL, ownerID)
	if err != nil {
		return nil, storeErr("list alerts", err)
	}
	defer rows.Close()

	alerts := make([]RateAlert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, storeErr("scan alert", scanErr)
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, storeErr("list alerts", rows.Err())
	}
	return alerts, nil
}

// SetActive flips an alert's active flag.
func (r *AlertRepo) SetActive(ctx context.Context, ownerID string, id int64, active bool) (RateAlert, error) {
	if r.pool == nil {
		return RateAlert{}, ErrNotConfigured
	}
	if ownerID == "" {
		return RateAlert{}, ErrAuthRequired
	}

	rows, err := r.pool.Query(ctx, setAlertActiveSQL, id, ownerID, active)
	if err != nil {
		return RateAlert{}, storeErr("set alert active", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return RateAlert{}, storeErr("set alert active", rows.Err())
		}
		return RateAlert{}, ErrNotFound
	}
	updated, err := scanAlert(rows)
	if err != nil {
		return RateAlert{}, storeErr("set alert active", err)
	}
	return updated, nil
}

// Delete removes the owner's alert by id.
func (r *AlertRepo) Delete(ctx context.Context, ownerID string, id int64) error {
	if r.pool == nil {
		return ErrNotConfigured
	}
	if ownerID == "" {
		return ErrAuthRequired
	}

	cmdTag, err := r.pool.Exec(ctx, deleteAlertSQL, id, ownerID)
	if err != nil {
		return storeErr("delete alert", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlert(row scannable) (RateAlert, error) {
	var (
		alert     RateAlert
		createdAt time.Time
	)

	if err := row.Scan(&alert.ID, &alert.TargetRate, &alert.Direction, &alert.OwnerID, &alert.IsActive, &createdAt); err != nil {
		return RateAlert{}, err
	}

	alert.CreatedAt = createdAt
	return alert, nil
}

var _ AlertStore = (*AlertRepo)(nil)
