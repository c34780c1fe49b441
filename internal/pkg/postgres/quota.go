package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/utils"
	"go.uber.org/multierr"
)

// LoadOrganization loads organization from DB with monthly targets backfilled
func (db *DB) LoadOrganization(ctx context.Context, id string) (*persistence.Organization, error) {
	var res persistence.Organization
	err := db.pool.QueryRow(ctx, `SELECT id, name, remaining_minutes, remaining_task_generations,
	monthly_minutes, monthly_task_generations, created, updated FROM organizations
		WHERE id = $1`, id).Scan(&res.ID, &res.Name, &res.RemainingMinutes,
		&res.RemainingTaskGenerations, &res.MonthlyMinutes, &res.MonthlyTaskGenerations,
		&res.Created, &res.Updated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, utils.ErrNotFound
		}
		return nil, fmt.Errorf("can't load organization: %w", err)
	}
	res = res.Normalized()
	return &res, nil
}

// DecrementMinutes takes `amount` minutes from the organization's balance in one
// conditional statement. Returns the balance after the decrement.
// Fails with utils.ErrQuotaExceeded if the balance is smaller than `amount`
func (db *DB) DecrementMinutes(ctx context.Context, id string, amount int) (int, error) {
	return db.decrement(ctx, id, "remaining_minutes", amount)
}

// DecrementTaskGenerations takes `amount` generations from the organization's balance.
// Same semantics as DecrementMinutes
func (db *DB) DecrementTaskGenerations(ctx context.Context, id string, amount int) (int, error) {
	return db.decrement(ctx, id, "remaining_task_generations", amount)
}

func (db *DB) decrement(ctx context.Context, id, field string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %d", amount)
	}
	var left int
	err := db.pool.QueryRow(ctx, `UPDATE organizations SET `+field+` = `+field+` - $2,
	updated = $3
	WHERE id = $1 AND `+field+` >= $2
	RETURNING `+field, id, amount, time.Now()).Scan(&left)
	if err != nil {
		if err != pgx.ErrNoRows {
			return 0, fmt.Errorf("can't decrement %s: %w", field, err)
		}
		// no row updated - missing org or not enough balance
		if _, errLoad := db.LoadOrganization(ctx, id); errLoad != nil {
			return 0, errLoad
		}
		return 0, utils.ErrQuotaExceeded
	}
	return left, nil
}

// ResetReport summarizes one monthly quota reset run
type ResetReport struct {
	Processed int
	Reset     int
	Failed    int
}

// ResetAll restores every organization's balances to its monthly targets.
// A failure for one organization does not stop the others,
// collected errors are returned together with the partial report
func (db *DB) ResetAll(ctx context.Context) (*ResetReport, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("can't select organizations: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("can't retrieve organization ID: %w", err)
		}
		ids = append(ids, id)
	}

	res := &ResetReport{}
	var errs error
	for _, id := range ids {
		res.Processed++
		if err := db.resetOne(ctx, id); err != nil {
			goapp.Log.Error().Err(err).Str("ID", id).Msg("can't reset organization")
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("reset %s: %w", id, err))
			continue
		}
		res.Reset++
	}
	return res, errs
}

func (db *DB) resetOne(ctx context.Context, id string) error {
	rows, err := db.pool.Exec(ctx, `UPDATE organizations SET
	remaining_minutes = COALESCE(monthly_minutes, $2),
	remaining_task_generations = COALESCE(monthly_task_generations, $3),
	updated = $4
	WHERE id = $1`, id, persistence.DefaultMonthlyMinutes,
		persistence.DefaultMonthlyTaskGenerations, time.Now())
	if err != nil {
		return fmt.Errorf("can't update organization: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return utils.ErrNotFound
	}
	return nil
}
