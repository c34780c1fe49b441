package postgres

import (
	"context"
	"fmt"
)

// LockEmailTable marks email of type key as being sent for the session.
// Fails when the email was already sent or is being sent
func (db *DB) LockEmailTable(ctx context.Context, id string, key string) error {
	cmd, err := db.pool.Exec(ctx, `INSERT INTO email_lock(id, key, status) VALUES($1, $2, 1)
		ON CONFLICT (id, key) DO UPDATE SET status = 1 WHERE email_lock.status = 0`, id, key)
	if err != nil {
		return fmt.Errorf("can't lock email table for %s(%s): %w", id, key, err)
	}
	if cmd.RowsAffected() != 1 {
		return fmt.Errorf("email %s(%s) already locked", id, key)
	}
	return nil
}

// UnLockEmailTable releases the lock: 0 - not sent, may retry, 2 - sent
func (db *DB) UnLockEmailTable(ctx context.Context, id string, key string, value *int) error {
	_, err := db.pool.Exec(ctx, `UPDATE email_lock SET status = $3 WHERE id = $1 AND key = $2`,
		id, key, *value)
	if err != nil {
		return fmt.Errorf("can't unlock email table for %s(%s): %w", id, key, err)
	}
	return nil
}
