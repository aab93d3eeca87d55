package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Assumed tables:
// - usage_accounts
// - usage_entries (immutable append-only, UNIQUE (user_id, idempotency_key))
// - usage_balances (projection)

func lockAccount(ctx context.Context, tx *sql.Tx, userID string) (Account, error) {
	// Lock the account row to serialize concurrent postings per user.
	const q = `
SELECT user_id, status, created_at, updated_at
FROM usage_accounts
WHERE user_id = $1
FOR UPDATE
`
	var a Account
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&a.UserID,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func getBalance(ctx context.Context, db *sql.DB, userID string) (Balance, error) {
	const q = `
SELECT user_id, minutes_remaining, updated_at
FROM usage_balances
WHERE user_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.MinutesRemaining, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, minutes_remaining, updated_at
FROM usage_balances
WHERE user_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.MinutesRemaining, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findEntryByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (Entry, bool, error) {
	const q = `
SELECT id, user_id, type, minutes, call_sid, idempotency_key, created_at
FROM usage_entries
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e Entry
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&e.Minutes,
		&e.CallSID,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	const q = `
INSERT INTO usage_entries (
  id, user_id, type, minutes, call_sid, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.Minutes,
		e.CallSID,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, deltaMinutes int64, now time.Time) (Balance, error) {
	const q = `
INSERT INTO usage_balances (user_id, minutes_remaining, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id)
DO UPDATE SET minutes_remaining = usage_balances.minutes_remaining + EXCLUDED.minutes_remaining,
              updated_at = EXCLUDED.updated_at
RETURNING user_id, minutes_remaining, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID, deltaMinutes, now).Scan(
		&b.UserID,
		&b.MinutesRemaining,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}
