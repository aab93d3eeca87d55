package usage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcenter-platform/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("usage: account not found")
	ErrInvalidArgument = errors.New("usage: invalid argument")
)

// Service posts minute usage and credits.
//
// Invariants:
// - No balance update without an entry; entries are append-only.
// - All posting runs in a DB transaction with the account row locked.
// - RecordCall is idempotent by call sid; a balance is allowed to go
//   negative there because the minutes were already consumed.
type Service struct {
	db    *sql.DB
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, userID)
}

// CreditMinutes grants minutes to an account. idempotencyKey makes the
// grant safe to retry (e.g. a payment webhook redelivered).
func (s *Service) CreditMinutes(ctx context.Context, userID string, minutes int64, idempotencyKey string) (Entry, Balance, error) {
	if userID == "" || idempotencyKey == "" || minutes <= 0 {
		return Entry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var outEntry Entry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := lockAccount(ctx, tx, userID); err != nil {
			return err
		}

		if existing, ok, err := findEntryByIdempotency(ctx, tx, userID, idempotencyKey); err != nil {
			return err
		} else if ok {
			outEntry = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := Entry{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           EntryTypeCredit,
			Minutes:        minutes,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, userID, minutes, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = b
		return nil
	})

	return outEntry, outBal, err
}

// RecordCall debits a finished call's minutes, keyed by call sid so a
// second settlement of the same call is a no-op.
func (s *Service) RecordCall(ctx context.Context, userID, callSID string, duration time.Duration) error {
	if userID == "" || callSID == "" {
		return ErrInvalidArgument
	}
	minutes := BillableMinutes(duration)
	if minutes == 0 {
		return nil
	}

	now := s.clock().UTC()
	key := "call:" + callSID

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := lockAccount(ctx, tx, userID); err != nil {
			return err
		}

		if _, ok, err := findEntryByIdempotency(ctx, tx, userID, key); err != nil {
			return err
		} else if ok {
			return nil
		}

		entry := Entry{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           EntryTypeDebit,
			Minutes:        -minutes,
			CallSID:        callSID,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		_, err := applyBalanceDelta(ctx, tx, userID, -minutes, now)
		return err
	})
}

// HasMinutes reports whether the account can afford any outbound call.
// The dialer consults it before dispatching.
func (s *Service) HasMinutes(ctx context.Context, userID string) (bool, error) {
	b, err := s.GetBalance(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.MinutesRemaining > 0, nil
}
