package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier receives balance changes after they are committed.
type Notifier interface {
	NotifyBalance(accountID string, balance int)
}

// LedgerServiceProvider defines the interface for credit ledger operations.
type LedgerServiceProvider interface {
	Balance(ctx context.Context, accountID string) (int, error)
	EnsureDailyRefill(ctx context.Context, accountID string, today time.Time) (int, error)
	RedeemKey(ctx context.Context, accountID, key string) (int, error)
	TrySpend(ctx context.Context, accountID string, amount int) (int, error)
	Refund(ctx context.Context, accountID string, amount int) (int, error)
	DailyBonus(key *string) int
}

// LedgerPolicy is the credit policy applied by the ledger.
type LedgerPolicy struct {
	DailyDefault int
	InstantBonus int
	SpecialKeys  map[string]int // code -> daily refill amount
}

// LedgerService applies refill, redemption, spend and refund to account balances.
// Every read-decide-write sequence runs under a per-account lock inside a
// transaction, and each UPDATE carries its own guard so the row stays correct
// even if another process writes the same file.
type LedgerService struct {
	db       *sql.DB
	policy   LedgerPolicy
	locks    *accountLocks
	notifier Notifier
}

// NewLedgerService creates a new LedgerService. notifier may be nil.
func NewLedgerService(db *sql.DB, policy LedgerPolicy, notifier Notifier) *LedgerService {
	keys := make(map[string]int, len(policy.SpecialKeys))
	for code, daily := range policy.SpecialKeys {
		keys[code] = daily
	}
	policy.SpecialKeys = keys
	return &LedgerService{
		db:       db,
		policy:   policy,
		locks:    newAccountLocks(),
		notifier: notifier,
	}
}

// DailyBonus returns the daily refill for an account holding key (nil for none).
func (s *LedgerService) DailyBonus(key *string) int {
	if key != nil {
		if daily, ok := s.policy.SpecialKeys[*key]; ok {
			return daily
		}
	}
	return s.policy.DailyDefault
}

// Balance returns the current stored balance.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// EnsureDailyRefill grants the daily credit once per calendar date and returns the balance.
// Repeated calls with the same date leave the balance untouched.
func (s *LedgerService) EnsureDailyRefill(ctx context.Context, accountID string, today time.Time) (int, error) {
	unlock := s.locks.lock(accountID)
	defer unlock()

	date := DateKey(today)
	var balance int
	var granted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var specialKey sql.NullString
		var lastRefill string
		row := tx.QueryRowContext(ctx, "SELECT balance, special_key, last_refill_date FROM accounts WHERE id = ?", accountID)
		if err := row.Scan(&balance, &specialKey, &lastRefill); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if lastRefill == date {
			return nil
		}

		var key *string
		if specialKey.Valid && specialKey.String != "" {
			key = &specialKey.String
		}
		amount := s.DailyBonus(key)

		err := tx.QueryRowContext(ctx, `
			UPDATE accounts SET balance = balance + ?, last_refill_date = ?
			WHERE id = ? AND last_refill_date != ?
			RETURNING balance
		`, amount, date, accountID, date).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			// Another writer stamped the date first.
			return tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", accountID).Scan(&balance)
		}
		if err != nil {
			return err
		}
		if err := recordEvent(ctx, tx, accountID, EventRefill, amount, balance, date); err != nil {
			return err
		}
		granted = true
		log.Info().Str("account_id", accountID).Str("date", date).Int("amount", amount).Msg("Daily credits granted")
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("daily refill for %s: %w", accountID, err)
	}
	if granted {
		s.notify(accountID, balance)
	}
	return balance, nil
}

// RedeemKey applies a one-time special key: it records the key and grants the instant bonus.
// An account that already redeemed any key gets an *AlreadyRedeemedError, whatever key is offered.
func (s *LedgerService) RedeemKey(ctx context.Context, accountID, key string) (int, error) {
	key = strings.TrimSpace(key)

	unlock := s.locks.lock(accountID)
	defer unlock()

	var balance int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing sql.NullString
		row := tx.QueryRowContext(ctx, "SELECT balance, special_key FROM accounts WHERE id = ?", accountID)
		if err := row.Scan(&balance, &existing); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if existing.Valid && existing.String != "" {
			return &AlreadyRedeemedError{Key: existing.String}
		}
		if _, ok := s.policy.SpecialKeys[key]; !ok || key == "" {
			return ErrInvalidKey
		}

		err := tx.QueryRowContext(ctx, `
			UPDATE accounts SET special_key = ?, balance = balance + ?
			WHERE id = ? AND (special_key IS NULL OR special_key = '')
			RETURNING balance
		`, key, s.policy.InstantBonus, accountID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return &AlreadyRedeemedError{Key: key}
		}
		if err != nil {
			return err
		}
		return recordEvent(ctx, tx, accountID, EventRedeem, s.policy.InstantBonus, balance, key)
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("account_id", accountID).Str("key", key).Int("balance", balance).Msg("Special key redeemed")
	s.notify(accountID, balance)
	return balance, nil
}

// TrySpend debits amount if the balance covers it and returns the new balance.
func (s *LedgerService) TrySpend(ctx context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: spend amount must be positive", ErrInvalidRequest)
	}

	unlock := s.locks.lock(accountID)
	defer unlock()

	var balance int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts SET balance = balance - ?
			WHERE id = ? AND balance >= ?
			RETURNING balance
		`, amount, accountID, amount).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			// Either the account is missing or the guard rejected the debit.
			var current int
			if err := tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", accountID).Scan(&current); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrAccountNotFound
				}
				return err
			}
			return ErrInsufficientCredit
		}
		if err != nil {
			return err
		}
		return recordEvent(ctx, tx, accountID, EventSpend, -amount, balance, "")
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInsufficientCredit) {
			return 0, err
		}
		return 0, fmt.Errorf("spend for %s: %w", accountID, err)
	}

	s.notify(accountID, balance)
	return balance, nil
}

// Refund re-credits amount after a paid operation failed.
func (s *LedgerService) Refund(ctx context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: refund amount must be positive", ErrInvalidRequest)
	}

	unlock := s.locks.lock(accountID)
	defer unlock()

	var balance int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts SET balance = balance + ? WHERE id = ? RETURNING balance
		`, amount, accountID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return recordEvent(ctx, tx, accountID, EventRefund, amount, balance, "")
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("refund for %s: %w", accountID, err)
	}

	log.Warn().Str("account_id", accountID).Int("amount", amount).Msg("Credits refunded")
	s.notify(accountID, balance)
	return balance, nil
}

func (s *LedgerService) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LedgerService) notify(accountID string, balance int) {
	if s.notifier != nil {
		s.notifier.NotifyBalance(accountID, balance)
	}
}
