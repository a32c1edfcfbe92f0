package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/tts-broker-be/internal/models"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// AccountServiceProvider defines the interface for the account store.
type AccountServiceProvider interface {
	Get(ctx context.Context, id string) (models.Account, error)
	FindByUsername(ctx context.Context, username string) (models.Account, error)
	Upsert(ctx context.Context, account models.Account) error
	Create(ctx context.Context, username, email, password string) (models.Account, error)
	Authenticate(ctx context.Context, username, password string) (models.Account, error)
}

// AccountService persists accounts and their balances in SQLite.
type AccountService struct {
	db             *sql.DB
	initialBalance int
	now            func() time.Time
}

// NewAccountService creates a new AccountService. New accounts start with initialBalance credits.
func NewAccountService(db *sql.DB, initialBalance int) *AccountService {
	return &AccountService{db: db, initialBalance: initialBalance, now: time.Now}
}

const accountColumns = "id, username, email, password_hash, balance, special_key, last_refill_date, created_at"

// scanAccount is a helper to scan an account from a row or rows object.
func scanAccount(scanner interface{ Scan(...any) error }) (models.Account, error) {
	var acc models.Account
	var specialKey sql.NullString
	err := scanner.Scan(&acc.ID, &acc.Username, &acc.Email, &acc.PasswordHash, &acc.Balance, &specialKey, &acc.LastRefillDate, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, err
	}
	if specialKey.Valid && specialKey.String != "" {
		key := specialKey.String
		acc.RedeemedKey = &key
	}
	return acc, nil
}

// Get retrieves a single account by its ID.
func (s *AccountService) Get(ctx context.Context, id string) (models.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	acc, err := scanAccount(row)
	if err != nil {
		return models.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return acc, nil
}

// FindByUsername retrieves an account by its exact, case-sensitive username.
func (s *AccountService) FindByUsername(ctx context.Context, username string) (models.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE username = ?", username)
	acc, err := scanAccount(row)
	if err != nil {
		return models.Account{}, fmt.Errorf("find account %q: %w", username, err)
	}
	return acc, nil
}

// Upsert inserts the account or updates its profile fields.
// Balance and refill date are only written on insert; afterwards the ledger owns them.
// The username is immutable and a redeemed key, once set, is never replaced.
func (s *AccountService) Upsert(ctx context.Context, account models.Account) error {
	if account.Balance < 0 {
		return fmt.Errorf("%w: balance must not be negative", ErrInvalidRequest)
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	var specialKey sql.NullString
	if account.HasRedeemed() {
		specialKey = sql.NullString{String: *account.RedeemedKey, Valid: true}
	}
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, balance, special_key, last_refill_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			password_hash = excluded.password_hash,
			special_key = COALESCE(NULLIF(accounts.special_key, ''), excluded.special_key)
	`, account.ID, account.Username, account.Email, account.PasswordHash, account.Balance, specialKey, account.LastRefillDate, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("upsert account %s: %w", account.ID, err)
	}
	return nil
}

// Create registers a new account, hashing its password.
// The starting balance counts as the grant for the creation day.
func (s *AccountService) Create(ctx context.Context, username, email, password string) (models.Account, error) {
	switch {
	case !usernamePattern.MatchString(username):
		return models.Account{}, fmt.Errorf("%w: username must contain only letters and numbers", ErrInvalidRequest)
	case !emailPattern.MatchString(email):
		return models.Account{}, fmt.Errorf("%w: invalid email address", ErrInvalidRequest)
	case password == "":
		return models.Account{}, fmt.Errorf("%w: password is required", ErrInvalidRequest)
	}

	if _, err := s.FindByUsername(ctx, username); err == nil {
		return models.Account{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrAccountNotFound) {
		return models.Account{}, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	account := models.Account{
		ID:             uuid.New().String(),
		Username:       username,
		Email:          email,
		PasswordHash:   string(hashedPassword),
		Balance:        s.initialBalance,
		LastRefillDate: DateKey(now),
		CreatedAt:      now,
	}
	if err := s.Upsert(ctx, account); err != nil {
		return models.Account{}, err
	}

	// Return account without password hash
	account.PasswordHash = ""
	return account, nil
}

// Authenticate verifies a user's credentials.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (models.Account, error) {
	account, err := s.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return models.Account{}, ErrInvalidCredentials
		}
		return models.Account{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return models.Account{}, ErrInvalidCredentials
	}

	account.PasswordHash = ""
	return account, nil
}

// DateKey formats t as the calendar date used for daily refills.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
