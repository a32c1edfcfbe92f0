package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/isdelr/tts-broker-be/internal/database"
	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/stretchr/testify/require"
)

// newTestDB opens a migrated SQLite database in a temp dir.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func testPolicy() LedgerPolicy {
	return LedgerPolicy{
		DailyDefault: 5,
		InstantBonus: 10,
		SpecialKeys:  map[string]int{"SPONSOR100": 30, "YTBOOST20": 20},
	}
}

// seedAccount stores an account with the given balance and no refill date.
func seedAccount(t *testing.T, db *sql.DB, username string, balance int) models.Account {
	t.Helper()

	accounts := NewAccountService(db, 0)
	acc := models.Account{
		ID:           "acc-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Balance:      balance,
	}
	require.NoError(t, accounts.Upsert(context.Background(), acc))
	return acc
}

type recordingNotifier struct {
	mu       sync.Mutex
	balances map[string][]int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{balances: make(map[string][]int)}
}

func (n *recordingNotifier) NotifyBalance(accountID string, balance int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[accountID] = append(n.balances[accountID], balance)
}

func (n *recordingNotifier) get(accountID string) []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.balances[accountID]...)
}
