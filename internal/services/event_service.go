package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/tts-broker-be/internal/models"
)

// Credit event types.
const (
	EventRefill = "refill"
	EventRedeem = "redeem"
	EventSpend  = "spend"
	EventRefund = "refund"
)

const maxEventsLimit = 200

// EventServiceProvider defines the interface for credit history services.
type EventServiceProvider interface {
	GetRecentEvents(ctx context.Context, accountID string, limit int) ([]models.CreditEvent, error)
}

// EventService reads the credit history written by the ledger.
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// recordEvent appends a history entry inside the ledger transaction that changed the balance.
func recordEvent(ctx context.Context, tx *sql.Tx, accountID, eventType string, amount, balance int, detail string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_events (id, account_id, type, amount, balance, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), accountID, eventType, amount, balance, detail, time.Now().UTC())
	return err
}

// GetRecentEvents returns the newest events of an account first. limit is clamped to [1, 200].
func (s *EventService) GetRecentEvents(ctx context.Context, accountID string, limit int) ([]models.CreditEvent, error) {
	if limit <= 0 || limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, type, amount, balance, detail, created_at
		FROM credit_events WHERE account_id = ?
		ORDER BY rowid DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.CreditEvent{}
	for rows.Next() {
		var event models.CreditEvent
		if err := rows.Scan(&event.ID, &event.AccountID, &event.Type, &event.Amount, &event.Balance, &event.Detail, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
