package events

import (
	"context"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/shopspring/decimal"
)

// Topics
const (
	TopicTransferCompleted = "transfer_completed"
	TopicTransferBlocked   = "transfer_blocked"
)

// Publisher delivers domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, event any) error
}

// TransferEvent is emitted after a transfer attempt has been recorded.
type TransferEvent struct {
	TransactionID string                   `json:"transaction_id"`
	FromAccount   string                   `json:"from_account"`
	ToAccount     string                   `json:"to_account"`
	Amount        decimal.Decimal          `json:"amount"`
	Status        models.TransactionStatus `json:"status"`
	RiskLevel     models.RiskLevel         `json:"risk_level"`
	RiskScore     int                      `json:"risk_score"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
