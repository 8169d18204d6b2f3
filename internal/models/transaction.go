package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the terminal state of a recorded transfer attempt
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "Completed"
	StatusBlocked   TransactionStatus = "Blocked"
	StatusFailed    TransactionStatus = "Failed"
)

// RiskLevel is the coarse outcome of compliance screening
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Transaction is the ledger record of a completed or blocked transfer.
// Only an administrative review may change Status, IsFlagged and ReviewNotes.
type Transaction struct {
	ID              int64             `json:"id"`
	TransactionID   string            `json:"transaction_id"`
	FromAccountID   int64             `json:"from_account_id"`
	ToAccountID     int64             `json:"to_account_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          TransactionStatus `json:"status"`
	RiskLevel       RiskLevel         `json:"risk_level"`
	IsFlagged       bool              `json:"is_flagged"`
	ScreeningResult string            `json:"screening_result"`
	Description     string            `json:"description,omitempty"`
	ReviewNotes     string            `json:"review_notes,omitempty"`
}
