package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a bank account owned by a single user
type Account struct {
	ID                 int64           `json:"id"`
	AccountNumber      string          `json:"account_number"`
	AccountHolderName  string          `json:"account_holder_name"`
	UserID             int64           `json:"user_id"`
	Balance            decimal.Decimal `json:"balance"`
	DailyTransferLimit decimal.Decimal `json:"daily_transfer_limit"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
}
