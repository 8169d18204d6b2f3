package repository

import (
	"context"
	"errors"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")
	// ErrContention is returned when an account lock could not be acquired in time.
	ErrContention = errors.New("account lock wait timed out")
)

// PairTx is the unit of work handed to WithLockedPair. Nothing it stages is
// visible to other callers until the callback returns nil.
type PairTx interface {
	// Account returns the locked snapshot of one of the pair.
	Account(accountNumber string) *models.Account
	SetBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error
	RecordTransaction(ctx context.Context, txn *models.Transaction) error
}

// AccountStore holds balances and limits.
type AccountStore interface {
	GetAccount(ctx context.Context, accountNumber string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]models.Account, error)
	AccountNumberExists(ctx context.Context, accountNumber string) (bool, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	SetAccountActive(ctx context.Context, accountNumber string, active bool) error

	// WithLockedPair locks both accounts in ascending account number order,
	// runs fn, and applies its staged writes atomically if fn returns nil.
	WithLockedPair(ctx context.Context, a, b string, fn func(ctx context.Context, tx PairTx) error) error
}

// TransferLedger is the append-only record of transfer attempts.
type TransferLedger interface {
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context) ([]models.Transaction, error)
	ListTransactionsByAccounts(ctx context.Context, accountIDs []int64) ([]models.Transaction, error)
	// ReviewTransaction sets status and flag and appends a review note.
	ReviewTransaction(ctx context.Context, transactionID string, status models.TransactionStatus, flagged bool, note string) (*models.Transaction, error)
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error)
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	SetCustomerID(ctx context.Context, userID int64, customerID string) error
}

// Store is everything the service layer needs from storage.
type Store interface {
	AccountStore
	TransferLedger
	AuditStore
	UserStore
	Ping(ctx context.Context) error
}
