package service

import (
	"errors"
	"fmt"

	"github.com/Dan9191/bank-transfer-core/internal/risk"
)

var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrValidation        = errors.New("invalid request")
	ErrForbidden         = errors.New("not authorized")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAccountInactive   = errors.New("account is inactive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitExceeded     = errors.New("amount exceeds daily transfer limit")
	ErrComplianceBlocked = errors.New("transaction flagged for compliance review")
	// ErrPersistence marks storage and lock-contention failures. Nothing from
	// the failed attempt survives, so the caller may retry.
	ErrPersistence = errors.New("operation could not be completed, please retry")
)

// ComplianceBlockError carries the screening result of a blocked transfer.
type ComplianceBlockError struct {
	TransactionID string
	Assessment    risk.Assessment
}

func (e *ComplianceBlockError) Error() string {
	return fmt.Sprintf("%s: transaction %s risk %s (score %d)",
		ErrComplianceBlocked, e.TransactionID, e.Assessment.RiskLevel, e.Assessment.RiskScore)
}

func (e *ComplianceBlockError) Unwrap() error {
	return ErrComplianceBlocked
}
