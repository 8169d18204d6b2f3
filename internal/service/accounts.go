package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/bank-transfer-core/internal/audit"
	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/shopspring/decimal"
)

// Review decisions
const (
	DecisionApprove = "Approve"
	DecisionReject  = "Reject"
	DecisionMonitor = "Monitor"
)

const defaultAuditLimit = 100

// ErrAccountNumberExhausted is returned when every generated account number collided.
var ErrAccountNumberExhausted = errors.New("could not allocate a unique account number")

// createAccountWithNumber assigns a fresh account number and inserts the
// account. A candidate is re-drawn on collision, a bounded number of times;
// the unique constraint catches races between the check and the insert.
func (s *Service) createAccountWithNumber(ctx context.Context, account *models.Account) error {
	for attempt := 1; attempt <= s.config.AccountNumberAttempts; attempt++ {
		number, err := s.newAccountNumber()
		if err != nil {
			return err
		}

		exists, err := s.repo.AccountNumberExists(ctx, number)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if exists {
			s.log.WithField("attempt", attempt).Debug("Account number collision, retrying")
			continue
		}

		account.AccountNumber = number
		err = s.repo.CreateAccount(ctx, account)
		if errors.Is(err, repository.ErrDuplicate) {
			s.log.WithField("attempt", attempt).Debug("Account number taken concurrently, retrying")
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return nil
	}
	return fmt.Errorf("%w after %d attempts", ErrAccountNumberExhausted, s.config.AccountNumberAttempts)
}

// OpenAccount creates an additional account for the authenticated user
func (s *Service) OpenAccount(ctx context.Context, p models.Principal, holderName string) (*models.Account, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}
	holderName = strings.TrimSpace(holderName)
	if holderName == "" {
		holderName = p.Username
	}
	if len(holderName) > 100 {
		return nil, fmt.Errorf("%w: account holder name too long", ErrValidation)
	}

	account := &models.Account{
		AccountHolderName:  holderName,
		UserID:             p.UserID,
		Balance:            decimal.Zero,
		DailyTransferLimit: s.config.DefaultDailyLimit,
		IsActive:           true,
	}
	if err := s.createAccountWithNumber(ctx, account); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, p, audit.ActionCreateAccount, fmt.Sprintf("Created account %s", account.AccountNumber))
	s.log.Infof("Account %s created for user %d", account.AccountNumber, p.UserID)
	return account, nil
}

// GetBalance returns the balance of an account the principal owns, or of any
// account for an administrator
func (s *Service) GetBalance(ctx context.Context, accountNumber string, p models.Principal) (decimal.Decimal, error) {
	if !p.Authenticated() {
		return decimal.Zero, ErrUnauthenticated
	}
	acc, err := s.lookupAccount(ctx, accountNumber, "requested")
	if err != nil {
		return decimal.Zero, err
	}
	if acc.UserID != p.UserID && !p.IsAdmin() {
		return decimal.Zero, fmt.Errorf("%w: account %s does not belong to user", ErrForbidden, accountNumber)
	}
	return acc.Balance, nil
}

// ListMyAccounts lists the principal's accounts
func (s *Service) ListMyAccounts(ctx context.Context, p models.Principal) ([]models.Account, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}
	accounts, err := s.repo.ListAccountsByUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return accounts, nil
}

// ListMyTransactions lists ledger records touching any of the principal's accounts
func (s *Service) ListMyTransactions(ctx context.Context, p models.Principal) ([]models.Transaction, error) {
	accounts, err := s.ListMyAccounts(ctx, p)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	txns, err := s.repo.ListTransactionsByAccounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return txns, nil
}

// ListAccounts lists every account (admin only)
func (s *Service) ListAccounts(ctx context.Context, p models.Principal) ([]models.Account, error) {
	if err := s.requireAdmin(p); err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return accounts, nil
}

// ListTransactions lists every ledger record, newest first (admin only)
func (s *Service) ListTransactions(ctx context.Context, p models.Principal) ([]models.Transaction, error) {
	if err := s.requireAdmin(p); err != nil {
		return nil, err
	}
	txns, err := s.repo.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return txns, nil
}

// ListAuditLogs lists recent audit entries (admin only)
func (s *Service) ListAuditLogs(ctx context.Context, p models.Principal, limit int) ([]models.AuditLog, error) {
	if err := s.requireAdmin(p); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultAuditLimit
	}
	logs, err := s.repo.ListAuditLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return logs, nil
}

// ReviewTransaction applies a compliance officer's decision to a ledger
// record. Approve clears the flag, Monitor keeps it, Reject keeps it and
// finalizes a blocked record as Failed.
func (s *Service) ReviewTransaction(ctx context.Context, p models.Principal, transactionID, decision, notes string) (*models.Transaction, error) {
	if err := s.requireAdmin(p); err != nil {
		return nil, err
	}

	current, err := s.repo.GetTransaction(ctx, transactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	status, flagged := current.Status, current.IsFlagged
	switch decision {
	case DecisionApprove:
		flagged = false
	case DecisionMonitor:
		flagged = true
	case DecisionReject:
		flagged = true
		if status == models.StatusBlocked {
			status = models.StatusFailed
		}
	default:
		return nil, fmt.Errorf("%w: decision must be %s, %s or %s", ErrValidation, DecisionApprove, DecisionReject, DecisionMonitor)
	}

	note := fmt.Sprintf("[%s] %s by %s", s.now().Format("2006-01-02 15:04:05"), decision, p.Username)
	if notes = strings.TrimSpace(notes); notes != "" {
		note += ": " + notes
	}

	updated, err := s.repo.ReviewTransaction(ctx, transactionID, status, flagged, note)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.recordAudit(ctx, p, audit.ActionReviewTransaction,
		fmt.Sprintf("Reviewed transaction %s: %s (status %s)", transactionID, decision, updated.Status))
	return updated, nil
}

// DeactivateAccount marks an account inactive (admin only). Accounts are
// never deleted.
func (s *Service) DeactivateAccount(ctx context.Context, p models.Principal, accountNumber string) error {
	if err := s.requireAdmin(p); err != nil {
		return err
	}
	err := s.repo.SetAccountActive(ctx, accountNumber, false)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: account %s", ErrNotFound, accountNumber)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.recordAudit(ctx, p, audit.ActionDeactivateAccount, fmt.Sprintf("Deactivated account %s", accountNumber))
	return nil
}
