package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/bank-transfer-core/internal/audit"
	"github.com/Dan9191/bank-transfer-core/internal/compliance"
	"github.com/Dan9191/bank-transfer-core/internal/events"
	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/Dan9191/bank-transfer-core/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxDescriptionLength = 255

// TransferRequest is a caller's request to move money between two accounts
type TransferRequest struct {
	FromAccount string          `json:"fromAccount"`
	ToAccount   string          `json:"toAccount"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// TransferOutcome is returned for completed and blocked transfers
type TransferOutcome struct {
	Message        string                   `json:"message"`
	TransactionID  string                   `json:"transactionId"`
	Status         models.TransactionStatus `json:"status"`
	RiskAssessment risk.Assessment          `json:"riskAssessment"`
	// AuditPending is set when the audit entry was queued for retry.
	AuditPending bool `json:"auditPending,omitempty"`
}

func (r TransferRequest) validate() error {
	switch {
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	case !r.Amount.Equal(r.Amount.Round(2)):
		return fmt.Errorf("%w: amount must have at most two decimal places", ErrValidation)
	case r.FromAccount == "" || r.ToAccount == "":
		return fmt.Errorf("%w: fromAccount and toAccount are required", ErrValidation)
	case r.FromAccount == r.ToAccount:
		return fmt.Errorf("%w: cannot transfer to the same account", ErrValidation)
	case len(r.Description) > maxDescriptionLength:
		return fmt.Errorf("%w: description longer than %d characters", ErrValidation, maxDescriptionLength)
	}
	return nil
}

// Transfer moves req.Amount from req.FromAccount to req.ToAccount on behalf
// of p. A suspicious transfer is recorded as Blocked without touching either
// balance and is returned together with a *ComplianceBlockError.
func (s *Service) Transfer(ctx context.Context, req TransferRequest, p models.Principal) (*TransferOutcome, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	from, err := s.lookupAccount(ctx, req.FromAccount, "source")
	if err != nil {
		return nil, err
	}
	if from.UserID != p.UserID {
		return nil, fmt.Errorf("%w: account %s does not belong to user", ErrForbidden, req.FromAccount)
	}
	to, err := s.lookupAccount(ctx, req.ToAccount, "destination")
	if err != nil {
		return nil, err
	}
	if !from.IsActive || !to.IsActive {
		return nil, ErrAccountInactive
	}

	logger := s.log.WithFields(logrus.Fields{
		"user":   p.Username,
		"from":   req.FromAccount,
		"to":     req.ToAccount,
		"amount": req.Amount.StringFixed(2),
	})

	var (
		rec        *models.Transaction
		assessment risk.Assessment
		src, dst   models.Account
	)
	err = s.repo.WithLockedPair(ctx, from.AccountNumber, to.AccountNumber, func(ctx context.Context, tx repository.PairTx) error {
		src, dst = *tx.Account(from.AccountNumber), *tx.Account(to.AccountNumber)
		if !src.IsActive || !dst.IsActive {
			return ErrAccountInactive
		}

		// The limit is checked first: an amount over the limit is refused
		// whatever the balance.
		if req.Amount.GreaterThan(src.DailyTransferLimit) {
			return fmt.Errorf("%w: limit is %s", ErrLimitExceeded, src.DailyTransferLimit.StringFixed(2))
		}
		if src.Balance.LessThan(req.Amount) {
			return ErrInsufficientFunds
		}

		assessment = s.screener.Screen(risk.Candidate{
			FromAccountID: src.ID,
			ToAccountID:   dst.ID,
			Amount:        req.Amount,
		}, src, dst)

		rec = &models.Transaction{
			TransactionID:   s.newTransactionID(),
			FromAccountID:   src.ID,
			ToAccountID:     dst.ID,
			Amount:          req.Amount,
			Timestamp:       s.now(),
			RiskLevel:       assessment.RiskLevel,
			IsFlagged:       assessment.IsSuspicious,
			ScreeningResult: assessment.Summary(),
			Description:     req.Description,
		}
		if rec.Description == "" {
			rec.Description = fmt.Sprintf("Transfer to %s", dst.AccountNumber)
		}

		if assessment.IsSuspicious {
			rec.Status = models.StatusBlocked
			return tx.RecordTransaction(ctx, rec)
		}

		rec.Status = models.StatusCompleted
		if err := tx.SetBalance(ctx, src.AccountNumber, src.Balance.Sub(req.Amount)); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, dst.AccountNumber, dst.Balance.Add(req.Amount)); err != nil {
			return err
		}
		return tx.RecordTransaction(ctx, rec)
	})
	if err != nil {
		return nil, s.transferError(logger, err)
	}

	outcome := &TransferOutcome{
		TransactionID:  rec.TransactionID,
		Status:         rec.Status,
		RiskAssessment: assessment,
	}

	// The outcome is final from here on; a caller going away must not stop
	// the audit entry.
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	logger = logger.WithFields(logrus.Fields{
		"transaction_id": rec.TransactionID,
		"risk_level":     assessment.RiskLevel,
		"risk_score":     assessment.RiskScore,
	})

	if rec.Status == models.StatusBlocked {
		logger.Warn("AML alert: suspicious transaction blocked")
		outcome.Message = ErrComplianceBlocked.Error()
		outcome.AuditPending = !s.recordAudit(postCtx, p, audit.ActionTransferBlocked, fmt.Sprintf(
			"Blocked transfer %s of %s from %s to %s: %s",
			rec.TransactionID, req.Amount.StringFixed(2), src.AccountNumber, dst.AccountNumber, rec.ScreeningResult))
		s.publish(postCtx, logger, events.TopicTransferBlocked, rec, src, dst, assessment)
		s.escalate(postCtx, logger, compliance.Alert{
			Transaction: *rec,
			From:        src,
			To:          dst,
			Assessment:  assessment,
			RequestedBy: p.Username,
		})
		return outcome, &ComplianceBlockError{TransactionID: rec.TransactionID, Assessment: assessment}
	}

	logger.Info("Transfer completed")
	outcome.Message = fmt.Sprintf("Transferred %s from %s to %s", req.Amount.StringFixed(2), req.FromAccount, req.ToAccount)
	outcome.AuditPending = !s.recordAudit(postCtx, p, audit.ActionTransfer, fmt.Sprintf(
		"Transferred %s from %s to %s, transaction %s, risk %s",
		req.Amount.StringFixed(2), src.AccountNumber, dst.AccountNumber, rec.TransactionID, assessment.RiskLevel))
	s.publish(postCtx, logger, events.TopicTransferCompleted, rec, src, dst, assessment)
	return outcome, nil
}

func (s *Service) lookupAccount(ctx context.Context, number, role string) (*models.Account, error) {
	acc, err := s.repo.GetAccount(ctx, number)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s account %s", ErrNotFound, role, number)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return acc, nil
}

// transferError classifies a failed unit of work. Business rejections pass
// through; everything else is a rolled-back, retryable persistence failure.
func (s *Service) transferError(logger *logrus.Entry, err error) error {
	switch {
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrLimitExceeded), errors.Is(err, ErrAccountInactive):
		logger.WithError(err).Info("Transfer rejected")
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrContention):
		logger.WithError(err).Warn("Transfer aborted on lock contention")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.WithError(err).Info("Transfer cancelled before commit")
	default:
		logger.WithError(err).Error("Transfer rolled back")
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (s *Service) publish(ctx context.Context, logger *logrus.Entry, topic string, rec *models.Transaction, src, dst models.Account, a risk.Assessment) {
	err := s.publisher.Publish(ctx, topic, src.AccountNumber, events.TransferEvent{
		TransactionID: rec.TransactionID,
		FromAccount:   src.AccountNumber,
		ToAccount:     dst.AccountNumber,
		Amount:        rec.Amount,
		Status:        rec.Status,
		RiskLevel:     a.RiskLevel,
		RiskScore:     a.RiskScore,
		OccurredAt:    rec.Timestamp,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to publish transfer event")
	}
}

func (s *Service) escalate(ctx context.Context, logger *logrus.Entry, alert compliance.Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyBlocked(ctx, alert); err != nil {
		logger.WithError(err).Error("Failed to escalate blocked transfer")
	}
}
