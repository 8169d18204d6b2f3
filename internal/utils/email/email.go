package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/compliance"
	"github.com/Dan9191/bank-transfer-core/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// defaultSendTimeout bounds delivery when the caller sets no deadline.
const defaultSendTimeout = 10 * time.Second

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	pool   *email.Pool
	send   func(e *email.Email, timeout time.Duration) error
}

// NewSender creates a new email sender backed by a small SMTP connection pool
func NewSender(cfg *config.Config, logger *logrus.Logger) (*Sender, error) {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	pool, err := email.NewPool(fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort), 2, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp pool: %w", err)
	}

	s := &Sender{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
	}
	s.send = pool.Send
	return s, nil
}

// Close releases pooled SMTP connections. A connection still being dialled
// can keep the pool busy, so Close gives up after a few seconds.
func (s *Sender) Close() {
	if s.pool == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("SMTP pool did not close in time")
	}
}

// NotifyBlocked escalates a blocked transfer to the compliance officer with
// the suspicious-activity report attached. It returns once ctx is done even
// if the SMTP server has not answered.
func (s *Sender) NotifyBlocked(ctx context.Context, alert compliance.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	report, err := compliance.BuildReport(alert)
	if err != nil {
		return err
	}

	e := s.buildAlert(alert)
	if _, err := e.Attach(bytes.NewReader(report), compliance.FileName(alert.Transaction.TransactionID), "application/xml"); err != nil {
		return fmt.Errorf("failed to attach report: %w", err)
	}

	timeout := defaultSendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	done := make(chan error, 1)
	go func() { done <- s.send(e, timeout) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.logger.Errorf("Failed to send compliance alert for %s: %v", alert.Transaction.TransactionID, err)
		return fmt.Errorf("failed to send compliance alert: %w", err)
	}

	s.logger.Infof("Compliance alert sent to %s: %s", s.cfg.ComplianceEmail, e.Subject)
	return nil
}

func (s *Sender) buildAlert(alert compliance.Alert) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.ComplianceEmail}
	e.Subject = fmt.Sprintf("AML Alert: transfer %s blocked (%s risk)", alert.Transaction.TransactionID, alert.Assessment.RiskLevel)

	body := "Dear Compliance Officer,\n\n"
	body += fmt.Sprintf(
		"A transfer of %s from account %s to account %s was blocked by screening.\n"+
			"Requested by: %s\n"+
			"Transaction time: %s\n"+
			"Risk score: %d\n"+
			"Required action: %s\n",
		alert.Transaction.Amount.StringFixed(2), alert.From.AccountNumber, alert.To.AccountNumber,
		alert.RequestedBy,
		alert.Transaction.Timestamp.Format("2006-01-02 15:04:05"),
		alert.Assessment.RiskScore,
		alert.Assessment.RequiredAction,
	)
	body += "\nThe suspicious-activity report is attached.\n"
	body += fmt.Sprintf("\nGenerated %s\nBank Service", time.Now().UTC().Format(time.RFC3339))
	e.Text = []byte(body)
	return e
}
