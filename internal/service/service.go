package service

import (
	"context"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/audit"
	"github.com/Dan9191/bank-transfer-core/internal/compliance"
	"github.com/Dan9191/bank-transfer-core/internal/config"
	"github.com/Dan9191/bank-transfer-core/internal/events"
	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/Dan9191/bank-transfer-core/internal/risk"
	"github.com/Dan9191/bank-transfer-core/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// postCommitTimeout bounds audit, event and alert delivery after a transfer.
const postCommitTimeout = 5 * time.Second

// ComplianceNotifier escalates blocked transfers.
type ComplianceNotifier interface {
	NotifyBlocked(ctx context.Context, alert compliance.Alert) error
}

// Service handles business logic
type Service struct {
	repo      repository.Store
	trail     *audit.Trail
	screener  *risk.Engine
	publisher events.Publisher
	notifier  ComplianceNotifier
	log       *logrus.Logger
	config    *config.Config

	now              func() time.Time
	newTransactionID func() string
	newAccountNumber func() (string, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher sets the domain event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithNotifier sets the compliance notifier.
func WithNotifier(n ComplianceNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAccountNumberGenerator overrides account number generation.
func WithAccountNumberGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newAccountNumber = gen }
}

// NewService initializes a new service
func NewService(repo repository.Store, trail *audit.Trail, screener *risk.Engine, log *logrus.Logger, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		repo:             repo,
		trail:            trail,
		screener:         screener,
		publisher:        events.Nop{},
		log:              log,
		config:           cfg,
		now:              func() time.Time { return time.Now().UTC() },
		newTransactionID: uuid.NewString,
		newAccountNumber: utils.GenerateAccountNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks storage connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// recordAudit appends an audit entry. A failure is logged and reported back
// but never undoes the operation being audited.
func (s *Service) recordAudit(ctx context.Context, p models.Principal, action, details string) bool {
	err := s.trail.Append(ctx, &models.AuditLog{
		Action:    action,
		Username:  p.Username,
		Details:   details,
		IPAddress: p.RemoteAddr,
		Timestamp: s.now(),
	})
	if err != nil {
		s.log.WithError(err).WithField("action", action).Warn("Audit append did not complete")
		return false
	}
	return true
}

func (s *Service) requireAdmin(p models.Principal) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
