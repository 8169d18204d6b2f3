// Package audit appends audit entries outside the transfer's atomic unit.
//
// An append that fails is kept in a bounded retry queue and reported to the
// caller; a cron job drains the queue. Entries are never dropped silently:
// when the queue is full the entry is logged in full at error level.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Actions
const (
	ActionTransfer            = "Transfer"
	ActionTransferBlocked     = "TransferBlocked"
	ActionAccountRegistration = "AccountRegistration"
	ActionCreateAccount       = "CreateAccount"
	ActionDeactivateAccount   = "DeactivateAccount"
	ActionReviewTransaction   = "ReviewTransaction"
)

var (
	// ErrDeferred means the entry was queued for retry.
	ErrDeferred = errors.New("audit entry deferred for retry")
	// ErrQueueFull means the entry could be neither stored nor queued.
	ErrQueueFull = errors.New("audit retry queue full")
)

// Trail is the append side of the audit log.
type Trail struct {
	store    repository.AuditStore
	log      *logrus.Logger
	capacity int

	mu      sync.Mutex
	pending []*models.AuditLog

	cron *cron.Cron
}

// NewTrail creates a trail over store with a retry queue of the given capacity.
func NewTrail(store repository.AuditStore, log *logrus.Logger, capacity int) *Trail {
	return &Trail{store: store, log: log, capacity: capacity}
}

// Append stores entry. On failure the entry is queued and ErrDeferred is
// returned, or ErrQueueFull if there is no room.
func (t *Trail) Append(ctx context.Context, entry *models.AuditLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	err := t.store.AppendAuditLog(ctx, entry)
	if err == nil {
		return nil
	}

	fields := logrus.Fields{
		"action":    entry.Action,
		"username":  entry.Username,
		"details":   entry.Details,
		"ip":        entry.IPAddress,
		"timestamp": entry.Timestamp,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) >= t.capacity {
		t.log.WithFields(fields).WithError(err).Error("Audit entry could not be stored or queued")
		return fmt.Errorf("%w: %w", ErrQueueFull, err)
	}
	cp := *entry
	t.pending = append(t.pending, &cp)
	t.log.WithFields(fields).WithError(err).Warn("Audit entry queued for retry")
	return fmt.Errorf("%w: %w", ErrDeferred, err)
}

// Pending returns the number of queued entries.
func (t *Trail) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush retries queued entries in order and stops at the first failure.
// It returns how many entries were stored.
func (t *Trail) Flush(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	flushed := 0
	for len(t.pending) > 0 {
		if err := t.store.AppendAuditLog(ctx, t.pending[0]); err != nil {
			return flushed, fmt.Errorf("failed to flush audit queue: %w", err)
		}
		t.pending = t.pending[1:]
		flushed++
	}
	return flushed, nil
}

// Start schedules Flush on the given cron spec.
func (t *Trail) Start(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		n, err := t.Flush(ctx)
		if err != nil {
			t.log.WithError(err).WithField("flushed", n).Warn("Audit queue flush incomplete")
			return
		}
		if n > 0 {
			t.log.Infof("Flushed %d queued audit entries", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid audit flush schedule %q: %w", spec, err)
	}
	c.Start()
	t.cron = c
	return nil
}

// Stop halts the scheduler and makes a final flush attempt.
func (t *Trail) Stop(ctx context.Context) {
	if t.cron != nil {
		<-t.cron.Stop().Done()
	}
	if n, err := t.Flush(ctx); err != nil {
		t.log.WithError(err).Errorf("%d audit entries left unflushed at shutdown", t.Pending())
	} else if n > 0 {
		t.log.Infof("Flushed %d queued audit entries at shutdown", n)
	}
}
