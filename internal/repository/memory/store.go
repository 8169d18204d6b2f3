// Package memory is an in-process implementation of repository.Store used
// for local runs and tests. It follows the same locking contract as the
// postgres repository: per-account locks taken in ascending order with a
// bounded wait, and all-or-nothing application of a unit of work.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/shopspring/decimal"
)

// Store keeps accounts, ledger, audit log and users in memory.
type Store struct {
	mu        sync.RWMutex // guards everything below except locks
	accounts  map[string]*models.Account
	txns      []*models.Transaction
	txnIndex  map[string]*models.Transaction
	audit     []models.AuditLog
	users     map[string]*models.User
	nextID    int64
	recordErr func(*models.Transaction) error
	auditErr  func(*models.AuditLog) error

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// NewStore creates an empty store. lockTimeout bounds the wait for an
// account pair.
func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		accounts:    make(map[string]*models.Account),
		txnIndex:    make(map[string]*models.Transaction),
		users:       make(map[string]*models.User),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

var _ repository.Store = (*Store)(nil)

// SetRecordHook installs a hook consulted before a ledger record is staged.
// A non-nil error from the hook fails the write.
func (s *Store) SetRecordHook(fn func(*models.Transaction) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordErr = fn
}

// SetAuditHook installs a hook consulted before an audit entry is stored.
func (s *Store) SetAuditHook(fn func(*models.AuditLog) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditErr = fn
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("failed to create user: %w: username or email", repository.ErrDuplicate)
		}
	}
	user.ID = s.id()
	user.CreatedAt = time.Now().UTC()
	cp := *user
	s.users[user.Username] = &cp
	return nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("failed to find user: %w", repository.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) SetCustomerID(ctx context.Context, userID int64, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == userID {
			u.CustomerID = customerID
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.AccountNumber]; exists {
		return fmt.Errorf("failed to create account: %w: %s", repository.ErrDuplicate, account.AccountNumber)
	}
	if account.Balance.IsNegative() {
		return fmt.Errorf("failed to create account: negative balance")
	}
	account.ID = s.id()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	cp := *account
	s.accounts[account.AccountNumber] = &cp
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountNumber]
	if !ok {
		return nil, fmt.Errorf("failed to get account %s: %w", accountNumber, repository.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[accountNumber]
	return ok, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return s.filterAccounts(func(*models.Account) bool { return true }), nil
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID int64) ([]models.Account, error) {
	return s.filterAccounts(func(a *models.Account) bool { return a.UserID == userID }), nil
}

func (s *Store) filterAccounts(keep func(*models.Account) bool) []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Account{}
	for _, a := range s.accounts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) SetAccountActive(ctx context.Context, accountNumber string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountNumber]
	if !ok {
		return repository.ErrNotFound
	}
	a.IsActive = active
	return nil
}

func (s *Store) lockFor(accountNumber string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if _, exists := s.locks[accountNumber]; !exists {
		s.locks[accountNumber] = make(chan struct{}, 1)
	}
	return s.locks[accountNumber]
}

// WithLockedPair implements repository.AccountStore.
func (s *Store) WithLockedPair(ctx context.Context, a, b string, fn func(ctx context.Context, tx repository.PairTx) error) error {
	order := []string{a, b}
	sort.Strings(order)
	if order[0] == order[1] {
		order = order[:1]
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	// Lock in order to avoid deadlocks
	var held []chan struct{}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}()
	for _, number := range order {
		l := s.lockFor(number)
		select {
		case l <- struct{}{}:
			held = append(held, l)
		case <-timer.C:
			return fmt.Errorf("%w: %s", repository.ErrContention, number)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tx := &pairTx{store: s, accounts: make(map[string]*models.Account, len(order))}
	s.mu.RLock()
	for _, number := range order {
		acc, ok := s.accounts[number]
		if !ok {
			s.mu.RUnlock()
			return fmt.Errorf("failed to lock account %s: %w", number, repository.ErrNotFound)
		}
		cp := *acc
		tx.accounts[number] = &cp
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies a unit of work in one critical section so readers observe
// either none or all of it.
func (s *Store) commit(tx *pairTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range tx.records {
		if _, exists := s.txnIndex[rec.TransactionID]; exists {
			return fmt.Errorf("failed to insert transaction: %w: %s", repository.ErrDuplicate, rec.TransactionID)
		}
	}
	for number, balance := range tx.balances {
		s.accounts[number].Balance = balance
	}
	for _, rec := range tx.records {
		rec.ID = s.id()
		cp := *rec
		s.txns = append(s.txns, &cp)
		s.txnIndex[cp.TransactionID] = &cp
	}
	return nil
}

type pairTx struct {
	store    *Store
	accounts map[string]*models.Account
	balances map[string]decimal.Decimal
	records  []*models.Transaction
}

func (p *pairTx) Account(accountNumber string) *models.Account {
	a, ok := p.accounts[accountNumber]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (p *pairTx) SetBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error {
	a, ok := p.accounts[accountNumber]
	if !ok {
		return fmt.Errorf("account %s is not locked by this transaction", accountNumber)
	}
	if balance.IsNegative() {
		return fmt.Errorf("failed to update balance for account %s: negative balance", accountNumber)
	}
	if p.balances == nil {
		p.balances = make(map[string]decimal.Decimal, 2)
	}
	p.balances[accountNumber] = balance
	a.Balance = balance
	return nil
}

func (p *pairTx) RecordTransaction(ctx context.Context, txn *models.Transaction) error {
	p.store.mu.RLock()
	hook := p.store.recordErr
	p.store.mu.RUnlock()

	if hook != nil {
		if err := hook(txn); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}
	p.records = append(p.records, txn)
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.txnIndex[transactionID]
	if !ok {
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, repository.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	return s.filterTransactions(func(*models.Transaction) bool { return true }), nil
}

func (s *Store) ListTransactionsByAccounts(ctx context.Context, accountIDs []int64) ([]models.Transaction, error) {
	ids := make(map[int64]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		ids[id] = struct{}{}
	}
	return s.filterTransactions(func(t *models.Transaction) bool {
		_, from := ids[t.FromAccountID]
		_, to := ids[t.ToAccountID]
		return from || to
	}), nil
}

// filterTransactions returns matches newest first.
func (s *Store) filterTransactions(keep func(*models.Transaction) bool) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Transaction{}
	for i := len(s.txns) - 1; i >= 0; i-- {
		if keep(s.txns[i]) {
			out = append(out, *s.txns[i])
		}
	}
	return out
}

func (s *Store) ReviewTransaction(ctx context.Context, transactionID string, status models.TransactionStatus, flagged bool, note string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txnIndex[transactionID]
	if !ok {
		return nil, fmt.Errorf("failed to review transaction %s: %w", transactionID, repository.ErrNotFound)
	}
	t.Status = status
	t.IsFlagged = flagged
	if t.ReviewNotes == "" {
		t.ReviewNotes = note
	} else {
		t.ReviewNotes = strings.Join([]string{t.ReviewNotes, note}, "\n")
	}
	cp := *t
	return &cp, nil
}

func (s *Store) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auditErr != nil {
		if err := s.auditErr(entry); err != nil {
			return fmt.Errorf("failed to insert audit log: %w", err)
		}
	}
	entry.ID = s.id()
	s.audit = append(s.audit, *entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.AuditLog{}
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}
