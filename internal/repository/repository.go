package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Repository provides database operations
type Repository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB, lockTimeout time.Duration) *Repository {
	return &Repository{db: db, lockTimeout: lockTimeout}
}

var _ Store = (*Repository)(nil)

const accountColumns = `id, account_number, account_holder_name, user_id, balance, daily_transfer_limit, is_active, created_at`

const transactionColumns = `id, transaction_id, from_account_id, to_account_id, amount, timestamp, status,
	risk_level, is_flagged, screening_result, description, review_notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.AccountNumber, &a.AccountHolderName, &a.UserID,
		&a.Balance, &a.DailyTransferLimit, &a.IsActive, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := row.Scan(&t.ID, &t.TransactionID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Timestamp,
		&t.Status, &t.RiskLevel, &t.IsFlagged, &t.ScreeningResult, &t.Description, &t.ReviewNotes)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "55P03", "40P01": // lock_not_available, deadlock_detected
			return fmt.Errorf("%w: %s", ErrContention, pqErr.Message)
		}
	}
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (username, email, password_hash, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash, user.Role, user.IsActive).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

// FindUserByUsername retrieves a user by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, role, customer_id, is_active, created_at
		FROM bank.users
		WHERE username = $1`
	err := r.db.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CustomerID, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", mapError(err))
	}
	return user, nil
}

func (r *Repository) SetCustomerID(ctx context.Context, userID int64, customerID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bank.users SET customer_id = $1 WHERE id = $2`, customerID, userID)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", mapError(err))
	}
	return expectOneRow(res)
}

// CreateAccount creates a new account in the database
func (r *Repository) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO bank.accounts (account_number, account_holder_name, user_id, balance, daily_transfer_limit, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, account.AccountNumber, account.AccountHolderName, account.UserID,
		account.Balance, account.DailyTransferLimit, account.IsActive).
		Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", mapError(err))
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM bank.accounts WHERE account_number = $1`, accountNumber)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountNumber, mapError(err))
	}
	return a, nil
}

func (r *Repository) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bank.accounts WHERE account_number = $1)`, accountNumber).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account number: %w", err)
	}
	return exists, nil
}

func (r *Repository) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM bank.accounts ORDER BY id`)
}

func (r *Repository) ListAccountsByUser(ctx context.Context, userID int64) ([]models.Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM bank.accounts WHERE user_id = $1 ORDER BY id`, userID)
}

func (r *Repository) queryAccounts(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (r *Repository) SetAccountActive(ctx context.Context, accountNumber string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bank.accounts SET is_active = $1 WHERE account_number = $2`, active, accountNumber)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", accountNumber, err)
	}
	return expectOneRow(res)
}

// WithLockedPair runs fn inside a database transaction holding row locks on
// both accounts. Locks are taken in ascending account number order and the
// wait is bounded by the configured lock timeout.
func (r *Repository) WithLockedPair(ctx context.Context, a, b string, fn func(ctx context.Context, tx PairTx) error) (err error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	// Postgres reads 0 as no timeout, so sub-millisecond values round up.
	timeout := fmt.Sprintf("%dms", lockTimeoutMillis(r.lockTimeout))
	if _, err = dbTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	order := []string{a, b}
	sort.Strings(order)

	pair := &sqlPairTx{tx: dbTx, accounts: make(map[string]*models.Account, 2)}
	for _, number := range order {
		if _, seen := pair.accounts[number]; seen {
			continue
		}
		row := dbTx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM bank.accounts WHERE account_number = $1 FOR UPDATE`, number)
		acc, scanErr := scanAccount(row)
		if scanErr != nil {
			err = fmt.Errorf("failed to lock account %s: %w", number, mapError(scanErr))
			return err
		}
		pair.accounts[number] = acc
	}

	if err = fn(ctx, pair); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", mapError(err))
	}
	return nil
}

func lockTimeoutMillis(d time.Duration) int64 {
	ms := (d + time.Millisecond - 1).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

type sqlPairTx struct {
	tx       *sql.Tx
	accounts map[string]*models.Account
}

func (p *sqlPairTx) Account(accountNumber string) *models.Account {
	if a, ok := p.accounts[accountNumber]; ok {
		cp := *a
		return &cp
	}
	return nil
}

func (p *sqlPairTx) SetBalance(ctx context.Context, accountNumber string, balance decimal.Decimal) error {
	if _, ok := p.accounts[accountNumber]; !ok {
		return fmt.Errorf("account %s is not locked by this transaction", accountNumber)
	}
	_, err := p.tx.ExecContext(ctx, `UPDATE bank.accounts SET balance = $1 WHERE account_number = $2`, balance, accountNumber)
	if err != nil {
		return fmt.Errorf("failed to update balance for account %s: %w", accountNumber, mapError(err))
	}
	p.accounts[accountNumber].Balance = balance
	return nil
}

func (p *sqlPairTx) RecordTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO bank.transactions (transaction_id, from_account_id, to_account_id, amount, timestamp, status,
			risk_level, is_flagged, screening_result, description, review_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	err := p.tx.QueryRowContext(ctx, query, txn.TransactionID, txn.FromAccountID, txn.ToAccountID, txn.Amount,
		txn.Timestamp, txn.Status, txn.RiskLevel, txn.IsFlagged, txn.ScreeningResult, txn.Description, txn.ReviewNotes).
		Scan(&txn.ID)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", mapError(err))
	}
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM bank.transactions WHERE transaction_id = $1`, transactionID)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, mapError(err))
	}
	return t, nil
}

func (r *Repository) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM bank.transactions ORDER BY timestamp DESC, id DESC`)
}

func (r *Repository) ListTransactionsByAccounts(ctx context.Context, accountIDs []int64) ([]models.Transaction, error) {
	if len(accountIDs) == 0 {
		return []models.Transaction{}, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM bank.transactions
		WHERE from_account_id = ANY($1) OR to_account_id = ANY($1)
		ORDER BY timestamp DESC, id DESC`
	return r.queryTransactions(ctx, query, pq.Array(accountIDs))
}

func (r *Repository) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (r *Repository) ReviewTransaction(ctx context.Context, transactionID string, status models.TransactionStatus, flagged bool, note string) (*models.Transaction, error) {
	query := `
		UPDATE bank.transactions
		SET status = $1, is_flagged = $2,
			review_notes = CASE WHEN review_notes = '' THEN $3 ELSE review_notes || E'\n' || $3 END
		WHERE transaction_id = $4
		RETURNING ` + transactionColumns
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, status, flagged, note, transactionID))
	if err != nil {
		return nil, fmt.Errorf("failed to review transaction %s: %w", transactionID, mapError(err))
	}
	return t, nil
}

func (r *Repository) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO bank.audit_logs (action, username, details, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, entry.Action, entry.Username, entry.Details, entry.IPAddress, entry.Timestamp).
		Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *Repository) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, username, details, ip_address, timestamp
		FROM bank.audit_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.Username, &l.Details, &l.IPAddress, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
