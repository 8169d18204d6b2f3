package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "23505", Constraint: "accounts_account_number_key"}), ErrDuplicate)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "55P03"}), ErrContention)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "40P01"}), ErrContention)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))
}

func TestLockTimeoutMillisNeverDisables(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{500 * time.Microsecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{5 * time.Second, 5000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lockTimeoutMillis(tt.in), tt.in.String())
	}
}

// openTestDB connects to the database named by TEST_DB_CONN and applies the
// schema. Tests are skipped when it is unset.
func openTestDB(t *testing.T) *Repository {
	t.Helper()

	conn := os.Getenv("TEST_DB_CONN")
	if conn == "" {
		t.Skip("TEST_DB_CONN not set")
	}
	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, _ := test.NewNullLogger()
	require.NoError(t, Migrate(db, log))

	return NewRepository(db, 500*time.Millisecond)
}

func seedPair(t *testing.T, r *Repository, balance string) (string, string) {
	t.Helper()
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	user := &models.User{Username: "it-" + suffix, Email: suffix + "@it.local", PasswordHash: "x", Role: models.RoleCustomer, IsActive: true}
	require.NoError(t, r.CreateUser(ctx, user))

	numbers := []string{"IT" + suffix + "A", "IT" + suffix + "B"}
	for _, n := range numbers {
		require.NoError(t, r.CreateAccount(ctx, &models.Account{
			AccountNumber:      n,
			AccountHolderName:  user.Username,
			UserID:             user.ID,
			Balance:            decimal.RequireFromString(balance),
			DailyTransferLimit: decimal.NewFromInt(5000),
			IsActive:           true,
		}))
	}
	return numbers[0], numbers[1]
}

func TestPostgresWithLockedPairRollsBack(t *testing.T) {
	r := openTestDB(t)
	ctx := context.Background()
	a, b := seedPair(t, r, "100.00")

	err := r.WithLockedPair(ctx, a, b, func(ctx context.Context, tx PairTx) error {
		if err := tx.SetBalance(ctx, a, decimal.RequireFromString("50.00")); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	acc, err := r.GetAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "100.00", acc.Balance.StringFixed(2))
}

func TestPostgresWithLockedPairCommits(t *testing.T) {
	r := openTestDB(t)
	ctx := context.Background()
	a, b := seedPair(t, r, "100.00")

	var rec *models.Transaction
	err := r.WithLockedPair(ctx, a, b, func(ctx context.Context, tx PairTx) error {
		src, dst := tx.Account(a), tx.Account(b)
		amount := decimal.RequireFromString("40.00")
		if err := tx.SetBalance(ctx, a, src.Balance.Sub(amount)); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, b, dst.Balance.Add(amount)); err != nil {
			return err
		}
		rec = &models.Transaction{
			TransactionID: uuid.NewString(),
			FromAccountID: src.ID,
			ToAccountID:   dst.ID,
			Amount:        amount,
			Timestamp:     time.Now().UTC(),
			Status:        models.StatusCompleted,
			RiskLevel:     models.RiskLow,
		}
		return tx.RecordTransaction(ctx, rec)
	})
	require.NoError(t, err)

	got, err := r.GetTransaction(ctx, rec.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	accA, err := r.GetAccount(ctx, a)
	require.NoError(t, err)
	accB, err := r.GetAccount(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "60.00", accA.Balance.StringFixed(2))
	assert.Equal(t, "140.00", accB.Balance.StringFixed(2))
}

func TestPostgresLockTimeout(t *testing.T) {
	r := openTestDB(t)
	ctx := context.Background()
	a, b := seedPair(t, r, "100.00")

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.WithLockedPair(ctx, a, b, func(ctx context.Context, tx PairTx) error {
			close(held)
			<-release
			return nil
		})
	}()

	<-held
	err := r.WithLockedPair(ctx, b, a, func(ctx context.Context, tx PairTx) error { return nil })
	close(release)
	wg.Wait()

	assert.ErrorIs(t, err, ErrContention)
}
