package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, number, balance string) *models.Account {
	t.Helper()
	a := &models.Account{
		AccountNumber:      number,
		UserID:             1,
		Balance:            decimal.RequireFromString(balance),
		DailyTransferLimit: decimal.NewFromInt(5000),
		IsActive:           true,
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func balance(t *testing.T, s *Store, number string) string {
	t.Helper()
	a, err := s.GetAccount(context.Background(), number)
	require.NoError(t, err)
	return a.Balance.StringFixed(2)
}

func TestWithLockedPairCommits(t *testing.T) {
	s := NewStore(time.Second)
	a := seed(t, s, "A", "100.00")
	seed(t, s, "B", "0.00")

	err := s.WithLockedPair(context.Background(), "B", "A", func(ctx context.Context, tx repository.PairTx) error {
		require.NoError(t, tx.SetBalance(ctx, "A", decimal.RequireFromString("60.00")))
		require.NoError(t, tx.SetBalance(ctx, "B", decimal.RequireFromString("40.00")))
		return tx.RecordTransaction(ctx, &models.Transaction{TransactionID: "t1", FromAccountID: a.ID, Amount: decimal.NewFromInt(40)})
	})
	require.NoError(t, err)

	assert.Equal(t, "60.00", balance(t, s, "A"))
	assert.Equal(t, "40.00", balance(t, s, "B"))
	txn, err := s.GetTransaction(context.Background(), "t1")
	require.NoError(t, err)
	assert.NotZero(t, txn.ID)
}

func TestWithLockedPairRollsBackOnError(t *testing.T) {
	s := NewStore(time.Second)
	seed(t, s, "A", "100.00")
	seed(t, s, "B", "0.00")
	boom := errors.New("boom")

	err := s.WithLockedPair(context.Background(), "A", "B", func(ctx context.Context, tx repository.PairTx) error {
		require.NoError(t, tx.SetBalance(ctx, "A", decimal.Zero))
		require.NoError(t, tx.RecordTransaction(ctx, &models.Transaction{TransactionID: "t1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, "100.00", balance(t, s, "A"))
	_, err = s.GetTransaction(context.Background(), "t1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithLockedPairRecordHookFailure(t *testing.T) {
	s := NewStore(time.Second)
	seed(t, s, "A", "100.00")
	seed(t, s, "B", "0.00")
	s.SetRecordHook(func(*models.Transaction) error { return errors.New("disk full") })

	err := s.WithLockedPair(context.Background(), "A", "B", func(ctx context.Context, tx repository.PairTx) error {
		require.NoError(t, tx.SetBalance(ctx, "A", decimal.Zero))
		return tx.RecordTransaction(ctx, &models.Transaction{TransactionID: "t1"})
	})
	require.Error(t, err)
	assert.Equal(t, "100.00", balance(t, s, "A"))
}

func TestWithLockedPairRejectsNegativeBalance(t *testing.T) {
	s := NewStore(time.Second)
	seed(t, s, "A", "10.00")
	seed(t, s, "B", "0.00")

	err := s.WithLockedPair(context.Background(), "A", "B", func(ctx context.Context, tx repository.PairTx) error {
		return tx.SetBalance(ctx, "A", decimal.RequireFromString("-0.01"))
	})
	require.Error(t, err)
	assert.Equal(t, "10.00", balance(t, s, "A"))
}

func TestWithLockedPairUnknownAccount(t *testing.T) {
	s := NewStore(time.Second)
	seed(t, s, "A", "10.00")

	err := s.WithLockedPair(context.Background(), "A", "Z", func(ctx context.Context, tx repository.PairTx) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithLockedPairTimesOut(t *testing.T) {
	s := NewStore(50 * time.Millisecond)
	seed(t, s, "A", "10.00")
	seed(t, s, "B", "10.00")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithLockedPair(context.Background(), "A", "B", func(ctx context.Context, tx repository.PairTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithLockedPair(context.Background(), "B", "A", func(ctx context.Context, tx repository.PairTx) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrContention)

	close(release)
	require.NoError(t, <-done)
}

func TestWithLockedPairCancelledContextLeavesNoTrace(t *testing.T) {
	s := NewStore(time.Second)
	seed(t, s, "A", "100.00")
	seed(t, s, "B", "0.00")

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithLockedPair(ctx, "A", "B", func(ctx context.Context, tx repository.PairTx) error {
		require.NoError(t, tx.SetBalance(ctx, "A", decimal.Zero))
		require.NoError(t, tx.RecordTransaction(ctx, &models.Transaction{TransactionID: "t1"}))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "100.00", balance(t, s, "A"))
	txns, _ := s.ListTransactions(context.Background())
	assert.Empty(t, txns)
}

func TestDisjointPairsDoNotBlock(t *testing.T) {
	s := NewStore(time.Second)
	for _, n := range []string{"A", "B", "C", "D"} {
		seed(t, s, n, "10.00")
	}

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithLockedPair(context.Background(), "A", "B", func(ctx context.Context, tx repository.PairTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	start := time.Now()
	err := s.WithLockedPair(context.Background(), "C", "D", func(ctx context.Context, tx repository.PairTx) error { return nil })
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOppositeDirectionsDoNotDeadlock(t *testing.T) {
	s := NewStore(5 * time.Second)
	seed(t, s, "A", "1000.00")
	seed(t, s, "B", "1000.00")

	move := func(from, to string) func(ctx context.Context, tx repository.PairTx) error {
		return func(ctx context.Context, tx repository.PairTx) error {
			one := decimal.NewFromInt(1)
			if err := tx.SetBalance(ctx, from, tx.Account(from).Balance.Sub(one)); err != nil {
				return err
			}
			return tx.SetBalance(ctx, to, tx.Account(to).Balance.Add(one))
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.WithLockedPair(context.Background(), "A", "B", move("A", "B")))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.WithLockedPair(context.Background(), "B", "A", move("B", "A")))
		}()
	}
	wg.Wait()

	assert.Equal(t, "1000.00", balance(t, s, "A"))
	assert.Equal(t, "1000.00", balance(t, s, "B"))
}

func TestReviewTransactionAppendsNotes(t *testing.T) {
	s := NewStore(time.Second)
	seed(t, s, "A", "100.00")
	seed(t, s, "B", "0.00")
	require.NoError(t, s.WithLockedPair(context.Background(), "A", "B", func(ctx context.Context, tx repository.PairTx) error {
		return tx.RecordTransaction(ctx, &models.Transaction{TransactionID: "t1", Status: models.StatusBlocked, IsFlagged: true})
	}))

	_, err := s.ReviewTransaction(context.Background(), "t1", models.StatusBlocked, true, "first look")
	require.NoError(t, err)
	got, err := s.ReviewTransaction(context.Background(), "t1", models.StatusFailed, true, "rejected")
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "first look\nrejected", got.ReviewNotes)

	_, err = s.ReviewTransaction(context.Background(), "missing", models.StatusFailed, true, "x")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateAccountDuplicateNumber(t *testing.T) {
	s := NewStore(time.Second)
	seed(t, s, "A", "0.00")

	err := s.CreateAccount(context.Background(), &models.Account{AccountNumber: "A"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}
