package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/audit"
	"github.com/Dan9191/bank-transfer-core/internal/config"
	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/Dan9191/bank-transfer-core/internal/repository/memory"
	"github.com/Dan9191/bank-transfer-core/internal/risk"
	"github.com/Dan9191/bank-transfer-core/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *mux.Router
	store  *memory.Store
	svc    *service.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log, _ := test.NewNullLogger()
	store := memory.NewStore(time.Second)
	cfg := &config.Config{
		JWTSecret:             "handler-secret",
		JWTTTL:                time.Hour,
		DefaultDailyLimit:     decimal.RequireFromString("5000.00"),
		AccountNumberAttempts: 3,
	}
	svc := service.NewService(store, audit.NewTrail(store, log, 10),
		risk.NewEngine(risk.DefaultRules(risk.DefaultThresholds())...), log, cfg)
	return &testServer{router: NewHandler(svc, log).Router(), store: store, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// signUp registers a customer and returns its token and default account number.
func (s *testServer) signUp(t *testing.T, username string) (string, string) {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg service.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	rec = s.do(t, http.MethodPost, "/login", "", map[string]string{"username": username, "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	return login.Token, reg.AccountNumber
}

func (s *testServer) fund(t *testing.T, number, amount string) {
	t.Helper()
	err := s.store.WithLockedPair(context.Background(), number, number, func(ctx context.Context, tx repository.PairTx) error {
		return tx.SetBalance(ctx, number, decimal.RequireFromString(amount))
	})
	require.NoError(t, err)
}

// seedAccount gives username an extra account with the given balance and limit.
func (s *testServer) seedAccount(t *testing.T, username, number, balance, limit string) {
	t.Helper()
	user, err := s.store.FindUserByUsername(context.Background(), username)
	require.NoError(t, err)
	require.NoError(t, s.store.CreateAccount(context.Background(), &models.Account{
		AccountNumber:      number,
		AccountHolderName:  username,
		UserID:             user.ID,
		Balance:            decimal.RequireFromString(balance),
		DailyTransferLimit: decimal.RequireFromString(limit),
		IsActive:           true,
	}))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/accounts", "/transactions", "/admin/accounts"} {
		rec := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "alice")

	rec := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransferFlow(t *testing.T) {
	s := newTestServer(t)
	aliceToken, aliceAcc := s.signUp(t, "alice")
	_, bobAcc := s.signUp(t, "bob")
	s.fund(t, aliceAcc, "1000.00")

	rec := s.do(t, http.MethodPost, "/transfers", aliceToken, map[string]any{
		"fromAccount": aliceAcc, "toAccount": bobAcc, "amount": "200.00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out service.TransferOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Equal(t, models.RiskLow, out.RiskAssessment.RiskLevel)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/accounts/%s/balance", aliceAcc), aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, "800.00", bal.Balance.StringFixed(2))

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/accounts/%s/balance", bobAcc), aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/transactions", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txns []models.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txns))
	assert.Len(t, txns, 1)
}

func TestTransferErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	token, from := s.signUp(t, "alice")
	_, to := s.signUp(t, "bob")
	s.fund(t, from, "1000.00")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed", "not an object", http.StatusBadRequest},
		{"bad amount", map[string]any{"fromAccount": from, "toAccount": to, "amount": "1.001"}, http.StatusBadRequest},
		{"unknown destination", map[string]any{"fromAccount": from, "toAccount": "000", "amount": "1.00"}, http.StatusNotFound},
		{"not owner", map[string]any{"fromAccount": to, "toAccount": from, "amount": "1.00"}, http.StatusForbidden},
		{"over limit", map[string]any{"fromAccount": from, "toAccount": to, "amount": "6000.00"}, http.StatusUnprocessableEntity},
		{"insufficient", map[string]any{"fromAccount": from, "toAccount": to, "amount": "4000.00"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/transfers", token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestTransferBlockedReturnsAssessment(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "alice")
	_, to := s.signUp(t, "bob")
	s.seedAccount(t, "alice", "9999000011112222", "20000.00", "50000.00")
	from := "9999000011112222"

	rec := s.do(t, http.MethodPost, "/transfers", token, map[string]any{
		"fromAccount": from, "toAccount": to, "amount": "12000.50",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var out service.TransferOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, models.StatusBlocked, out.Status)
	assert.True(t, out.RiskAssessment.IsSuspicious)
	assert.Equal(t, 30, out.RiskAssessment.RiskScore)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.svc.EnsureAdmin(context.Background(), "root", "root@bank.local", "admin-password"))
	userToken, userAcc := s.signUp(t, "alice")

	rec := s.do(t, http.MethodGet, "/admin/accounts", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "root", "password": "admin-password"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = s.do(t, http.MethodGet, "/admin/accounts", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []models.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	assert.Len(t, accounts, 1)

	rec = s.do(t, http.MethodPost, "/admin/accounts/"+userAcc+"/deactivate", login.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/audit-logs?limit=5", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.AuditLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.NotEmpty(t, logs)
	assert.Equal(t, audit.ActionDeactivateAccount, logs[0].Action)

	rec = s.do(t, http.MethodPost, "/admin/transactions/missing/review", login.Token, map[string]string{"decision": "Approve"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fmt.Errorf("%w: lock timeout", service.ErrPersistence)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusConflict, statusFor(service.ErrAlreadyExists))
}
