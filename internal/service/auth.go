package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/audit"
	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/Dan9191/bank-transfer-core/internal/repository"
	"github.com/Dan9191/bank-transfer-core/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// Claims is the JWT payload issued at login
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// RegisterRequest carries new-customer details
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration describes the customer and default account created at sign-up
type Registration struct {
	Message            string          `json:"message"`
	UserID             int64           `json:"userId"`
	CustomerID         string          `json:"customerId"`
	AccountName        string          `json:"accountName"`
	AccountNumber      string          `json:"accountNumber"`
	RoutingNumber      string          `json:"routingNumber"`
	InitialBalance     decimal.Decimal `json:"initialBalance"`
	DailyTransferLimit decimal.Decimal `json:"dailyTransferLimit"`
	AccountOpened      time.Time       `json:"accountOpened"`
}

// Register creates a customer with a hashed password and a default account
func (s *Service) Register(ctx context.Context, req RegisterRequest, remoteAddr string) (*Registration, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Username == "" || req.Email == "":
		return nil, fmt.Errorf("%w: username and email are required", ErrValidation)
	case !strings.Contains(req.Email, "@"):
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	case len(req.Password) < minPasswordLength:
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}

	user, err := s.createUser(ctx, req, models.RoleCustomer)
	if err != nil {
		return nil, err
	}

	customerID := utils.GenerateCustomerID(user.ID, s.now())
	if err := s.repo.SetCustomerID(ctx, user.ID, customerID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	account := &models.Account{
		AccountHolderName:  user.Username,
		UserID:             user.ID,
		Balance:            decimal.Zero,
		DailyTransferLimit: s.config.DefaultDailyLimit,
		IsActive:           true,
	}
	if err := s.createAccountWithNumber(ctx, account); err != nil {
		return nil, err
	}

	p := models.Principal{UserID: user.ID, Username: user.Username, Role: user.Role, RemoteAddr: remoteAddr}
	s.recordAudit(ctx, p, audit.ActionAccountRegistration,
		fmt.Sprintf("New customer registered: %s, Account: %s", customerID, account.AccountNumber))
	s.log.Infof("User registered: %s", user.Username)

	return &Registration{
		Message:            "Bank account created successfully",
		UserID:             user.ID,
		CustomerID:         customerID,
		AccountName:        fmt.Sprintf("%s's Primary Account", user.Username),
		AccountNumber:      account.AccountNumber,
		RoutingNumber:      utils.RoutingNumber,
		InitialBalance:     account.Balance,
		DailyTransferLimit: account.DailyTransferLimit,
		AccountOpened:      account.CreatedAt,
	}, nil
}

// EnsureAdmin creates an administrator if the username is not taken yet
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) error {
	_, err := s.repo.FindUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	_, err = s.createUser(ctx, RegisterRequest{Username: username, Email: email, Password: password}, models.RoleAdmin)
	return err
}

func (s *Service) createUser(ctx context.Context, req RegisterRequest, role string) (*models.User, error) {
	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		Role:         role,
		IsActive:     true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: username or email", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	user, err := s.repo.FindUserByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return "", time.Time{}, ErrInvalidCredential
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !user.IsActive {
		return "", time.Time{}, ErrInvalidCredential
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredential
	}

	expires := s.now().Add(s.config.JWTTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Username)
	return tokenString, expires, nil
}

// ParseToken validates a bearer token and returns the principal it names
func (s *Service) ParseToken(tokenString string) (models.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return models.Principal{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}
	return models.Principal{UserID: userID, Username: claims.Username, Role: claims.Role}, nil
}
