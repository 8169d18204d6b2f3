package models

import "time"

// Roles
const (
	RoleCustomer = "Customer"
	RoleAdmin    = "Admin"
)

// User represents a user in the system
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Not serialized
	Role         string    `json:"role"`
	CustomerID   string    `json:"customer_id"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated caller of an operation
type Principal struct {
	UserID     int64
	Username   string
	Role       string
	RemoteAddr string
}

func (p Principal) Authenticated() bool {
	return p.UserID != 0
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
