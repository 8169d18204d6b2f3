package models

import "time"

// AuditLog records who did what, when and from where
type AuditLog struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Username  string    `json:"username"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ip_address"`
	Timestamp time.Time `json:"timestamp"`
}
