package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// BankCode prefixes every account number.
const BankCode = "021000"

// RoutingNumber is the bank's routing number.
const RoutingNumber = "021000021"

// AccountNumberLength is the full length of an account number.
const AccountNumberLength = 16

// GenerateAccountNumber generates an account number: the bank code followed
// by random digits. Uniqueness is checked by the caller.
func GenerateAccountNumber() (string, error) {
	return generateDigits(BankCode, AccountNumberLength)
}

func generateDigits(prefix string, length int) (string, error) {
	if length < len(prefix) {
		return "", fmt.Errorf("invalid number length: %d", length)
	}

	// Generate random digits
	digits := make([]byte, length-len(prefix))
	_, err := rand.Read(digits)
	if err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	for _, b := range digits {
		digit := b%10 + '0' // Convert to ASCII digit
		builder.WriteByte(digit)
	}

	return builder.String(), nil
}

// GenerateCustomerID builds a customer id from the registration time and user id
func GenerateCustomerID(userID int64, at time.Time) string {
	return fmt.Sprintf("CUS%s%06d", at.UTC().Format("20060102150405"), userID)
}
