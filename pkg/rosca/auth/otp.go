package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const otpDigits = 6

var otpBound = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpBound)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// HashCode hashes a one-time code for storage.
func HashCode(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckCode compares a code with its hash.
func CheckCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// Sender delivers a one-time code to a phone.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending an SMS.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, phone, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "One-time code issued", "phone", MaskPhone(phone))
	logger.DebugContext(ctx, "One-time code value", "phone", MaskPhone(phone), "code", code)
	return nil
}

// MaskPhone keeps only the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
