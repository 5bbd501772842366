// internal/otp/service.go
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"humanizer-api/internal/common/logger"
)

var (
	ErrNotIssued = errors.New("OTP_NOT_ISSUED")
	ErrExpired   = errors.New("OTP_EXPIRED")
	ErrMismatch  = errors.New("OTP_MISMATCH")
)

const codeDigits = 6

// Mailer delivers the code to the user. The SES-backed implementation lives
// in the aws package; tests substitute a recorder.
type Mailer interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// Service issues and verifies one-time passwords. Codes are single-use: a
// successful verification consumes the code, and an expired code is removed
// on sight.
type Service struct {
	store  Store
	mailer Mailer
	logger logger.Logger
	ttl    time.Duration
}

func NewService(store Store, mailer Mailer, log logger.Logger, ttl time.Duration) *Service {
	return &Service{
		store:  store,
		mailer: mailer,
		logger: log.WithFields(map[string]interface{}{"component": "otp"}),
		ttl:    ttl,
	}
}

// Issue generates a fresh code for the user, stores it under the TTL and
// emails it to the given address. The code is never returned to the caller.
func (s *Service) Issue(ctx context.Context, userID, email string) error {
	value, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	code := Code{
		Value:     value,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.store.Put(ctx, userID, code, s.ttl); err != nil {
		return err
	}

	subject := "Your verification code"
	textBody := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", value, int(s.ttl.Minutes()))
	htmlBody := fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>", value, int(s.ttl.Minutes()))

	if err := s.mailer.Send(ctx, email, subject, textBody, htmlBody); err != nil {
		// A stored but undelivered code is useless; drop it so the user can
		// request another immediately.
		if delErr := s.store.Delete(ctx, userID); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to clean up undelivered code", map[string]interface{}{})
		}
		return fmt.Errorf("send otp email: %w", err)
	}

	s.logger.Info("OTP issued", map[string]interface{}{
		"userId": userID,
		"ttl":    s.ttl.String(),
	})
	return nil
}

// Verify checks a submitted code. Success consumes the stored code, so a
// second attempt with the same code reports ErrNotIssued.
func (s *Service) Verify(ctx context.Context, userID, submitted string) error {
	code, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotIssued
		}
		return err
	}

	if code.Expired(time.Now()) {
		if delErr := s.store.Delete(ctx, userID); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to remove expired code", map[string]interface{}{})
		}
		return ErrExpired
	}

	if code.Value != submitted {
		return ErrMismatch
	}

	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("consume otp code: %w", err)
	}
	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
