package authgate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationResult is the outcome of checking a challenge value
type ValidationResult int

const (
	ValidationOK ValidationResult = iota
	ValidationExpired
	ValidationMismatch
)

func (v ValidationResult) String() string {
	switch v {
	case ValidationOK:
		return "ok"
	case ValidationExpired:
		return "expired"
	}
	return "mismatch"
}

// SecondFactorIssuer sends and checks emailed one time login codes.
// Codes are keyed by email; issuing a new code replaces the previous one.
type SecondFactorIssuer struct {
	Store       ChallengeStore
	EmailSender SendEmail
	TTL         time.Duration // defaults to TwoFactorCodeTTL
	Digits      int           // defaults to TwoFactorCodeDigits
	Now         func() time.Time
}

func (s *SecondFactorIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue generates, stores and delivers a fresh code for email
func (s *SecondFactorIssuer) Issue(ctx context.Context, email string) (*Challenge, error) {
	digits := s.Digits
	if digits <= 0 {
		digits = TwoFactorCodeDigits
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = TwoFactorCodeTTL
	}
	code, err := GenerateNumericCode(digits)
	if err != nil {
		return nil, err
	}
	now := s.now()
	c := &Challenge{
		Kind:       ChallengeTwoFactor,
		Identifier: normalizeEmail(email),
		Subject:    normalizeEmail(email),
		Value:      code,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.Store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store two factor code: %w", err)
	}
	if err := s.EmailSender.SendTwoFactorCode(ctx, email, code); err != nil {
		return nil, fmt.Errorf("failed to send two factor code: %w: %w", ErrDeliveryFailed, err)
	}
	return c, nil
}

// Validate checks code against the outstanding challenge for email. The
// challenge is consumed whatever the outcome.
func (s *SecondFactorIssuer) Validate(ctx context.Context, email, code string) (ValidationResult, error) {
	c, err := s.Store.Take(ctx, ChallengeTwoFactor, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return ValidationMismatch, nil
	}
	if err != nil {
		return ValidationMismatch, fmt.Errorf("failed to load two factor code: %w", err)
	}
	if c.IsExpired(s.now()) {
		return ValidationExpired, nil
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(code)) != 1 {
		return ValidationMismatch, nil
	}
	return ValidationOK, nil
}

// VerificationIssuer sends and checks email ownership tokens
type VerificationIssuer struct {
	Store       ChallengeStore
	EmailSender SendEmail
	TTL         time.Duration // defaults to VerificationTokenTTL

	// BaseURL is prefixed to the confirmation link, e.g. https://app.example.com
	BaseURL string

	// Path of the confirmation page, defaults to /auth/new-verification
	Path string
	Now  func() time.Time
}

func (v *VerificationIssuer) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Link builds the confirmation link for token
func (v *VerificationIssuer) Link(token string) string {
	path := v.Path
	if path == "" {
		path = "/auth/new-verification"
	}
	return fmt.Sprintf("%s%s?token=%s", strings.TrimSuffix(v.BaseURL, "/"), path, url.QueryEscape(token))
}

// Issue generates, stores and delivers a fresh token for email, replacing
// any token previously issued for it.
func (v *VerificationIssuer) Issue(ctx context.Context, email string) (*Challenge, error) {
	ttl := v.TTL
	if ttl <= 0 {
		ttl = VerificationTokenTTL
	}
	token, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := v.now()
	c := &Challenge{
		Kind:       ChallengeVerification,
		Identifier: token,
		Subject:    normalizeEmail(email),
		Value:      token,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := v.Store.Put(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store verification token: %w", err)
	}
	if err := v.EmailSender.SendVerificationEmail(ctx, email, v.Link(token)); err != nil {
		return nil, fmt.Errorf("failed to send verification email: %w: %w", ErrDeliveryFailed, err)
	}
	return c, nil
}

// Validate consumes token and returns the email it was issued for
func (v *VerificationIssuer) Validate(ctx context.Context, token string) (string, ValidationResult, error) {
	c, err := v.Store.Take(ctx, ChallengeVerification, token)
	if errors.Is(err, ErrNotFound) {
		return "", ValidationMismatch, nil
	}
	if err != nil {
		return "", ValidationMismatch, fmt.Errorf("failed to load verification token: %w", err)
	}
	if c.IsExpired(v.now()) {
		return c.Subject, ValidationExpired, nil
	}
	return c.Subject, ValidationOK, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
