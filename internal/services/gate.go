package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soaringjerry/csat/internal/config"
	"github.com/soaringjerry/csat/internal/models"
)

// Gate decides whether an email may submit a survey.
type Gate interface {
	Authorize(ctx context.Context, email string, now time.Time) error
}

// NormalizeEmail trims and lower-cases an address; identities are compared
// in this form everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HeaderGate trusts the identity the client presents. Only for deployments
// where the caller is authenticated upstream.
type HeaderGate struct{}

func (HeaderGate) Authorize(_ context.Context, email string, _ time.Time) error {
	if NormalizeEmail(email) == "" {
		return NewInvalidError("Missing X-Email header")
	}
	return nil
}

type OTPGateStore interface {
	LatestOTP(ctx context.Context, email string) (*models.OTPRecord, error)
}

// OTPGate admits an email whose latest code was verified and has not
// expired yet.
type OTPGate struct {
	store OTPGateStore
}

func NewOTPGate(store OTPGateStore) *OTPGate { return &OTPGate{store: store} }

func (g *OTPGate) Authorize(ctx context.Context, email string, now time.Time) error {
	email = NormalizeEmail(email)
	if email == "" {
		return NewInvalidError("Missing X-Email header")
	}
	rec, err := g.store.LatestOTP(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrOTPNotFound) {
			return NewUnauthorizedError("Email not verified")
		}
		return err
	}
	if !rec.Verified() {
		return NewUnauthorizedError("Email not verified")
	}
	if rec.Expired(now) {
		return NewUnauthorizedError("Email verification expired, request a new code")
	}
	return nil
}

// NewGate builds the gate selected by mode.
func NewGate(mode string, store OTPGateStore) (Gate, error) {
	switch mode {
	case config.VerificationOTP, "":
		return NewOTPGate(store), nil
	case config.VerificationHeader:
		return HeaderGate{}, nil
	default:
		return nil, fmt.Errorf("unknown verification mode %q", mode)
	}
}
