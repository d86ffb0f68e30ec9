package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/mailer"
	"github.com/soaringjerry/csat/internal/metrics"
	"github.com/soaringjerry/csat/internal/models"
	"github.com/soaringjerry/csat/internal/utils"
)

type OTPStore interface {
	InsertOTP(ctx context.Context, rec *models.OTPRecord) error
	LatestOTP(ctx context.Context, email string) (*models.OTPRecord, error)
	AttemptOTP(ctx context.Context, id int64, codeHash string, maxAttempts int, now time.Time) (int, bool, error)
}

// RateLimiter admits or refuses one more event for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

type OTPOptions struct {
	TTL         time.Duration
	MaxAttempts int
	From        string
	Brand       string
	MailTimeout time.Duration
}

type OTPService struct {
	store    OTPStore
	limiter  RateLimiter
	mail     mailer.Sender
	logger   *zap.Logger
	opts     OTPOptions
	validate *validator.Validate
	now      func() time.Time
	genCode  func() (string, error)
	dispatch func(func())
}

func NewOTPService(store OTPStore, limiter RateLimiter, mail mailer.Sender, logger *zap.Logger, opts OTPOptions) *OTPService {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 6
	}
	if opts.MailTimeout <= 0 {
		opts.MailTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPService{
		store:    store,
		limiter:  limiter,
		mail:     mail,
		logger:   logger,
		opts:     opts,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
		genCode:  generateCode,
		dispatch: func(f func()) { go f() },
	}
}

// generateCode draws a uniformly random 6 digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// RequestCode issues a fresh code for email and mails it in the background.
// The caller gets the localized confirmation message.
func (s *OTPService) RequestCode(ctx context.Context, email, locale string) (string, error) {
	email = NormalizeEmail(email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return "", NewValidationError("Invalid email", []Issue{{Path: "email", Message: "must be a valid email address"}})
	}
	now := s.now()

	allowed, err := s.limiter.Allow(ctx, "otp:"+email, now)
	if err != nil {
		return "", err
	}
	if !allowed {
		metrics.OTPEvents.WithLabelValues("rate_limited").Inc()
		return "", NewTooManyRequestsError(utils.T(locale, "otp.rate_limited"))
	}

	code, err := s.genCode()
	if err != nil {
		return "", err
	}
	rec := &models.OTPRecord{
		Email:     email,
		CodeHash:  hashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}
	if err := s.store.InsertOTP(ctx, rec); err != nil {
		return "", err
	}
	metrics.OTPEvents.WithLabelValues("issued").Inc()

	msg, err := mailer.OTPEmail(s.opts.From, email, s.opts.Brand, code, locale, s.opts.TTL, now)
	if err != nil {
		return "", err
	}
	s.dispatch(func() {
		mctx, cancel := context.WithTimeout(context.Background(), s.opts.MailTimeout)
		defer cancel()
		if err := s.mail.Send(mctx, msg); err != nil {
			metrics.MailFailures.WithLabelValues("otp").Inc()
			s.logger.Error("failed to send otp email", zap.String("email", email), zap.Error(err))
		}
	})
	return utils.T(locale, "otp.sent"), nil
}

// VerifyCode checks code against the latest record for email. Checks run
// in this order: no record, expired, already verified (success, nothing
// changes), attempts exhausted, then one atomic attempt.
func (s *OTPService) VerifyCode(ctx context.Context, email, code, locale string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || code == "" {
		return "", NewInvalidError("email and code required")
	}
	now := s.now()

	rec, err := s.store.LatestOTP(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrOTPNotFound) {
			return "", NewInvalidError(utils.T(locale, "otp.not_found"))
		}
		return "", err
	}
	if msg, done, err := s.classify(rec, now, locale); done {
		return msg, err
	}

	_, matched, err := s.store.AttemptOTP(ctx, rec.ID, hashCode(code), s.opts.MaxAttempts, now)
	if errors.Is(err, models.ErrOTPNotAttemptable) {
		// Lost a race with another attempt; report the state it left behind.
		latest, lerr := s.store.LatestOTP(ctx, email)
		if lerr != nil {
			return "", lerr
		}
		if msg, done, cerr := s.classify(latest, now, locale); done {
			return msg, cerr
		}
		return "", NewTooManyRequestsError(utils.T(locale, "otp.too_many_attempts"))
	}
	if err != nil {
		return "", err
	}
	if !matched {
		metrics.OTPEvents.WithLabelValues("rejected").Inc()
		return "", NewInvalidError(utils.T(locale, "otp.invalid"))
	}
	metrics.OTPEvents.WithLabelValues("verified").Inc()
	return utils.T(locale, "otp.verified"), nil
}

// classify settles a verification without touching the store when the
// record state alone decides the outcome.
func (s *OTPService) classify(rec *models.OTPRecord, now time.Time, locale string) (string, bool, error) {
	switch {
	case rec.Expired(now):
		return "", true, NewInvalidError(utils.T(locale, "otp.expired"))
	case rec.Verified():
		return utils.T(locale, "otp.already_verified"), true, nil
	case rec.Attempts >= s.opts.MaxAttempts:
		metrics.OTPEvents.WithLabelValues("locked").Inc()
		return "", true, NewTooManyRequestsError(utils.T(locale, "otp.too_many_attempts"))
	}
	return "", false, nil
}
