package services

import (
	"crypto/subtle"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenSigner issues an admin token for email.
type TokenSigner func(email string, ttl time.Duration) (string, error)

// AdminCredentials is the single configured operator account. When
// PasswordHash (bcrypt) is set it takes precedence over Password.
type AdminCredentials struct {
	Email        string
	Password     string
	PasswordHash string
}

type AuthService struct {
	creds     AdminCredentials
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token string `json:"token"`
}

func NewAuthService(creds AdminCredentials, signer TokenSigner, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	creds.Email = NormalizeEmail(creds.Email)
	return &AuthService{creds: creds, signToken: signer, tokenTTL: ttl}
}

func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") || password == "" {
		return nil, NewInvalidError("Invalid payload")
	}
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(s.creds.Email)) == 1
	if !s.passwordMatches(password) || !emailOK {
		return nil, NewUnauthorizedError("Invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token}, nil
}

func (s *AuthService) passwordMatches(password string) bool {
	if s.creds.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.creds.PasswordHash), []byte(password)) == nil
	}
	if s.creds.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.creds.Password)) == 1
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
