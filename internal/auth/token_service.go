// Package auth provides API key verification and short-lived stream
// tokens for subscriber connections.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Auth errors
var (
	ErrInvalidAPIKey = errors.New("invalid or missing API key")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNoTokenSecret = errors.New("stream token secret not configured")
)

// StreamClaims represents the claims on a subscriber stream token.
type StreamClaims struct {
	Client string `json:"client,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates JWT stream tokens. Browser clients
// use these on WebSocket endpoints instead of carrying the API key.
type TokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		expiry: cfg.Expiry,
		issuer: cfg.Issuer,
	}
}

// StreamToken is an issued token with its lifetime.
type StreamToken struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// GenerateStreamToken issues a signed token for the named client.
func (s *TokenService) GenerateStreamToken(client string) (*StreamToken, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoTokenSecret
	}

	now := time.Now()
	claims := StreamClaims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	return &StreamToken{
		Token:     signed,
		ExpiresIn: int64(s.expiry.Seconds()),
	}, nil
}

// ValidateStreamToken validates a stream token and returns its claims.
func (s *TokenService) ValidateStreamToken(tokenString string) (*StreamClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoTokenSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAPIKey checks a presented API key against the configured one in
// constant time.
func VerifyAPIKey(presented, configured string) error {
	if presented == "" || configured == "" {
		return ErrInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}
