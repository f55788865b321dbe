// Package auth issues and validates the JWT bearer tokens protecting the
// admin API. Tokens are HMAC-SHA256 signed with a shared secret; there is
// no user database, a valid token is an operator.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/contractwatch/contract-indexer/internal/config"
)

// Validation errors surfaced to the middleware.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// DefaultTokenLifetime applies when no lifetime is configured.
const DefaultTokenLifetime = 24 * time.Hour

// clockSkew tolerates small drift between token issuer and validator.
const clockSkew = 2 * time.Minute

// Claims carries the validated identity of an admin token.
type Claims struct {
	Subject string
}

// JWTService issues and validates admin tokens.
type JWTService interface {
	GenerateToken(ctx context.Context, subject string) (string, error)
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

type jwtCustomClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

type hmacJWTService struct {
	signingKey    []byte
	tokenLifetime time.Duration
	timeFunc      func() time.Time
}

var _ JWTService = (*hmacJWTService)(nil)

// NewJWTService creates an HMAC-SHA256 token service from configuration.
func NewJWTService(cfg config.AuthConfig) (JWTService, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &hmacJWTService{
		signingKey:    []byte(cfg.JWTSecret),
		tokenLifetime: DefaultTokenLifetime,
		timeFunc:      time.Now,
	}, nil
}

// GenerateToken signs an admin token for the given subject.
func (s *hmacJWTService) GenerateToken(_ context.Context, subject string) (string, error) {
	now := s.timeFunc()
	claims := jwtCustomClaims{
		TokenType: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks the signature, expiry and token type.
func (s *hmacJWTService) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.timeFunc),
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwtCustomClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwtCustomClaims)
	if !ok || !token.Valid || claims.TokenType != "admin" {
		return nil, ErrInvalidToken
	}
	return &Claims{Subject: claims.Subject}, nil
}
