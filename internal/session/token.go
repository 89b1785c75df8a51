// Package session issues and verifies the short-lived signed bearer
// tokens the dashboard and CLI use instead of raw API keys.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid session token")

// AccessClaims are the claims carried by an access token. ProjectID is
// optional; when set the session is bound to a single project.
type AccessClaims struct {
	DeveloperID string `json:"developer_id"`
	ProjectID   string `json:"project_id,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims carried by a refresh token.
type RefreshClaims struct {
	DeveloperID string `json:"developer_id"`
	TokenType   string `json:"token_type"`
	jwt.RegisteredClaims
}

// Service signs and verifies session tokens. Access and refresh tokens
// use separate secrets.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewService creates a session token service.
func NewService(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *Service {
	return &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// Issue generates an access token for a developer, optionally bound to
// a project.
func (s *Service) Issue(developerID uuid.UUID, projectID *uuid.UUID) (string, error) {
	if developerID == uuid.Nil {
		return "", errors.New("developer id is required")
	}

	now := time.Now()
	claims := AccessClaims{
		DeveloperID: developerID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "nimbase-gate",
			Subject:   developerID.String(),
		},
	}
	if projectID != nil {
		claims.ProjectID = projectID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.accessSecret)
}

// IssueRefresh generates a refresh token for a developer.
func (s *Service) IssueRefresh(developerID uuid.UUID) (string, error) {
	if developerID == uuid.Nil {
		return "", errors.New("developer id is required")
	}

	now := time.Now()
	claims := RefreshClaims{
		DeveloperID: developerID.String(),
		TokenType:   "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "nimbase-gate",
			Subject:   developerID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.refreshSecret)
}

// Verify validates an access token and returns its claims.
func (s *Service) Verify(tokenString string) (*AccessClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.accessSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *Service) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.refreshSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid || claims.TokenType != "refresh" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
