package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid terminal token")

// Claims binds a bearer token to one terminal of one organization.
type Claims struct {
	TerminalID     string `json:"terminal_id"`
	OrganizationID string `json:"organization_id"`
	jwt.RegisteredClaims
}

// IssueToken signs a terminal token. A zero ttl issues a token without expiry.
func IssueToken(secret []byte, terminalID, organizationID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth secret is not configured")
	}
	if terminalID == "" || organizationID == "" {
		return "", errors.New("terminal id and organization id are required")
	}

	now := time.Now()
	claims := Claims{
		TerminalID:     terminalID,
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  terminalID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies an HS256 terminal token.
func ParseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.TerminalID == "" || claims.OrganizationID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
