package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "canonsafe-governance"

// IssueToken signs a session token whose subject is the reviewer identity.
func (a *Authenticator) IssueToken(subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks signature, issuer and expiry and returns the subject.
func (a *Authenticator) VerifyToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid session token: missing subject")
	}
	return claims.Subject, nil
}
