// Package auth verifies the bearer tokens that identify callers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type Claims struct {
	CustomerID string `json:"customer_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService verifies HMAC tokens minted by the identity provider for one
// issuer.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Verify validates the token and returns the caller it identifies. Every
// failure is domain.ErrUnauthorized.
func (s *TokenService) Verify(tokenString string) (domain.Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Caller{}, domain.WrapError(domain.ErrUnauthorized, "verify token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return domain.Caller{}, domain.WrapError(domain.ErrUnauthorized, "verify token", errors.New("invalid token"))
	}
	return domain.Caller{Subject: claims.Subject, CustomerID: claims.CustomerID}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(headerValue string) (string, bool) {
	headerValue = strings.TrimSpace(headerValue)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return token, token != ""
}
