// Package auth provides JWT validation for the administrative API. The
// access-control model itself (who holds a token) belongs to the external
// identity provider; this package only verifies and extracts claims.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	apphttp "github.com/chainsafe/bridge-router/pkg/app/http"
)

// JWTValidator validates HMAC-signed admin tokens.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a validator for tokens signed with the shared secret
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer}
}

// ValidateToken validates a token and returns its claims
func (v *JWTValidator) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if v.issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || iss != v.issuer {
			return nil, fmt.Errorf("unexpected issuer")
		}
	}
	return claims, nil
}

// Middleware returns a chi-compatible middleware that rejects requests
// without a valid bearer token and stores the subject in the context.
func (v *JWTValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "missing bearer token"))
			return
		}
		claims, err := v.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid token"))
			return
		}
		subject, _ := claims.GetSubject()
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
	})
}
