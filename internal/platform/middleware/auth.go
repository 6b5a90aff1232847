package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"pandi/pkg/requestcontext"
)

// Claims are the token claims the boundary cares about. Identity management
// itself lives outside this service; we only validate the bearer token and
// record the subject for audit attribution.
type Claims struct {
	Subject string
}

// JWTValidator validates a bearer token and extracts claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// HMACValidator validates HS256 tokens against a shared signing key.
type HMACValidator struct {
	key []byte
}

func NewHMACValidator(signingKey string) *HMACValidator {
	return &HMACValidator{key: []byte(signingKey)}
}

func (v *HMACValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}
	return &Claims{Subject: subject}, nil
}

// RequireAuth enforces a valid bearer token and stores the subject in context.
// Pass a nil validator to disable authentication (dev mode).
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			claims, err := validator.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.WarnContext(r.Context(), "token rejected",
					"error", err.Error(),
					"request_id", requestcontext.RequestID(r.Context()),
				)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := requestcontext.WithActor(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
