// internal/api/auth.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/FairForge/arbiter/internal/config"
)

const tokenIssuer = "arbiter"

// Auth exchanges operator credentials for short-lived bearer tokens and
// validates them on mutating routes. Operators and their bcrypt token
// hashes come from the config file; there is no user database.
type Auth struct {
	secret    []byte
	tokenTTL  time.Duration
	operators map[string]string
	logger    *zap.Logger
}

// NewAuth creates the token authority from the API config.
func NewAuth(cfg config.APIConfig, logger *zap.Logger) *Auth {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	operators := make(map[string]string, len(cfg.Operators))
	for _, op := range cfg.Operators {
		operators[op.Name] = op.TokenHash
	}

	return &Auth{
		secret:    []byte(cfg.JWTSecret),
		tokenTTL:  ttl,
		operators: operators,
		logger:    logger,
	}
}

// Enabled reports whether any operator can authenticate at all.
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0 && len(a.operators) > 0
}

// IssueToken verifies an operator's shared token against its bcrypt hash
// and returns a signed JWT.
func (a *Auth) IssueToken(name, token string) (string, time.Time, error) {
	hash, ok := a.operators[name]
	if !ok {
		// Burn a comparison anyway so unknown names cost the same as
		// wrong tokens.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalid"), []byte(token))
		return "", time.Time{}, fmt.Errorf("unknown operator")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return "", time.Time{}, fmt.Errorf("invalid token")
	}

	now := time.Now()
	expires := now.Add(a.tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   name,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// VerifyToken checks a bearer token and returns the operator name.
func (a *Auth) VerifyToken(raw string) (string, error) {
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

// handleIssueToken is POST /api/v1/auth/token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		s.respondError(w, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}

	var req struct {
		Name  string `json:"name"`
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	signed, expires, err := s.auth.IssueToken(req.Name, req.Token)
	if err != nil {
		s.logger.Warn("token issue rejected", zap.String("operator", req.Name))
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      signed,
		"expires_at": expires.UTC(),
	})
}

// requireAuth wraps mutating handlers. With no operators configured the
// control routes are disabled rather than open.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			s.respondError(w, http.StatusForbidden, "control routes disabled: no operators configured")
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		operator, err := s.auth.VerifyToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
