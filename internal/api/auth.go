package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type subjectKey struct{}

// Authenticator verifies HS256 bearer tokens for the ledger routes. The
// token subject is the user id the caller may act for.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator returns nil when secret is empty, which leaves the
// ledger routes unauthenticated.
func NewAuthenticator(secret, issuer string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Subject validates a raw token and returns its subject.
func (a *Authenticator) Subject(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Issue signs a token for subject. Used by tests and operator tooling.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequireToken rejects requests without a valid bearer token.
func (s *Server) RequireToken(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			s.errorHandler.HandleAuthError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := s.auth.Subject(strings.TrimSpace(raw))
		if err != nil {
			s.errorHandler.HandleAuthError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

// RequireSubject rejects requests whose {userID} differs from the token
// subject. It must run inside RequireToken.
func (s *Server) RequireSubject(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject, _ := r.Context().Value(subjectKey{}).(string); subject != chi.URLParam(r, "userID") {
			s.errorHandler.HandleAuthError(w, r, http.StatusForbidden, "token subject does not match user")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// subjectFrom returns the authenticated user, or "" when auth is disabled.
func subjectFrom(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}
