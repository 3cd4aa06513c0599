/*
auth.go - Bearer-token sessions

PURPOSE:
  Every engine operation acts on behalf of an explicit session. On the wire
  the session is an HS256 JWT carrying the user id, role and department.

FLOW:
  Issue(session)      -> token        (cmd/leavectl token, tests)
  Middleware(secret)  -> Verify       (api router, per request)
  SessionFrom(ctx)    -> session      (handlers)

SEE ALSO:
  - api/server.go: Route protection
  - workflow/types.go: Session
*/
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/workflow"
)

// CodeUnauthenticated is the error code written for 401 responses.
const CodeUnauthenticated = "unauthenticated"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the token payload.
type Claims struct {
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with one secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. A zero ttl means 12 hours.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for session.
func (i *Issuer) Issue(session workflow.Session) (string, error) {
	if err := session.Validate(); err != nil {
		return "", err
	}
	now := i.now()
	claims := Claims{
		Role:       string(session.Role),
		Department: session.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its session.
func (i *Issuer) Verify(token string) (workflow.Session, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return workflow.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role, err := workflow.ParseRole(claims.Role)
	if err != nil {
		return workflow.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	session := workflow.Session{UserID: claims.Subject, Role: role, Department: claims.Department}
	if err := session.Validate(); err != nil {
		return workflow.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return session, nil
}

// =============================================================================
// HTTP
// =============================================================================

type ctxKey struct{}

// WithSession stores session in ctx.
func WithSession(ctx context.Context, session workflow.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, session)
}

// SessionFrom returns the session stored by Middleware.
func SessionFrom(ctx context.Context) (workflow.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(workflow.Session)
	return s, ok
}

// Middleware rejects requests without a valid bearer token with 401.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearer(r)
		if err != nil {
			unauthorized(w, err)
			return
		}
		session, err := i.Verify(token)
		if err != nil {
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// SetBearer adds the Authorization header to req.
func SetBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}

func bearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "Unauthorized",
		"code":    CodeUnauthenticated,
		"details": err.Error(),
	})
}
