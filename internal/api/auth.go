package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxIdentity ctxKey = "identity"

const (
	RoleApplicant = "applicant"
	RoleAdmin     = "admin"
)

// HeaderApplicant names the applicant when no JWT secret is configured,
// which config only allows in debug mode.
const HeaderApplicant = "X-Applicant-ID"

var errUnauthorized = errors.New("unauthorized")

// Identity is who made the request.
type Identity struct {
	ApplicantID string
	Role        string
}

// Claims is the token payload: the subject is the applicant id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for applicantID.
func IssueToken(secret, applicantID, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   applicantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type authenticator struct {
	secret []byte
}

func (a authenticator) identify(r *http.Request) (Identity, error) {
	if len(a.secret) == 0 {
		id := strings.TrimSpace(r.Header.Get(HeaderApplicant))
		if id == "" {
			return Identity{}, errUnauthorized
		}
		return Identity{ApplicantID: id, Role: RoleAdmin}, nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Identity{}, errUnauthorized
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", errUnauthorized)
	}
	role := claims.Role
	if role == "" {
		role = RoleApplicant
	}
	return Identity{ApplicantID: claims.Subject, Role: role}, nil
}

// optional attaches the identity when the request carries valid credentials
// and passes anonymous requests through.
func (a authenticator) optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := a.identify(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), ctxIdentity, id))
		}
		next.ServeHTTP(w, r)
	})
}

func (a authenticator) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxIdentity, id)))
	})
}

func (a authenticator) requireAdmin(next http.Handler) http.Handler {
	return a.require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := identityFrom(r.Context()); id.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxIdentity).(Identity)
	return id, ok
}
