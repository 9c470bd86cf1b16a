/*
auth.go - Session tokens, password hashing, and auth middleware

PURPOSE:
  Cookie-based sessions for two audiences: users and the admin panel.
  Both use HMAC-signed JWTs in HTTP-only cookies; admin sessions carry a
  role claim and a separate cookie so a user token can never reach an
  admin route.

PASSWORD STORAGE:
  SHA-256 over a per-user random salt plus the password. The salt is
  stored alongside the hash; comparison is constant-time.

SEE ALSO:
  - handlers.go: Login/register endpoints that mint the tokens
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	userCookie  = "session"
	adminCookie = "admin_session"

	userTokenTTL  = 7 * 24 * time.Hour
	adminTokenTTL = 12 * time.Hour
)

type ctxKey string

const ctxUserID ctxKey = "user_id"

// Auth mints and verifies session tokens.
type Auth struct {
	secret []byte
}

// NewAuth creates the token authority.
func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

type sessionClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (a *Auth) mint(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) verify(token string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// SetUserSession writes a 7-day session cookie for userID.
func (a *Auth) SetUserSession(w http.ResponseWriter, userID string) error {
	token, err := a.mint(userID, "", userTokenTTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(userTokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// SetAdminSession writes the admin session cookie.
func (a *Auth) SetAdminSession(w http.ResponseWriter) error {
	token, err := a.mint("admin", "admin", adminTokenTTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(adminTokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearSession expires both cookies.
func (a *Auth) ClearSession(w http.ResponseWriter) {
	for _, name := range []string{userCookie, adminCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
}

// UserID extracts the user ID from the session cookie, or "".
func (a *Auth) UserID(r *http.Request) string {
	c, err := r.Cookie(userCookie)
	if err != nil {
		return ""
	}
	claims, err := a.verify(c.Value)
	if err != nil || claims.Role != "" {
		return ""
	}
	return claims.Subject
}

// IsAdmin reports whether the request carries a valid admin session.
func (a *Auth) IsAdmin(r *http.Request) bool {
	c, err := r.Cookie(adminCookie)
	if err != nil {
		return false
	}
	claims, err := a.verify(c.Value)
	return err == nil && claims.Role == "admin"
}

// RequireUser rejects requests without a valid user session and puts the
// user ID into the request context.
func (a *Auth) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := a.UserID(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserID, userID)))
	})
}

// RequireAdmin rejects requests without a valid admin session.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.IsAdmin(r) {
			writeError(w, http.StatusUnauthorized, "Admin authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionUserID returns the user ID placed in the context by RequireUser.
func sessionUserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxUserID).(string)
	return id
}

// =============================================================================
// PASSWORD HASHING
// =============================================================================

// NewSalt returns a random hex salt.
func NewSalt() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashPassword hashes password with salt.
func HashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// CheckPassword compares in constant time.
func CheckPassword(hash, salt, password string) bool {
	candidate := HashPassword(salt, password)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(candidate)) == 1
}
