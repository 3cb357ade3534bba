/*
middleware.go - Authentication and authorization middleware

PURPOSE:
  Verifies bearer tokens, provisions users on first sight, and gates the
  admin route group.

TOKEN FORMAT:
  Authorization: Bearer <jwt>, HMAC-signed (HS256) with the server's
  JWT_SECRET. Claims carry the identity provider's subject plus profile
  fields (email, name, image).

PROVISIONING:
  The first authenticated request from an unknown subject creates the
  user document. Emails on the ADMIN_EMAILS allowlist get the admin role
  at creation time. Disabled accounts are rejected with 403.

SEE ALSO:
  - server.go: where the middleware is mounted
  - config/config.go: JWT_SECRET and ADMIN_EMAILS
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/classtrack/attendance-engine/user"
)

type contextKey string

const userContextKey contextKey = "authUser"

// Claims is the bearer-token payload.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	jwt.RegisteredClaims
}

// authenticate verifies the bearer token and loads (or provisions) the
// user, storing it in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}
		if claims.Subject == "" || claims.Email == "" {
			writeError(w, http.StatusUnauthorized, "Token missing identity claims", nil)
			return
		}

		u, err := h.resolveUser(r.Context(), claims)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve user", err)
			return
		}
		if u.IsDisabled {
			writeError(w, http.StatusForbidden, "Account disabled", nil)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveUser loads the user for the token subject, creating the document
// on first sight.
func (h *Handler) resolveUser(ctx context.Context, claims *Claims) (*user.User, error) {
	u, err := h.users.Get(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}

	role := user.RoleUser
	if h.isAdminEmail(claims.Email) {
		role = user.RoleAdmin
	}
	created := user.User{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Image: claims.Image,
		Role:  role,
	}
	if err := h.users.Save(ctx, created); err != nil {
		return nil, err
	}
	return h.users.Get(ctx, claims.Subject)
}

// requireAdmin gates the admin route group. Mount after authenticate.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r).Role != user.RoleAdmin {
			writeError(w, http.StatusForbidden, "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the authenticated user. Panics if called outside the
// authenticate middleware, which is a programming error.
func currentUser(r *http.Request) *user.User {
	return r.Context().Value(userContextKey).(*user.User)
}
