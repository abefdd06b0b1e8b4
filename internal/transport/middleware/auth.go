// Package middleware holds Labtasker's HTTP middleware, adapted from the
// teacher's internal/api/middleware package: request logging, rate
// limiting, and auth. Auth is restructured from the teacher's
// API-key/JWT-only gate into the two-layer scheme spec.md §6/§7 implies:
// every queue-scoped operation always checks the queue's own shared
// secret (internal/labqueue.Queue.CheckPassword via internal/admin);
// an optional JWT bearer check sits in front of the admin-only subset of
// that surface (ls, bulk update, worker/queue deletion) when enabled.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/infinity086/labtasker/internal/admin"
	"github.com/infinity086/labtasker/internal/labqueue"
)

type contextKey string

const (
	// QueueContextKey is where QueueAuth stores the authenticated queue.
	QueueContextKey contextKey = "queue"
)

// QueueAuth authenticates the queue named by the chi URL param paramName
// against the X-Queue-Secret header, storing the resolved *labqueue.Queue
// in the request context on success. It is the always-on guard every
// queue-scoped wire operation goes through, per spec.md §7 UNAUTHORIZED.
func QueueAuth(a *admin.Admin, paramName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			queueName := chi.URLParam(r, paramName)
			secret := r.Header.Get("X-Queue-Secret")
			q, err := a.Authenticate(r.Context(), queueName, secret)
			if err != nil {
				http.Error(w, "invalid queue credentials", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), QueueContextKey, q)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// QueueFromContext retrieves the queue QueueAuth resolved.
func QueueFromContext(ctx context.Context) *labqueue.Queue {
	q, _ := ctx.Value(QueueContextKey).(*labqueue.Queue)
	return q
}

// AdminClaims is the JWT payload expected of an admin bearer token.
type AdminClaims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// RequireAdmin guards the admin-only subset of the queue-scoped surface
// with a JWT bearer token when enabled is true. When enabled is false it
// is a no-op, since queue-scoped operations are already authenticated by
// QueueAuth regardless (spec.md §6: "queue-scoped client operations are
// always authenticated with the queue's own shared secret").
func RequireAdmin(enabled bool, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" || tokenString == authHeader {
				http.Error(w, "admin bearer token required", http.StatusUnauthorized)
				return
			}
			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
