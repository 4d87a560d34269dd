/*
auth.go - Bearer token verification for user-facing endpoints

PURPOSE:
  User identity is owned by the hosted auth service, which issues HS256
  JWTs signed with a project secret. This middleware verifies the token,
  puts the subject (user id) in the request context, and lets handlers
  check that the path's {id} matches the caller.

SCOPE:
  Only account endpoints sit behind this middleware. The webhook endpoint
  authenticates via HMAC signature, the refresh trigger via its own shared
  secret, and the cost query is public and pure.
*/
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/makos-ai/credit-engine/ledger"
)

const authLeeway = 30 * time.Second

type contextKey string

const userIDKey contextKey = "makos.user_id"

// Verifier validates tokens from the hosted auth service.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithLeeway(authLeeway),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		),
	}
}

// Verify parses and validates a token, returning the subject user id.
func (v *Verifier) Verify(tokenString string) (ledger.UserID, error) {
	token, err := v.parser.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return ledger.UserID(sub), nil
}

// RequireAuth enforces bearer auth and injects the user id into the context.
func RequireAuth(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := extractBearer(header)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}

			userID, err := v.Verify(token)
			if err != nil {
				log.Printf("[Auth] token rejected path=%s: %v", r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, "invalid token", nil)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthedUser returns the verified user id from the request context.
func AuthedUser(ctx context.Context) (ledger.UserID, bool) {
	id, ok := ctx.Value(userIDKey).(ledger.UserID)
	return id, ok
}

func extractBearer(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
