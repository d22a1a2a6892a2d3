package ws

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// ctxKey is used as a context type which provides the authorized subject.
type ctxKey string

const subjectKey ctxKey = "sub"

/*
Authorize is a middleware that verifies the HS256 token issued by the identity
service.  The token is taken from the "token" query parameter, which browsers
can set on a WebSocket handshake, or from the Auth cookie.  If the token is
valid, its subject is passed to the next handler function through the request
context.

An empty secret disables the verification.
*/
func Authorize(secret []byte, next http.HandlerFunc) http.HandlerFunc {
	if len(secret) == 0 {
		return next
	}

	return func(rw http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			if cookie, err := r.Cookie("Auth"); err == nil {
				raw = cookie.Value
			}
		}
		if raw == "" {
			http.Error(rw, "Sign up/in to start chatting.", http.StatusUnauthorized)
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims,
			func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)
		if err != nil || !token.Valid {
			http.Error(rw, "Sign up/in to start chatting.", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next.ServeHTTP(rw, r.WithContext(ctx))
	}
}
