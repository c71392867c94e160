package middleware

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/auth"
)

// HeaderDisplayName carries the caller's display name when no token is used.
const HeaderDisplayName = "X-Display-Name"

const maxActorLen = 64

// Attribution resolves who is performing a request. A bearer token signed
// with jwtSecret (HS256) wins and its "name" claim becomes the actor; an
// invalid token is rejected. Without a token the X-Display-Name header is
// used. Requests with neither stay anonymous. An empty secret disables
// token handling entirely.
func Attribution(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := extractBearer(r); tok != "" && jwtSecret != "" {
				name, ok := actorFromJWT(tok, jwtSecret)
				if !ok {
					http.Error(w, `{"title":"Unauthorized","status":401,"detail":"invalid token"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), name)))
				return
			}

			if name := sanitizeActor(r.Header.Get(HeaderDisplayName)); name != "" {
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), name)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

func actorFromJWT(tokenStr, secret string) (string, bool) {
	claims, err := auth.ValidateToken(secret, tokenStr)
	if err != nil {
		log.Debug().Err(err).Msg("attribution: rejected token")
		return "", false
	}

	name := sanitizeActor(claims.Name)
	if name == "" {
		name = sanitizeActor(claims.Subject)
	}
	return name, true
}

func sanitizeActor(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= maxActorLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxActorLen])
}
