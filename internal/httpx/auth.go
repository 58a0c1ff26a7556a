package httpx

import (
	"context"
	"crypto/subtle"
	"net/http"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderUserEmail  = "X-User-Email"
	HeaderUserName   = "X-User-Name"
	HeaderAdminToken = "X-Admin-Token"
)

type User struct {
	ID    string
	Email string
	Name  string
}

type userKey struct{}

// RequireUser takes the caller's identity from headers set by the gateway
// in front of the API.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := User{
			ID:    r.Header.Get(HeaderUserID),
			Email: r.Header.Get(HeaderUserEmail),
			Name:  r.Header.Get(HeaderUserName),
		}
		if u.ID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + HeaderUserID, Code: "unauthenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderAdminToken)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "admin token required", Code: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userFrom(r *http.Request) User {
	u, _ := r.Context().Value(userKey{}).(User)
	return u
}
