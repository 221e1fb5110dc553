package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"

	"digitbot/pkg/crypto"
)

const authRealm = `Basic realm="digitbot"`

// BasicAuth - middleware HTTP Basic Authentication для API управления
//
// Пароль сверяется с bcrypt хешем (ADMIN_PASSWORD_HASH). Пустой хеш
// отключает проверку (локальное развертывание).
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.BasicAuth(cfg.Security.AdminUser, cfg.Security.AdminPasswordHash))
func BasicAuth(username, passwordHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if passwordHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			// Constant-time сравнение имени, пароль проверяет bcrypt
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passErr := crypto.VerifyPassword(pass, passwordHash)

			if !userMatch || passErr != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", authRealm)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
