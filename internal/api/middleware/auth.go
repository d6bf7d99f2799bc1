package middleware

import (
	"net/http"

	"gridbot/pkg/crypto"
)

// APIKeyAuth защищает API дашборда ключом из заголовка X-API-Key.
//
// Ключ сверяется с bcrypt-хешем из конфигурации (API_KEY_HASH),
// сам ключ на сервере не хранится. Пустой хеш означает, что auth
// выключен - режим локальной разработки.
func APIKeyAuth(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" || !crypto.CheckAPIKey(key, keyHash) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing API key","code":"Unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
