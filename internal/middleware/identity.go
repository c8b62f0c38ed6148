package middleware

import (
	"context"
	"net/http"
)

// RequireUser извлекает идентификатор пользователя из заголовка X-User-Id
// (его проставляет шлюз после своей аутентификации; для WebSocket допускается
// query-параметр user_id) и кладёт его в контекст. Без идентификатора — 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		if userID == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
