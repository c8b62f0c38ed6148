package middleware

import (
	"net/http"
	"time"

	"github.com/chitchat/internal/logger"
)

// RequestLog пишет method, path и длительность каждого запроса.
// Запись асинхронная и не задерживает ответ.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, time.Now())()
		next.ServeHTTP(w, r)
	})
}
