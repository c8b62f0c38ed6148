package middleware

import (
	"net"
	"net/http"
	"os"
	"strings"
)

// InternalOnly защищает служебные ручки (/internal/*: заведение пользователей,
// ручной sweep). Пропускает запросы с приватных IP или с заголовком
// X-Internal-Secret == INTERNAL_API_SECRET — снаружи эти пути не экспонируются,
// их зовут только gateway и cron в той же сети.
func InternalOnly(next http.Handler) http.Handler {
	secret := strings.TrimSpace(os.Getenv("INTERNAL_API_SECRET"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && r.Header.Get("X-Internal-Secret") == secret {
			next.ServeHTTP(w, r)
			return
		}
		if ip := clientIP(r); ip != "" && isPrivateIP(ip) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
