package middleware

import "context"

type contextKey string

// UserIDKey — идентификатор пользователя в контексте запроса,
// устанавливается RequireUser.
const UserIDKey contextKey = "user_id"

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}
