package model

import (
	"strings"
	"time"
)

type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserPublic — профиль, отдаваемый другим участникам (без служебных полей).
type UserPublic struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url"`
	LastSeenAt time.Time `json:"last_seen_at"`
	IsOnline   bool      `json:"is_online"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL,
		LastSeenAt: u.LastSeenAt,
	}
}

// NormalizeUsername приводит имя к каноническому виду: нижний регистр, без
// окружающих пробелов. Уникальность username проверяется по этому виду.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
