package model

import (
	"sort"
	"strings"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// directIDSeparator — разделитель в детерминированном ключе личного чата.
const directIDSeparator = "_"

// Conversation — чат: личный (две стороны, ключ детерминирован) или групповой
// (сгенерированный id, name/description/image, members, createdBy).
// Поля LastMessage*/UpdatedAt/MessageSeen — денормализованная сводка для списков,
// best-effort кеш, не источник истины.
type Conversation struct {
	ID          string           `json:"id"`
	Type        ConversationType `json:"type"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	ImageURL    string           `json:"image_url,omitempty"`
	Members     []string         `json:"members"`
	CreatedBy   string           `json:"created_by"`

	LastMessage       string    `json:"last_message"`
	LastMessageSender string    `json:"last_message_sender"`
	MessageSeen       bool      `json:"message_seen"`
	UpdatedAt         time.Time `json:"updated_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// DirectConversationID возвращает ключ личного чата пары пользователей:
// id сортируются лексикографически и соединяются разделителем, поэтому ключ
// одинаков независимо от того, кто открыл чат первым.
func DirectConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, directIDSeparator)
}

// HasMember проверяет участие пользователя в чате.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}
