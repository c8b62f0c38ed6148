package model

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
)

// FriendRequest — заявка в друзья. Принятая заявка даёт симметричное ребро
// дружбы, по которому вычисляется доступность личного чата.
type FriendRequest struct {
	ID           string        `json:"id"`
	FromID       string        `json:"from_id"`
	FromUsername string        `json:"from_username"`
	ToID         string        `json:"to_id"`
	ToUsername   string        `json:"to_username"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Friend — запись списка друзей со сводкой личного чата для списочного вида.
type Friend struct {
	User        UserPublic `json:"user"`
	LastMessage string     `json:"last_message"`
	IsUnread    bool       `json:"is_unread"`
}
