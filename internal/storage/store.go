// Package storage определяет шину событий изменения — realtime-подписку поверх
// документных записей. Реализации: redis.Client (pub/sub, межузловой fan-out),
// memory.Client (для -dev и тестов без Redis).
//
// Контракт для потребителей: записи сначала читаются снапшотом из Postgres,
// затем применяются живые события; слияние — коммутативный upsert по id
// сообщения, поэтому перекрытие снапшота и потока безопасно.
package storage

import (
	"context"
	"encoding/json"
)

type EventKind string

const (
	// EventMessageUpserted — новое сообщение или изменение существующего
	// (мягкое удаление, надгробие, отметка о прочтении).
	EventMessageUpserted EventKind = "message_upserted"
	// EventScheduledUpserted — создано отложенное сообщение.
	EventScheduledUpserted EventKind = "scheduled_upserted"
	// EventScheduledRemoved — отложенное сообщение созрело (sweep) или удалено.
	EventScheduledRemoved EventKind = "scheduled_removed"
	// EventPresence — heartbeat пользователя (обновление last_seen).
	EventPresence EventKind = "presence"
	// EventConversationUpdated — изменение сводки или состава чата.
	EventConversationUpdated EventKind = "conversation_updated"
)

// ChangeEvent — событие изменения одной записи. Payload — сырой JSON записи;
// декодируется на границе потребителя в типизированную модель, некорректные
// записи отклоняются как ошибка валидации, а не проносятся дальше.
type ChangeEvent struct {
	Kind           EventKind       `json:"kind"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Bus — publish/subscribe по именованным каналам.
type Bus interface {
	Publish(ctx context.Context, channel string, ev ChangeEvent) error
	// Subscribe возвращает канал событий и функцию отписки. Отписка освобождает
	// ресурсы и закрывает канал; события после отписки не доставляются.
	Subscribe(ctx context.Context, channel string) (<-chan ChangeEvent, func(), error)
	Close() error
}

// ConversationChannel — канал событий одного чата (сообщения и отложенные).
func ConversationChannel(conversationID string) string {
	return "conv:" + conversationID
}

// PresenceChannel — канал heartbeat-событий всех пользователей.
const PresenceChannel = "presence"
