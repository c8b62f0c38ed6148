package model

import "time"

// ScheduledMessage — отложенное сообщение того же чата, в который оно будет
// отправлено. Живёт в отдельном наборе до созревания: серверный sweep либо
// клиентский фильтр (scheduledTime <= now) переводит его в ленту.
type ScheduledMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	CreatedAt      time.Time `json:"created_at"`
}

// Due reports whether the scheduled time has passed.
func (s *ScheduledMessage) Due(now time.Time) bool {
	return !s.ScheduledTime.After(now)
}

// AsMessage возвращает представление для объединённого вида: временная метка
// отображения — scheduledTime, не время создания записи.
func (s *ScheduledMessage) AsMessage() Message {
	return Message{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		SenderID:       s.SenderID,
		Text:           s.Text,
		ContentType:    ContentTypeText,
		Timestamp:      s.ScheduledTime,
	}
}
