// Package scheduler управляет отложенными сообщениями. Сообщение c временем
// отправки в будущем лежит в отдельном наборе; в ленту его переводит либо
// серверный sweep, либо фильтр открытого вида, когда время пришло. Между
// созреванием и ближайшим sweep запись существует в обоих представлениях,
// и объединённый вид обязан переживать этот зазор без дублей.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chitchat/internal/apperr"
	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/model"
	"github.com/chitchat/internal/repository"
	"github.com/chitchat/internal/storage"
)

// ScheduledStore — операции над набором отложенных, нужные сервису.
type ScheduledStore interface {
	Insert(ctx context.Context, sm *model.ScheduledMessage) error
	GetByID(ctx context.Context, id string) (*model.ScheduledMessage, error)
	ListConversation(ctx context.Context, conversationID string) ([]model.ScheduledMessage, error)
	ListDue(ctx context.Context, before time.Time) ([]model.ScheduledMessage, error)
	Delete(ctx context.Context, id string) error
	Promote(ctx context.Context, scheduledID string, m *model.Message) error
}

// ConversationStore — срез хранилища чатов: членство и сводка.
type ConversationStore interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	UpdateSummary(ctx context.Context, id, lastMessage, sender string, at time.Time) error
}

type Service struct {
	sched ScheduledStore
	convs ConversationStore
	bus   storage.Bus

	minLead time.Duration
	now     func() time.Time
}

func NewService(sched ScheduledStore, convs ConversationStore, bus storage.Bus, minLead time.Duration) *Service {
	return &Service{sched: sched, convs: convs, bus: bus, minLead: minLead, now: time.Now}
}

// ParseScheduleTime разбирает время отправки из запроса (RFC 3339).
func ParseScheduleTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Validationf("invalid schedule time %q: expected RFC 3339", raw)
	}
	return t, nil
}

// Schedule создаёт отложенное сообщение. Текст проверяется как у обычного
// сообщения, а время отправки должно опережать текущий момент минимум на
// minLead: прошлое и ближайшие секунды отклоняются сразу, а не молча
// превращаются в немедленную отправку.
func (s *Service) Schedule(ctx context.Context, conversationID, senderID, text string, at time.Time) (*model.ScheduledMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validationf("message text is empty")
	}
	if len([]rune(text)) > model.MaxTextLen {
		return nil, apperr.Validationf("message text exceeds %d characters", model.MaxTextLen)
	}
	now := s.now()
	if !at.After(now.Add(s.minLead)) {
		return nil, apperr.Validationf("schedule time must be at least %s in the future", s.minLead)
	}

	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("scheduler.Schedule: %w", err)
	}
	if !conv.HasMember(senderID) {
		return nil, &apperr.PermissionError{Action: "schedule a message in a conversation you are not in"}
	}

	sm := &model.ScheduledMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		ScheduledTime:  at,
		CreatedAt:      now,
	}
	if err := s.sched.Insert(ctx, sm); err != nil {
		return nil, fmt.Errorf("scheduler.Schedule: %w", err)
	}
	s.publishScheduled(ctx, sm)
	return sm, nil
}

// Cancel удаляет отложенное сообщение до созревания. Доступно только автору.
func (s *Service) Cancel(ctx context.Context, scheduledID, actorID string) error {
	sm, err := s.sched.GetByID(ctx, scheduledID)
	if err != nil {
		return fmt.Errorf("scheduler.Cancel: %w", err)
	}
	if sm.SenderID != actorID {
		return &apperr.PermissionError{Action: "cancel someone else's scheduled message"}
	}
	if err := s.sched.Delete(ctx, scheduledID); err != nil {
		return fmt.Errorf("scheduler.Cancel: %w", err)
	}
	s.publishRemoved(ctx, sm.ConversationID, sm.ID)
	return nil
}

// ListConversation возвращает отложенные сообщения чата для его участника.
func (s *Service) ListConversation(ctx context.Context, conversationID, viewerID string) ([]model.ScheduledMessage, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("scheduler.ListConversation: %w", err)
	}
	if !conv.HasMember(viewerID) {
		return nil, &apperr.PermissionError{Action: "view scheduled messages of a conversation you are not in"}
	}
	items, err := s.sched.ListConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("scheduler.ListConversation: %w", err)
	}
	return items, nil
}

// VisibleDue отбирает из отложенных только созревшие (scheduledTime <= now).
// Несозревшие не видны никому, включая автора.
func VisibleDue(items []model.ScheduledMessage, now time.Time) []model.ScheduledMessage {
	due := make([]model.ScheduledMessage, 0, len(items))
	for i := range items {
		if items[i].Due(now) {
			due = append(due, items[i])
		}
	}
	return due
}

// SweepDue переводит все созревшие отложенные сообщения в ленты их чатов.
// Каждое сообщение обрабатывается в своей транзакции: сбой на одном не
// откатывает остальные, а гонка двух sweep решается атомарным удалением,
// поэтому каждое сообщение созревает ровно один раз. Временная метка ленты
// берётся свежая серверная, не scheduledTime.
func (s *Service) SweepDue(ctx context.Context) ([]string, error) {
	defer logger.DeferLogDuration("scheduler.SweepDue", time.Now())()
	due, err := s.sched.ListDue(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("scheduler.SweepDue: %w", err)
	}

	promoted := make([]string, 0, len(due))
	for i := range due {
		sm := due[i]
		// Лента наследует идентификатор отложенной записи: открытые виды
		// склеивают pending-элемент и живое сообщение по ключу без дублей.
		msg := &model.Message{
			ID:             sm.ID,
			ConversationID: sm.ConversationID,
			SenderID:       sm.SenderID,
			Text:           sm.Text,
			ContentType:    model.ContentTypeText,
			Timestamp:      s.now(),
		}
		if err := s.sched.Promote(ctx, sm.ID, msg); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Уже переведено параллельным sweep.
				continue
			}
			logger.Errorf("scheduler: promote %s: %v", sm.ID, err)
			continue
		}
		promoted = append(promoted, msg.ID)

		if err := s.convs.UpdateSummary(ctx, sm.ConversationID, msg.Summary(), sm.SenderID, msg.Timestamp); err != nil {
			logger.Errorf("scheduler: update summary %s: %v", sm.ConversationID, err)
		}
		s.publishRemoved(ctx, sm.ConversationID, sm.ID)
		s.publishMessage(ctx, msg)
	}
	if len(promoted) > 0 {
		logger.Infof("scheduler: promoted %d scheduled messages", len(promoted))
	}
	return promoted, nil
}

func (s *Service) publishScheduled(ctx context.Context, sm *model.ScheduledMessage) {
	payload, _ := json.Marshal(sm)
	ev := storage.ChangeEvent{
		Kind:           storage.EventScheduledUpserted,
		ConversationID: sm.ConversationID,
		Payload:        payload,
	}
	if err := s.bus.Publish(ctx, storage.ConversationChannel(sm.ConversationID), ev); err != nil {
		logger.Errorf("scheduler: publish scheduled %s: %v", sm.ID, err)
	}
}

func (s *Service) publishRemoved(ctx context.Context, conversationID, scheduledID string) {
	payload, _ := json.Marshal(map[string]string{"id": scheduledID})
	ev := storage.ChangeEvent{
		Kind:           storage.EventScheduledRemoved,
		ConversationID: conversationID,
		Payload:        payload,
	}
	if err := s.bus.Publish(ctx, storage.ConversationChannel(conversationID), ev); err != nil {
		logger.Errorf("scheduler: publish removal %s: %v", scheduledID, err)
	}
}

func (s *Service) publishMessage(ctx context.Context, msg *model.Message) {
	payload, _ := json.Marshal(msg)
	ev := storage.ChangeEvent{
		Kind:           storage.EventMessageUpserted,
		ConversationID: msg.ConversationID,
		Payload:        payload,
	}
	if err := s.bus.Publish(ctx, storage.ConversationChannel(msg.ConversationID), ev); err != nil {
		logger.Errorf("scheduler: publish message %s: %v", msg.ID, err)
	}
}
