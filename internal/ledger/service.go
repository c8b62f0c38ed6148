// Package ledger ведёт ленту сообщений чата: добавление, три вида удаления
// (у себя, у выбранных участников, у всех) и отметки о прочтении. Каждое
// изменение публикуется на шину событий чата, чтобы открытые виды обновились
// без перечитывания всей ленты.
package ledger

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
	"github.com/chitchat/internal/storage"
)

// MessageStore — операции над лентой, нужные сервису.
type MessageStore interface {
	Insert(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	AddDeletedFor(ctx context.Context, id string, userIDs []string) error
	Tombstone(ctx context.Context, id string) error
	ClearForUser(ctx context.Context, conversationID, userID string) error
	MarkSeen(ctx context.Context, conversationID, viewerID string) error
}

// ConversationStore — срез хранилища чатов: членство и сводка.
type ConversationStore interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	UpdateSummary(ctx context.Context, id, lastMessage, sender string, at time.Time) error
	MarkSummarySeen(ctx context.Context, id string) error
}

// UserStore отдаёт профили отправителей для обогащения ленты.
type UserStore interface {
	GetMany(ctx context.Context, ids []string) ([]model.User, error)
}

type Service struct {
	msgs  MessageStore
	convs ConversationStore
	users UserStore
	bus   storage.Bus

	now func() time.Time
}

func NewService(msgs MessageStore, convs ConversationStore, users UserStore, bus storage.Bus) *Service {
	return &Service{msgs: msgs, convs: convs, users: users, bus: bus, now: time.Now}
}

// Input — содержимое нового сообщения. Заполняется либо текст, либо файл.
type Input struct {
	Text        string
	ContentType model.ContentType
	FileURL     string
	FileName    string
}

// ValidateInput проверяет содержимое до записи. Текстовое сообщение после
// обрезки пробелов должно быть длиной от 1 до 1000 символов; файловое должно
// нести ссылку на файл. Сообщение несёт ровно один вид содержимого.
func ValidateInput(in Input) (Input, error) {
	if in.ContentType == "" {
		in.ContentType = model.ContentTypeText
	}
	switch in.ContentType {
	case model.ContentTypeText:
		in.Text = strings.TrimSpace(in.Text)
		if in.Text == "" {
			return in, apperr.Validationf("message text is empty")
		}
		if len([]rune(in.Text)) > model.MaxTextLen {
			return in, apperr.Validationf("message text exceeds %d characters", model.MaxTextLen)
		}
		if in.FileURL != "" {
			return in, apperr.Validationf("text message cannot carry a file")
		}
	case model.ContentTypeImage, model.ContentTypeVideo, model.ContentTypeDocument:
		if in.FileURL == "" {
			return in, apperr.Validationf("file message is missing a file")
		}
	default:
		return in, apperr.Validationf("unknown content type %q", in.ContentType)
	}
	return in, nil
}

// Append добавляет сообщение в ленту. Отправитель должен состоять в чате.
// После записи обновляется сводка чата (последнее сообщение, флаг
// непрочитанности) и публикуется событие для открытых видов.
func (s *Service) Append(ctx context.Context, conversationID, senderID string, in Input) (*model.Message, error) {
	in, err := ValidateInput(in)
	if err != nil {
		return nil, err
	}
	conv, err := s.requireMember(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Text:           in.Text,
		ContentType:    in.ContentType,
		FileURL:        in.FileURL,
		FileName:       in.FileName,
		Timestamp:      s.now(),
		SeenBy:         []string{},
		DeletedFor:     []string{},
	}
	if err := s.msgs.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("ledger.Append: %w", err)
	}
	if err := s.convs.UpdateSummary(ctx, conv.ID, msg.Summary(), senderID, msg.Timestamp); err != nil {
		logger.Errorf("ledger: update summary %s: %v", conv.ID, err)
	}
	s.publishMessage(ctx, msg)
	return msg, nil
}

// Get возвращает сообщение с проверкой, что зритель состоит в чате.
func (s *Service) Get(ctx context.Context, messageID, viewerID string) (*model.Message, error) {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("ledger.Get: %w", err)
	}
	if _, err := s.requireMember(ctx, msg.ConversationID, viewerID); err != nil {
		return nil, err
	}
	return msg, nil
}

// List возвращает ленту чата в хронологическом порядке с подгруженными
// отправителями. Сообщения, скрытые для зрителя, отфильтрованы.
func (s *Service) List(ctx context.Context, conversationID, viewerID string) ([]model.Message, error) {
	if _, err := s.requireMember(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.ListConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("ledger.List: %w", err)
	}
	visible := make([]model.Message, 0, len(msgs))
	for i := range msgs {
		if msgs[i].VisibleTo(viewerID) {
			visible = append(visible, msgs[i])
		}
	}
	if err := s.hydrateSenders(ctx, visible); err != nil {
		return nil, err
	}
	return visible, nil
}

// HideForMe скрывает сообщение только у запросившего. Остальные участники
// продолжают его видеть. Повторный вызов безвреден.
func (s *Service) HideForMe(ctx context.Context, messageID, userID string) error {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if errors.Is(err, apperr.ErrNotFound) {
		// Удаление отсутствующего — no-op.
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger.HideForMe: %w", err)
	}
	if _, err := s.requireMember(ctx, msg.ConversationID, userID); err != nil {
		return err
	}
	if err := s.msgs.AddDeletedFor(ctx, messageID, []string{userID}); err != nil {
		return fmt.Errorf("ledger.HideForMe: %w", err)
	}
	s.republish(ctx, messageID)
	return nil
}

// HideForMembers скрывает сообщение у перечисленных участников. Достаточно
// состоять в чате: авторство не проверяется.
func (s *Service) HideForMembers(ctx context.Context, messageID, actorID string, memberIDs []string) error {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger.HideForMembers: %w", err)
	}
	if _, err := s.requireMember(ctx, msg.ConversationID, actorID); err != nil {
		return err
	}
	if len(memberIDs) == 0 {
		return apperr.Validationf("no members to hide the message from")
	}
	if err := s.msgs.AddDeletedFor(ctx, messageID, memberIDs); err != nil {
		return fmt.Errorf("ledger.HideForMembers: %w", err)
	}
	s.republish(ctx, messageID)
	return nil
}

// DeleteForEveryone заменяет сообщение надгробием у всех участников.
// Доступно только автору. Надгробие перекрывает любые прежние скрытия:
// сообщение снова видно всем, но уже с фиксированным текстом.
func (s *Service) DeleteForEveryone(ctx context.Context, messageID, actorID string) error {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger.DeleteForEveryone: %w", err)
	}
	if msg.SenderID != actorID {
		return &apperr.PermissionError{Action: "delete someone else's message for everyone"}
	}
	if err := s.msgs.Tombstone(ctx, messageID); err != nil {
		return fmt.Errorf("ledger.DeleteForEveryone: %w", err)
	}
	s.republish(ctx, messageID)
	return nil
}

// MarkSeen отмечает чужие сообщения чата прочитанными зрителем и сбрасывает
// флаг непрочитанности сводки.
func (s *Service) MarkSeen(ctx context.Context, conversationID, viewerID string) error {
	if _, err := s.requireMember(ctx, conversationID, viewerID); err != nil {
		return err
	}
	if err := s.msgs.MarkSeen(ctx, conversationID, viewerID); err != nil {
		return fmt.Errorf("ledger.MarkSeen: %w", err)
	}
	if err := s.convs.MarkSummarySeen(ctx, conversationID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("ledger.MarkSeen summary: %w", err)
	}
	s.publishConversation(ctx, conversationID)
	return nil
}

// Clear скрывает у пользователя всю ленту чата одним атомарным обновлением.
// Либо скрываются все сообщения, либо ни одного.
func (s *Service) Clear(ctx context.Context, conversationID, userID string) error {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.msgs.ClearForUser(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("ledger.Clear: %w", err)
	}
	s.publishConversation(ctx, conversationID)
	return nil
}

func (s *Service) requireMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load conversation: %w", err)
	}
	if !conv.HasMember(userID) {
		return nil, &apperr.PermissionError{Action: "access a conversation you are not in"}
	}
	return conv, nil
}

func (s *Service) hydrateSenders(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	idSet := make(map[string]struct{}, 8)
	for i := range msgs {
		idSet[msgs[i].SenderID] = struct{}{}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("ledger: hydrate senders: %w", err)
	}
	byID := make(map[string]model.UserPublic, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].ToPublic()
	}
	for i := range msgs {
		if pub, ok := byID[msgs[i].SenderID]; ok {
			msgs[i].Sender = &pub
		}
	}
	return nil
}

// republish перечитывает сообщение и публикует его текущее состояние.
func (s *Service) republish(ctx context.Context, messageID string) {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		logger.Errorf("ledger: republish %s: %v", messageID, err)
		return
	}
	s.publishMessage(ctx, msg)
}

func (s *Service) publishMessage(ctx context.Context, msg *model.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("ledger: marshal message %s: %v", msg.ID, err)
		return
	}
	ev := storage.ChangeEvent{
		Kind:           storage.EventMessageUpserted,
		ConversationID: msg.ConversationID,
		Payload:        payload,
	}
	if err := s.bus.Publish(ctx, storage.ConversationChannel(msg.ConversationID), ev); err != nil {
		logger.Errorf("ledger: publish message %s: %v", msg.ID, err)
	}
}

func (s *Service) publishConversation(ctx context.Context, conversationID string) {
	payload, _ := json.Marshal(map[string]string{"conversationId": conversationID})
	ev := storage.ChangeEvent{
		Kind:           storage.EventConversationUpdated,
		ConversationID: conversationID,
		Payload:        payload,
	}
	if err := s.bus.Publish(ctx, storage.ConversationChannel(conversationID), ev); err != nil {
		logger.Errorf("ledger: publish conversation %s: %v", conversationID, err)
	}
}
