// Package membership управляет составом чатов: парные чаты с детерминированным
// идентификатором, групповые чаты с валидацией состава и дружеские связи,
// открывающие право на парный чат.
package membership

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

const maxGroupNameLen = 100

type Service struct {
	convs   *repository.ConversationRepository
	users   *repository.UserRepository
	friends *repository.FriendRepository
	bus     storage.Bus

	now func() time.Time
}

func NewService(convs *repository.ConversationRepository, users *repository.UserRepository, friends *repository.FriendRepository, bus storage.Bus) *Service {
	return &Service{convs: convs, users: users, friends: friends, bus: bus, now: time.Now}
}

// DirectID возвращает детерминированный идентификатор парного чата.
// Обе стороны вычисляют одно и то же значение независимо от порядка аргументов.
func (s *Service) DirectID(userA, userB string) string {
	return model.DirectConversationID(userA, userB)
}

// EnsureDirect открывает парный чат между друзьями. Если чата ещё нет, он
// создаётся; если есть, только сбрасывается флаг непрочитанности сводки.
// Возвращает чат в обоих случаях.
func (s *Service) EnsureDirect(ctx context.Context, userID, peerID string) (*model.Conversation, error) {
	if userID == peerID {
		return nil, apperr.Validationf("cannot open a chat with yourself")
	}
	ok, err := s.friends.AreFriends(ctx, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("membership.EnsureDirect: %w", err)
	}
	if !ok {
		return nil, &apperr.PermissionError{Action: "open direct chat with non-friend"}
	}

	now := s.now()
	conv := &model.Conversation{
		ID:          s.DirectID(userID, peerID),
		Type:        model.ConversationDirect,
		Members:     []string{userID, peerID},
		CreatedBy:   userID,
		MessageSeen: true,
		UpdatedAt:   now,
		CreatedAt:   now,
	}
	created, err := s.convs.EnsureDirect(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("membership.EnsureDirect: %w", err)
	}
	if !created {
		if err := s.convs.MarkSummarySeen(ctx, conv.ID); err != nil {
			return nil, fmt.Errorf("membership.EnsureDirect mark seen: %w", err)
		}
		conv, err = s.convs.GetByID(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("membership.EnsureDirect reload: %w", err)
		}
	}
	return conv, nil
}

// CreateGroup создаёт групповой чат. Имя обязательно, нужен хотя бы один
// участник кроме создателя; создатель входит в состав всегда, даже если его
// не перечислили.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name, description string, memberIDs []string) (*model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validationf("group name is required")
	}
	if len(name) > maxGroupNameLen {
		return nil, apperr.Validationf("group name too long (max %d characters)", maxGroupNameLen)
	}

	members := dedupe(append([]string{creatorID}, memberIDs...))
	if len(members) < 2 {
		return nil, apperr.Validationf("group needs at least one member besides the creator")
	}

	now := s.now()
	conv := &model.Conversation{
		ID:          uuid.NewString(),
		Type:        model.ConversationGroup,
		Name:        name,
		Description: description,
		Members:     members,
		CreatedBy:   creatorID,
		MessageSeen: true,
		UpdatedAt:   now,
		CreatedAt:   now,
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("membership.CreateGroup: %w", err)
	}
	s.publishConversation(ctx, conv.ID)
	return conv, nil
}

// AddMembers добавляет участников в групповой чат. Только действующий
// участник может расширять состав.
func (s *Service) AddMembers(ctx context.Context, conversationID, actorID string, memberIDs []string) error {
	if _, err := s.requireGroupMember(ctx, conversationID, actorID); err != nil {
		return err
	}
	if len(memberIDs) == 0 {
		return apperr.Validationf("no members to add")
	}
	if err := s.convs.AddMembers(ctx, conversationID, memberIDs); err != nil {
		return fmt.Errorf("membership.AddMembers: %w", err)
	}
	s.publishConversation(ctx, conversationID)
	return nil
}

// RemoveMember исключает участника (или даёт ему выйти самому).
func (s *Service) RemoveMember(ctx context.Context, conversationID, actorID, memberID string) error {
	_, err := s.requireGroupMember(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if actorID != memberID {
		conv, err := s.convs.GetByID(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("membership.RemoveMember: %w", err)
		}
		if conv.CreatedBy != actorID {
			return &apperr.PermissionError{Action: "remove another member"}
		}
	}
	if err := s.convs.RemoveMember(ctx, conversationID, memberID); err != nil {
		return fmt.Errorf("membership.RemoveMember: %w", err)
	}
	s.publishConversation(ctx, conversationID)
	return nil
}

// UpdateInfo меняет имя, описание или аватар группового чата.
func (s *Service) UpdateInfo(ctx context.Context, conversationID, actorID, name, description, imageURL string) error {
	_, err := s.requireGroupMember(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validationf("group name is required")
	}
	if err := s.convs.UpdateInfo(ctx, conversationID, name, description, imageURL); err != nil {
		return fmt.Errorf("membership.UpdateInfo: %w", err)
	}
	s.publishConversation(ctx, conversationID)
	return nil
}

// Get возвращает чат, проверяя что запрашивающий в нём состоит.
func (s *Service) Get(ctx context.Context, conversationID, viewerID string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("membership.Get: %w", err)
	}
	if !conv.HasMember(viewerID) {
		return nil, &apperr.PermissionError{Action: "view conversation"}
	}
	return conv, nil
}

// ListForUser возвращает чаты пользователя, свежие сверху.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	convs, err := s.convs.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("membership.ListForUser: %w", err)
	}
	return convs, nil
}

// SendFriendRequest создаёт заявку в друзья. Повторная pending-заявка в любую
// сторону отклоняется как дубликат.
func (s *Service) SendFriendRequest(ctx context.Context, fromID, toUsername string) (*model.FriendRequest, error) {
	target, err := s.users.GetByUsername(ctx, toUsername)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Validationf("user %q not found", toUsername)
		}
		return nil, fmt.Errorf("membership.SendFriendRequest: %w", err)
	}
	if target.ID == fromID {
		return nil, apperr.Validationf("cannot send a friend request to yourself")
	}
	already, err := s.friends.AreFriends(ctx, fromID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("membership.SendFriendRequest: %w", err)
	}
	if already {
		return nil, apperr.Validationf("already friends with %q", toUsername)
	}

	req := &model.FriendRequest{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      target.ID,
		Status:    model.RequestPending,
		CreatedAt: s.now(),
	}
	if err := s.friends.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, repository.ErrRequestExists) {
			return nil, apperr.Validationf("a friend request between you is already pending")
		}
		return nil, fmt.Errorf("membership.SendFriendRequest: %w", err)
	}
	return s.friends.GetRequest(ctx, req.ID)
}

// AcceptFriendRequest принимает заявку. Принять может только адресат.
func (s *Service) AcceptFriendRequest(ctx context.Context, requestID, actorID string) error {
	req, err := s.friends.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("membership.AcceptFriendRequest: %w", err)
	}
	if req.ToID != actorID {
		return &apperr.PermissionError{Action: "accept someone else's friend request"}
	}
	if err := s.friends.Accept(ctx, requestID); err != nil {
		return fmt.Errorf("membership.AcceptFriendRequest: %w", err)
	}
	return nil
}

// DeclineFriendRequest отклоняет заявку (адресат) или отзывает её (отправитель).
func (s *Service) DeclineFriendRequest(ctx context.Context, requestID, actorID string) error {
	req, err := s.friends.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("membership.DeclineFriendRequest: %w", err)
	}
	if req.ToID != actorID && req.FromID != actorID {
		return &apperr.PermissionError{Action: "decline someone else's friend request"}
	}
	if err := s.friends.Decline(ctx, requestID); err != nil {
		return fmt.Errorf("membership.DeclineFriendRequest: %w", err)
	}
	return nil
}

// IncomingRequests возвращает pending-заявки пользователя.
func (s *Service) IncomingRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	reqs, err := s.friends.ListIncoming(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("membership.IncomingRequests: %w", err)
	}
	return reqs, nil
}

// ListFriends возвращает друзей вместе со сводкой парного чата: последнее
// сообщение и флаг непрочитанности.
func (s *Service) ListFriends(ctx context.Context, userID string, online func(time.Time) bool) ([]model.Friend, error) {
	ids, err := s.friends.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("membership.ListFriends: %w", err)
	}
	if len(ids) == 0 {
		return []model.Friend{}, nil
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("membership.ListFriends: %w", err)
	}

	friends := make([]model.Friend, 0, len(users))
	for i := range users {
		u := users[i]
		pub := u.ToPublic()
		if online != nil {
			pub.IsOnline = online(u.LastSeenAt)
		}
		f := model.Friend{User: pub}
		conv, err := s.convs.GetByID(ctx, s.DirectID(userID, u.ID))
		if err == nil {
			f.LastMessage = conv.LastMessage
			// Непрочитано, когда сводку обновил собеседник и её ещё не открывали.
			f.IsUnread = !conv.MessageSeen && conv.LastMessageSender != userID
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("membership.ListFriends summary: %w", err)
		}
		friends = append(friends, f)
	}
	return friends, nil
}

func (s *Service) requireGroupMember(ctx context.Context, conversationID, actorID string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("membership: load conversation: %w", err)
	}
	if conv.Type != model.ConversationGroup {
		return nil, apperr.Validationf("conversation is not a group")
	}
	if !conv.HasMember(actorID) {
		return nil, &apperr.PermissionError{Action: "modify a group you are not in"}
	}
	return conv, nil
}

func (s *Service) publishConversation(ctx context.Context, conversationID string) {
	payload, _ := json.Marshal(map[string]string{"conversationId": conversationID})
	ev := storage.ChangeEvent{Kind: storage.EventConversationUpdated, ConversationID: conversationID, Payload: payload}
	if err := s.bus.Publish(ctx, storage.ConversationChannel(conversationID), ev); err != nil {
		logger.Errorf("membership: publish conversation %s: %v", conversationID, err)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
