package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitchat/internal/apperr"
	"github.com/chitchat/internal/model"
	memorystorage "github.com/chitchat/internal/storage/memory"
)

func TestValidateInput_Text(t *testing.T) {
	in, err := ValidateInput(Input{Text: "  привет  "})
	require.NoError(t, err)
	assert.Equal(t, "привет", in.Text)
	assert.Equal(t, model.ContentTypeText, in.ContentType)

	_, err = ValidateInput(Input{Text: "   "})
	assert.True(t, apperr.IsValidation(err))

	_, err = ValidateInput(Input{})
	assert.True(t, apperr.IsValidation(err))

	// Длина считается в рунах, не байтах.
	in, err = ValidateInput(Input{Text: strings.Repeat("ж", model.MaxTextLen)})
	require.NoError(t, err)
	assert.Len(t, []rune(in.Text), model.MaxTextLen)

	_, err = ValidateInput(Input{Text: strings.Repeat("ж", model.MaxTextLen+1)})
	assert.True(t, apperr.IsValidation(err))
}

func TestValidateInput_File(t *testing.T) {
	in, err := ValidateInput(Input{
		ContentType: model.ContentTypeImage,
		FileURL:     "/api/files/cat.png",
		FileName:    "cat.png",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeImage, in.ContentType)

	for _, ct := range []model.ContentType{model.ContentTypeImage, model.ContentTypeVideo, model.ContentTypeDocument} {
		_, err := ValidateInput(Input{ContentType: ct})
		assert.True(t, apperr.IsValidation(err), "content type %s without file", ct)
	}
}

func TestValidateInput_Conflicts(t *testing.T) {
	_, err := ValidateInput(Input{Text: "hi", FileURL: "/api/files/x.png"})
	assert.True(t, apperr.IsValidation(err), "текст и файл одновременно")

	_, err = ValidateInput(Input{ContentType: "sticker", Text: "hi"})
	assert.True(t, apperr.IsValidation(err), "неизвестный тип содержимого")
}

type fakeMsgStore struct {
	msgs map[string]*model.Message
}

func newFakeMsgStore() *fakeMsgStore {
	return &fakeMsgStore{msgs: make(map[string]*model.Message)}
}

func (f *fakeMsgStore) Insert(ctx context.Context, m *model.Message) error {
	f.msgs[m.ID] = m
	return nil
}

func (f *fakeMsgStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	m, ok := f.msgs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return m, nil
}

func (f *fakeMsgStore) ListConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	out := make([]model.Message, 0, len(f.msgs))
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

// AddDeletedFor повторяет SQL-условие хранилища: уже присутствующий зритель
// не добавляется второй раз, отсутствующее сообщение — no-op.
func (f *fakeMsgStore) AddDeletedFor(ctx context.Context, id string, userIDs []string) error {
	m, ok := f.msgs[id]
	if !ok {
		return nil
	}
	for _, uid := range userIDs {
		seen := false
		for _, have := range m.DeletedFor {
			if have == uid {
				seen = true
				break
			}
		}
		if !seen {
			m.DeletedFor = append(m.DeletedFor, uid)
		}
	}
	return nil
}

func (f *fakeMsgStore) Tombstone(ctx context.Context, id string) error {
	if m, ok := f.msgs[id]; ok {
		m.Tombstone()
	}
	return nil
}

func (f *fakeMsgStore) ClearForUser(ctx context.Context, conversationID, userID string) error {
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			_ = f.AddDeletedFor(ctx, m.ID, []string{userID})
		}
	}
	return nil
}

func (f *fakeMsgStore) MarkSeen(ctx context.Context, conversationID, viewerID string) error {
	return nil
}

type fakeConvStore struct {
	conv *model.Conversation
}

func (f *fakeConvStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	if f.conv == nil || f.conv.ID != id {
		return nil, apperr.ErrNotFound
	}
	return f.conv, nil
}

func (f *fakeConvStore) UpdateSummary(ctx context.Context, id, lastMessage, sender string, at time.Time) error {
	return nil
}

func (f *fakeConvStore) MarkSummarySeen(ctx context.Context, id string) error {
	return nil
}

func newTestService(msgs *fakeMsgStore, convs *fakeConvStore) *Service {
	return NewService(msgs, convs, nil, memorystorage.New())
}

func TestDeleteMissingMessageIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeMsgStore(), &fakeConvStore{})

	// Сообщение могло исчезнуть между рендером и кликом (параллельное
	// удаление, очистка чата). Все три вида удаления молча игнорируют это.
	assert.NoError(t, svc.HideForMe(ctx, "ghost", "alice"))
	assert.NoError(t, svc.HideForMembers(ctx, "ghost", "alice", []string{"bob"}))
	assert.NoError(t, svc.DeleteForEveryone(ctx, "ghost", "alice"))
}

func TestHideForMeIdempotent(t *testing.T) {
	ctx := context.Background()
	msgs := newFakeMsgStore()
	msgs.msgs["m1"] = &model.Message{
		ID:             "m1",
		ConversationID: "alice_bob",
		SenderID:       "bob",
		Text:           "привет",
		ContentType:    model.ContentTypeText,
		Timestamp:      time.Now(),
	}
	convs := &fakeConvStore{conv: &model.Conversation{ID: "alice_bob", Members: []string{"alice", "bob"}}}
	svc := newTestService(msgs, convs)

	require.NoError(t, svc.HideForMe(ctx, "m1", "alice"))
	require.NoError(t, svc.HideForMe(ctx, "m1", "alice"))

	m := msgs.msgs["m1"]
	assert.Equal(t, []string{"alice"}, m.DeletedFor)
	assert.False(t, m.VisibleTo("alice"))
	assert.True(t, m.VisibleTo("bob"))
}

func TestDeleteForEveryoneAuthorOnly(t *testing.T) {
	ctx := context.Background()
	msgs := newFakeMsgStore()
	msgs.msgs["m1"] = &model.Message{
		ID:             "m1",
		ConversationID: "alice_bob",
		SenderID:       "bob",
		Text:           "привет",
		ContentType:    model.ContentTypeText,
	}
	convs := &fakeConvStore{conv: &model.Conversation{ID: "alice_bob", Members: []string{"alice", "bob"}}}
	svc := newTestService(msgs, convs)

	err := svc.DeleteForEveryone(ctx, "m1", "alice")
	assert.True(t, apperr.IsPermission(err))

	require.NoError(t, svc.DeleteForEveryone(ctx, "m1", "bob"))
	m := msgs.msgs["m1"]
	assert.True(t, m.IsDeleted)
	assert.Equal(t, model.DeletedText, m.Text)
	assert.Empty(t, m.DeletedFor)
}
