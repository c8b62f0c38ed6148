package scheduler

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

func TestParseScheduleTime(t *testing.T) {
	at, err := ParseScheduleTime("2025-06-01T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 15, 4, 5, 0, time.UTC), at)

	_, err = ParseScheduleTime("завтра в полдень")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	_, err = ParseScheduleTime("2025-06-01 15:04:05")
	assert.True(t, apperr.IsValidation(err))
}

func TestScheduleLeadTime(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(nil, nil, memorystorage.New(), 30*time.Second)
	svc.now = func() time.Time { return base }

	// Прошлое, настоящее и время внутри минимального запаса отклоняются.
	for _, at := range []time.Time{
		base.Add(-time.Minute),
		base,
		base.Add(29 * time.Second),
		base.Add(30 * time.Second),
	} {
		_, err := svc.Schedule(context.Background(), "alice_bob", "alice", "hi", at)
		require.Error(t, err, "at=%s", at)
		assert.True(t, apperr.IsValidation(err), "at=%s", at)
	}
}

func TestScheduleTextValidation(t *testing.T) {
	svc := NewService(nil, nil, memorystorage.New(), 30*time.Second)

	_, err := svc.Schedule(context.Background(), "alice_bob", "alice", "   ", time.Now().Add(time.Hour))
	assert.True(t, apperr.IsValidation(err))

	long := strings.Repeat("ж", model.MaxTextLen+1)
	_, err = svc.Schedule(context.Background(), "alice_bob", "alice", long, time.Now().Add(time.Hour))
	assert.True(t, apperr.IsValidation(err))
}

func TestVisibleDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	items := []model.ScheduledMessage{
		{ID: "past", ScheduledTime: now.Add(-time.Minute)},
		{ID: "exact", ScheduledTime: now},
		{ID: "soon", ScheduledTime: now.Add(time.Second)},
		{ID: "later", ScheduledTime: now.Add(time.Hour)},
	}

	due := VisibleDue(items, now)
	require.Len(t, due, 2)
	assert.Equal(t, "past", due[0].ID)
	assert.Equal(t, "exact", due[1].ID)

	// Минуту спустя созревает и третий.
	assert.Len(t, VisibleDue(items, now.Add(time.Minute)), 3)
	assert.Empty(t, VisibleDue(nil, now))
}

type fakeConvs struct {
	conv      *model.Conversation
	summaries []string
}

func (f *fakeConvs) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	if f.conv == nil || f.conv.ID != id {
		return nil, apperr.ErrNotFound
	}
	return f.conv, nil
}

func (f *fakeConvs) UpdateSummary(ctx context.Context, id, lastMessage, sender string, at time.Time) error {
	f.summaries = append(f.summaries, lastMessage)
	return nil
}

type fakeSched struct {
	items    map[string]model.ScheduledMessage
	promoted map[string]bool
	inserted []*model.Message
}

func newFakeSched() *fakeSched {
	return &fakeSched{items: make(map[string]model.ScheduledMessage), promoted: make(map[string]bool)}
}

func (f *fakeSched) Insert(ctx context.Context, sm *model.ScheduledMessage) error {
	f.items[sm.ID] = *sm
	return nil
}

func (f *fakeSched) GetByID(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	sm, ok := f.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &sm, nil
}

func (f *fakeSched) ListConversation(ctx context.Context, conversationID string) ([]model.ScheduledMessage, error) {
	out := make([]model.ScheduledMessage, 0, len(f.items))
	for _, sm := range f.items {
		if sm.ConversationID == conversationID {
			out = append(out, sm)
		}
	}
	return out, nil
}

// ListDue намеренно не смотрит на promoted: так воспроизводится чтение
// параллельного sweep, увидевшего запись до её перевода в ленту.
func (f *fakeSched) ListDue(ctx context.Context, before time.Time) ([]model.ScheduledMessage, error) {
	out := make([]model.ScheduledMessage, 0, len(f.items))
	for _, sm := range f.items {
		if !sm.ScheduledTime.After(before) {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (f *fakeSched) Delete(ctx context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeSched) Promote(ctx context.Context, scheduledID string, m *model.Message) error {
	if f.promoted[scheduledID] {
		return apperr.ErrNotFound
	}
	f.promoted[scheduledID] = true
	f.inserted = append(f.inserted, m)
	return nil
}

func TestScheduleJustPastLeadTime(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched := newFakeSched()
	convs := &fakeConvs{conv: &model.Conversation{ID: "alice_bob", Members: []string{"alice", "bob"}}}
	svc := NewService(sched, convs, memorystorage.New(), 30*time.Second)
	svc.now = func() time.Time { return base }

	// Секунда сверх минимального запаса — уже достаточно.
	sm, err := svc.Schedule(context.Background(), "alice_bob", "alice", "  привет  ", base.Add(31*time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, sm.ID)
	assert.Equal(t, "привет", sm.Text)
	assert.Equal(t, base, sm.CreatedAt)
	assert.Len(t, sched.items, 1)

	_, err = svc.Schedule(context.Background(), "alice_bob", "mallory", "hi", base.Add(31*time.Second))
	assert.True(t, apperr.IsPermission(err))
}

func TestSweepDueExactlyOnce(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched := newFakeSched()
	sched.items["sm-1"] = model.ScheduledMessage{
		ID:             "sm-1",
		ConversationID: "alice_bob",
		SenderID:       "alice",
		Text:           "позже",
		ScheduledTime:  base.Add(-time.Minute),
	}
	convs := &fakeConvs{conv: &model.Conversation{ID: "alice_bob", Members: []string{"alice", "bob"}}}
	svc := NewService(sched, convs, memorystorage.New(), 30*time.Second)
	svc.now = func() time.Time { return base }

	ids, err := svc.SweepDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"sm-1"}, ids)
	require.Len(t, sched.inserted, 1)
	// Лента наследует идентификатор и получает свежую серверную метку.
	assert.Equal(t, "sm-1", sched.inserted[0].ID)
	assert.Equal(t, base, sched.inserted[0].Timestamp)
	assert.Equal(t, []string{"позже"}, convs.summaries)

	// Повторный проход видит ту же запись, но перевод уже состоялся:
	// второй Promote отвечает ErrNotFound, и дубля в ленте нет.
	ids, err = svc.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, sched.inserted, 1)
	assert.Equal(t, []string{"позже"}, convs.summaries)
}
