package chatview

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitchat/internal/model"
	"github.com/chitchat/internal/storage"
	memorystorage "github.com/chitchat/internal/storage/memory"
)

type fakeMessages struct {
	mu    sync.Mutex
	items []model.Message
}

func (f *fakeMessages) List(ctx context.Context, conversationID, viewerID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, 0, len(f.items))
	for _, m := range f.items {
		if m.ConversationID == conversationID && m.VisibleTo(viewerID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessages) set(items []model.Message) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

type fakeScheduled struct {
	mu    sync.Mutex
	items []model.ScheduledMessage
}

func (f *fakeScheduled) ListConversation(ctx context.Context, conversationID, viewerID string) ([]model.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ScheduledMessage, 0, len(f.items))
	for _, sm := range f.items {
		if sm.ConversationID == conversationID {
			out = append(out, sm)
		}
	}
	return out, nil
}

func publish(t *testing.T, bus storage.Bus, conversationID string, kind storage.EventKind, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), storage.ConversationChannel(conversationID), storage.ChangeEvent{
		Kind:           kind,
		ConversationID: conversationID,
		Payload:        raw,
	}))
}

func waitRender(t *testing.T, v *View, cond func([]model.Message) bool) []model.Message {
	t.Helper()
	var last []model.Message
	require.Eventually(t, func() bool {
		last = v.Render()
		return cond(last)
	}, 2*time.Second, 10*time.Millisecond)
	return last
}

func msg(id, conv, sender, text string, ts time.Time) model.Message {
	return model.Message{
		ID: id, ConversationID: conv, SenderID: sender,
		Text: text, ContentType: model.ContentTypeText, Timestamp: ts,
	}
}

func TestOpenSnapshotNewestFirst(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	msgs := &fakeMessages{items: []model.Message{
		msg("m1", "alice_bob", "alice", "first", base),
		msg("m2", "alice_bob", "bob", "second", base.Add(time.Minute)),
	}}
	bus := memorystorage.New()
	defer bus.Close()

	v := New("alice_bob", "alice", msgs, &fakeScheduled{}, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()

	require.Equal(t, StateLive, v.State())
	snap := <-v.Updates()
	require.Len(t, snap, 2)
	assert.Equal(t, "m2", snap[0].ID)
	assert.Equal(t, "m1", snap[1].ID)
}

func TestOpenTwiceFails(t *testing.T) {
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", &fakeMessages{}, &fakeScheduled{}, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()
	assert.Error(t, v.Open(context.Background()))
}

func TestEventUpsertAndRedelivery(t *testing.T) {
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", &fakeMessages{}, &fakeScheduled{}, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()

	m := msg("m1", "alice_bob", "bob", "привет", time.Now())
	publish(t, bus, "alice_bob", storage.EventMessageUpserted, m)
	publish(t, bus, "alice_bob", storage.EventMessageUpserted, m)

	snap := waitRender(t, v, func(s []model.Message) bool { return len(s) > 0 })
	// Повторная доставка поглощается слиянием по ключу.
	require.Len(t, snap, 1)
	assert.Equal(t, "привет", snap[0].Text)
}

func TestHiddenMessageDisappears(t *testing.T) {
	base := time.Now()
	msgs := &fakeMessages{items: []model.Message{msg("m1", "alice_bob", "bob", "x", base)}}
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", msgs, &fakeScheduled{}, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()

	hidden := msg("m1", "alice_bob", "bob", "x", base)
	hidden.DeletedFor = []string{"alice"}
	publish(t, bus, "alice_bob", storage.EventMessageUpserted, hidden)

	waitRender(t, v, func(s []model.Message) bool { return len(s) == 0 })
}

func TestTombstoneStaysVisible(t *testing.T) {
	base := time.Now()
	orig := msg("m1", "alice_bob", "bob", "secret", base)
	orig.DeletedFor = []string{"alice"}
	bus := memorystorage.New()
	defer bus.Close()
	// Для alice сообщение скрыто и в снапшот не попадает.
	v := New("alice_bob", "alice", &fakeMessages{items: []model.Message{orig}}, &fakeScheduled{}, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()
	require.Empty(t, v.Render())

	stone := orig
	stone.Tombstone()
	publish(t, bus, "alice_bob", storage.EventMessageUpserted, stone)

	snap := waitRender(t, v, func(s []model.Message) bool { return len(s) == 1 })
	assert.Equal(t, model.DeletedText, snap[0].Text)
	assert.True(t, snap[0].IsDeleted)
}

func TestScheduledMaturesOnTick(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched := &fakeScheduled{items: []model.ScheduledMessage{{
		ID: "s1", ConversationID: "alice_bob", SenderID: "alice",
		Text: "напоминание", ScheduledTime: base.Add(time.Minute),
	}}}
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", &fakeMessages{}, sched, bus, 10*time.Millisecond)

	var mu sync.Mutex
	now := base
	v.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	require.NoError(t, v.Open(context.Background()))
	defer v.Close()
	require.Empty(t, v.Render(), "несозревшее отложенное сообщение не видно")

	mu.Lock()
	now = base.Add(time.Minute + time.Second)
	mu.Unlock()

	snap := waitRender(t, v, func(s []model.Message) bool { return len(s) == 1 })
	assert.Equal(t, "s1", snap[0].ID)
	assert.Equal(t, "напоминание", snap[0].Text)
	assert.Equal(t, base.Add(time.Minute), snap[0].Timestamp)
}

func TestPromotionAbsorbedByKey(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched := &fakeScheduled{items: []model.ScheduledMessage{{
		ID: "s1", ConversationID: "alice_bob", SenderID: "alice",
		Text: "hi", ScheduledTime: base,
	}}}
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", &fakeMessages{}, sched, bus, time.Hour)
	v.now = func() time.Time { return base.Add(time.Second) }
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()

	// Созревшая pending-ипостась уже видна.
	require.Len(t, v.Render(), 1)

	// Sweep переводит запись в ленту под тем же идентификатором: сначала
	// приходит само сообщение, затем удаление отложенной записи. В любой
	// момент между ними вид содержит ровно один элемент.
	promoted := msg("s1", "alice_bob", "alice", "hi", base.Add(2*time.Second))
	publish(t, bus, "alice_bob", storage.EventMessageUpserted, promoted)
	snap := waitRender(t, v, func(s []model.Message) bool {
		return len(s) == 1 && s[0].Timestamp.Equal(promoted.Timestamp)
	})
	assert.Equal(t, "s1", snap[0].ID)

	publish(t, bus, "alice_bob", storage.EventScheduledRemoved, map[string]string{"id": "s1"})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, v.Render(), 1)
}

func TestScheduledRemovedDropsPending(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	sched := &fakeScheduled{items: []model.ScheduledMessage{{
		ID: "s1", ConversationID: "alice_bob", SenderID: "alice",
		Text: "отменят", ScheduledTime: base,
	}}}
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", &fakeMessages{}, sched, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()
	require.Len(t, v.Render(), 1)

	publish(t, bus, "alice_bob", storage.EventScheduledRemoved, map[string]string{"id": "s1"})
	waitRender(t, v, func(s []model.Message) bool { return len(s) == 0 })
}

func TestConversationUpdateReloadsSnapshot(t *testing.T) {
	base := time.Now()
	msgs := &fakeMessages{items: []model.Message{
		msg("m1", "alice_bob", "bob", "a", base),
		msg("m2", "alice_bob", "bob", "b", base.Add(time.Second)),
	}}
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", msgs, &fakeScheduled{}, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))
	defer v.Close()
	require.Len(t, v.Render(), 2)

	// Очистка чата: снапшот пустеет, событие уровня чата заставляет вид
	// перечитать его.
	msgs.set(nil)
	publish(t, bus, "alice_bob", storage.EventConversationUpdated, map[string]string{"id": "alice_bob"})
	waitRender(t, v, func(s []model.Message) bool { return len(s) == 0 })
}

func TestCloseIdempotent(t *testing.T) {
	bus := memorystorage.New()
	defer bus.Close()
	v := New("alice_bob", "alice", &fakeMessages{}, &fakeScheduled{}, bus, time.Hour)
	require.NoError(t, v.Open(context.Background()))

	v.Close()
	v.Close()
	assert.Equal(t, StateClosed, v.State())

	_, ok := <-v.Updates()
	for ok {
		_, ok = <-v.Updates()
	}
}

type flakyMessages struct {
	fakeMessages
	fail bool
}

func (f *flakyMessages) List(ctx context.Context, conversationID, viewerID string) ([]model.Message, error) {
	if f.fail {
		return nil, errors.New("storage unavailable")
	}
	return f.fakeMessages.List(ctx, conversationID, viewerID)
}

func TestOpenSnapshotFailureResetsState(t *testing.T) {
	now := time.Now()
	msgs := &flakyMessages{fail: true}
	msgs.set([]model.Message{msg("m1", "c1", "alice", "привет", now)})
	v := New("c1", "bob", msgs, &fakeScheduled{}, memorystorage.New(), time.Hour)
	defer v.Close()

	require.Error(t, v.Open(context.Background()))
	assert.Equal(t, StateEmpty, v.State())

	// После сбоя снапшота вид остаётся пригодным для повторного открытия.
	msgs.fail = false
	require.NoError(t, v.Open(context.Background()))
	assert.Equal(t, StateLive, v.State())
	out := waitRender(t, v, func(ms []model.Message) bool { return len(ms) == 1 })
	assert.Equal(t, "m1", out[0].ID)
}
