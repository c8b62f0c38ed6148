package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitchat/internal/storage"
	memorystorage "github.com/chitchat/internal/storage/memory"
)

type memStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemStore() *memStore { return &memStore{seen: make(map[string]time.Time)} }

func (s *memStore) UpdateLastSeen(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[userID] = at
	return nil
}

func (s *memStore) GetLastSeen(ctx context.Context, userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[userID], nil
}

func TestOnlineThreshold(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(newMemStore(), memorystorage.New(), 30*time.Second, 30*time.Second)
	tr.now = func() time.Time { return base }

	assert.False(t, tr.Online(time.Time{}), "без единого пульса — оффлайн")
	assert.True(t, tr.Online(base.Add(-29*time.Second)))
	assert.False(t, tr.Online(base.Add(-30*time.Second)), "порог строгий")
	assert.False(t, tr.Online(base.Add(-time.Hour)))
}

func TestHeartbeatWritesAndPublishes(t *testing.T) {
	store := newMemStore()
	bus := memorystorage.New()
	defer bus.Close()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(store, bus, 30*time.Second, 30*time.Second)
	tr.now = func() time.Time { return base }

	events, unsub, err := bus.Subscribe(context.Background(), storage.PresenceChannel)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, tr.Heartbeat(context.Background(), "alice"))

	last, err := store.GetLastSeen(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, base, last)

	select {
	case ev := <-events:
		assert.Equal(t, storage.EventPresence, ev.Kind)
		var upd Update
		require.NoError(t, json.Unmarshal(ev.Payload, &upd))
		assert.Equal(t, "alice", upd.UserID)
		assert.Equal(t, base, upd.LastSeen.UTC())
	case <-time.After(time.Second):
		t.Fatal("presence event not published")
	}
}

func TestIsOnlineAfterHeartbeat(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, memorystorage.New(), 30*time.Second, 30*time.Second)

	online, err := tr.IsOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, tr.Heartbeat(context.Background(), "alice"))
	online, err = tr.IsOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestSessionHeartbeatLoop(t *testing.T) {
	store := newMemStore()
	bus := memorystorage.New()
	defer bus.Close()
	tr := NewTracker(store, bus, 10*time.Millisecond, 30*time.Second)

	events, unsub, err := bus.Subscribe(context.Background(), storage.PresenceChannel)
	require.NoError(t, err)
	defer unsub()

	tr.StartSession(context.Background(), "alice")
	defer tr.Close()

	// Немедленный пульс плюс минимум один тикерный.
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, storage.EventPresence, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("heartbeat %d not received", i+1)
		}
	}

	tr.StopSession("alice")
	last, err := store.GetLastSeen(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, last.IsZero(), "lastSeen остаётся после остановки сессии")
}
