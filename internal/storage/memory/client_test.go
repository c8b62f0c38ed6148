package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitchat/internal/storage"
)

func recvEvent(t *testing.T, ch <-chan storage.ChangeEvent) storage.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
		return storage.ChangeEvent{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	c := New()
	defer c.Close()
	ctx := context.Background()

	a, unsubA, err := c.Subscribe(ctx, "conv:alice_bob")
	require.NoError(t, err)
	defer unsubA()
	b, unsubB, err := c.Subscribe(ctx, "conv:alice_bob")
	require.NoError(t, err)
	defer unsubB()
	other, unsubOther, err := c.Subscribe(ctx, "conv:carol_dave")
	require.NoError(t, err)
	defer unsubOther()

	ev := storage.ChangeEvent{Kind: storage.EventMessageUpserted, ConversationID: "alice_bob"}
	require.NoError(t, c.Publish(ctx, "conv:alice_bob", ev))

	assert.Equal(t, storage.EventMessageUpserted, recvEvent(t, a).Kind)
	assert.Equal(t, storage.EventMessageUpserted, recvEvent(t, b).Kind)
	select {
	case <-other:
		t.Fatal("событие утекло в чужой канал")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	c := New()
	defer c.Close()
	ch, unsub, err := c.Subscribe(context.Background(), "presence")
	require.NoError(t, err)

	unsub()
	unsub() // повторная отписка безвредна

	_, ok := <-ch
	assert.False(t, ok)

	// Публикация после отписки никуда не доставляется и не паникует.
	require.NoError(t, c.Publish(context.Background(), "presence", storage.ChangeEvent{Kind: storage.EventPresence}))
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	c := New()
	a, _, err := c.Subscribe(context.Background(), "x")
	require.NoError(t, err)
	b, _, err := c.Subscribe(context.Background(), "y")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, okA := <-a
	_, okB := <-b
	assert.False(t, okA)
	assert.False(t, okB)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	c := New()
	defer c.Close()
	ch, unsub, err := c.Subscribe(context.Background(), "busy")
	require.NoError(t, err)
	defer unsub()

	// Переполняем буфер: публикация не блокируется.
	for i := 0; i < subBufSize+10; i++ {
		require.NoError(t, c.Publish(context.Background(), "busy", storage.ChangeEvent{Kind: storage.EventPresence}))
	}
	assert.Len(t, ch, subBufSize)
}
