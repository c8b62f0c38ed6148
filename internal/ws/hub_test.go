package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chitchat/internal/apperr"
	"github.com/chitchat/internal/presence"
	memorystorage "github.com/chitchat/internal/storage/memory"
)

func TestRejectionReason(t *testing.T) {
	// Причины валидации и прав доходят до клиента дословно.
	verr := apperr.Validationf("message text is empty")
	assert.Equal(t, verr.Error(), rejectionReason(verr, "failed to save message"))

	perr := &apperr.PermissionError{Action: "delete someone else's message"}
	assert.Equal(t, perr.Error(), rejectionReason(perr, "failed to save message"))

	// Внутренние ошибки не протекают наружу.
	assert.Equal(t, "failed to save message", rejectionReason(errors.New("pq: connection reset"), "failed to save message"))
	assert.Equal(t, "not found", rejectionReason(apperr.ErrNotFound, "not found"))
}

type stubLastSeen struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func (s *stubLastSeen) UpdateLastSeen(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[userID] = at
	return nil
}

func (s *stubLastSeen) GetLastSeen(ctx context.Context, userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[userID], nil
}

func TestRunStopsWithManyConnectedClients(t *testing.T) {
	bus := memorystorage.New()
	tracker := presence.NewTracker(&stubLastSeen{seen: make(map[string]time.Time)}, bus, time.Hour, time.Hour)
	hub := NewHub(nil, nil, tracker, bus, time.Hour, 0)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(runDone)
	}()

	var seq atomic.Int64
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, fmt.Sprintf("user-%03d", seq.Add(1)))
		c.Start(ctx, cancel)
		hub.Register(c)
	}))
	defer srv.Close()

	// Больше ёмкости буфера unregister: при останове все соединения
	// закрываются разом, и их readPump шлют Unregister одновременно.
	const nClients = 70
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conns := make([]*websocket.Conn, 0, nClients)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < nClients; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.total == nClients
	}, 5*time.Second, 10*time.Millisecond)

	hubCancel()
	select {
	case <-runDone:
	case <-time.After(10 * time.Second):
		t.Fatal("hub.Run did not stop after context cancel")
	}

	// Поздний Unregister после останова не блокируется.
	done := make(chan struct{})
	go func() {
		hub.Unregister(NewClient(hub, conns[0], "late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unregister blocked after hub stopped")
	}
}
