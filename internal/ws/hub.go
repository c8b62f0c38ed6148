package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/chitchat/internal/apperr"
	"github.com/chitchat/internal/chatview"
	"github.com/chitchat/internal/ledger"
	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/presence"
	"github.com/chitchat/internal/storage"
)

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	msgs     *ledger.Service
	sched    ScheduledLister
	tracker  *presence.Tracker
	bus      storage.Bus
	viewTick time.Duration

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// ScheduledLister — срез планировщика, нужный видам чатов.
type ScheduledLister = chatview.ScheduledLister

func NewHub(msgs *ledger.Service, sched ScheduledLister, tracker *presence.Tracker, bus storage.Bus, viewTick time.Duration, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		msgs:       msgs,
		sched:      sched,
		tracker:    tracker,
		bus:        bus,
		viewTick:   viewTick,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	// Один общий подписчик на канал присутствия: события пульса раздаются
	// всем подключённым клиентам.
	events, unsub, err := h.bus.Subscribe(ctx, storage.PresenceChannel)
	if err != nil {
		logger.Errorf("ws subscribe presence: %v", err)
	} else {
		defer unsub()
		go h.fanOutPresence(ctx, events)
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) fanOutPresence(ctx context.Context, events <-chan storage.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var upd presence.Update
			if err := json.Unmarshal(ev.Payload, &upd); err != nil {
				logger.Errorf("ws bad presence event: %v", err)
				continue
			}
			out := OutgoingMessage{Type: EventPresence, Payload: PresencePayload{
				UserID:   upd.UserID,
				LastSeen: upd.LastSeen,
				Online:   h.tracker.Online(upd.LastSeen),
			}}
			h.broadcast(out)
		}
	}
}

func (h *Hub) shutdown() {
	// Сначала закрываем done: readPump закрывающихся клиентов шлёт Unregister,
	// и при заполненном буфере ожидание ниже взаимно блокировалось бы.
	close(h.done)

	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}

	// Register мог успеть положить клиента в буфер наперегонки с close(done).
	for {
		select {
		case c := <-h.register:
			c.Close()
		default:
			return
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	first := len(h.clients[c.userID]) == 1
	total := h.total
	h.mu.Unlock()

	logger.Debugf("ws connected user=%s total=%d", c.userID, total)

	// Пульс присутствия живёт, пока у пользователя есть хоть одно соединение.
	if first {
		h.tracker.StartSession(context.Background(), c.userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	total := h.total
	h.mu.Unlock()

	logger.Debugf("ws disconnected user=%s total=%d", c.userID, total)

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		// Запись lastSeen не трогаем: оффлайн наступит сам по устареванию.
		h.tracker.StopSession(c.userID)
	}
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventOpenChat:
		h.handleOpenChat(ctx, c, msg)
	case EventCloseChat:
		h.handleCloseChat(c, msg)
	case EventNewMessage:
		h.handleNewMessage(ctx, c, msg)
	case EventMessageSeen:
		h.handleMessageSeen(ctx, c, msg)
	default:
		h.sendError(c, "unknown event type")
	}
}

// handleOpenChat открывает вид чата для клиента: снапшот плюс живые
// обновления, каждое из которых уходит клиенту целым срезом состояния.
func (h *Hub) handleOpenChat(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleOpenChat", time.Now())()
	if msg.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	view := chatview.New(msg.ConversationID, c.userID, h.msgs, h.sched, h.bus, h.viewTick)
	if !c.trackView(msg.ConversationID, view) {
		// Чат уже открыт этим соединением.
		return
	}
	if err := view.Open(ctx); err != nil {
		c.dropView(msg.ConversationID)
		logger.Errorf("ws open chat %s user=%s: %v", msg.ConversationID, c.userID, err)
		h.sendError(c, rejectionReason(err, "failed to open chat"))
		return
	}

	go func() {
		for snap := range view.Updates() {
			h.sendToClient(c, OutgoingMessage{Type: EventChatState, Payload: ChatStatePayload{
				ConversationID: msg.ConversationID,
				Messages:       snap,
			}})
		}
	}()
}

func (h *Hub) handleCloseChat(c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		return
	}
	c.dropView(msg.ConversationID)
}

func (h *Hub) handleNewMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleNewMessage", time.Now())()
	if msg.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Нормализация имени файла: "+" часто приходит вместо пробела (URL-кодирование).
	fileName := strings.TrimSpace(strings.ReplaceAll(msg.FileName, "+", " "))
	_, err := h.msgs.Append(ctx, msg.ConversationID, c.userID, ledger.Input{
		Text:        msg.Text,
		ContentType: msg.ContentType,
		FileURL:     msg.FileURL,
		FileName:    fileName,
	})
	if err != nil {
		logger.Errorf("ws save message chat=%s user=%s: %v", msg.ConversationID, c.userID, err)
		h.sendError(c, rejectionReason(err, "failed to save message"))
	}
}

func (h *Hub) handleMessageSeen(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.msgs.MarkSeen(ctx, msg.ConversationID, c.userID); err != nil {
		logger.Errorf("ws mark seen chat=%s user=%s: %v", msg.ConversationID, c.userID, err)
	}
}

// rejectionReason возвращает текст ошибки для клиента: причины валидации и
// прав доступа отдаются как есть, внутренние ошибки прячутся за fallback.
func rejectionReason(err error, fallback string) string {
	if apperr.IsValidation(err) || apperr.IsPermission(err) {
		return err.Error()
	}
	return fallback
}

func (h *Hub) broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendError(c *Client, reason string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: reason}})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
