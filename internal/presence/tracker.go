// Package presence отслеживает присутствие пользователей через пульс lastSeen.
// Клиент (websocket-сессия) периодически шлёт пульс; пользователь считается
// онлайн, пока с последнего пульса прошло меньше порога. Отдельного события
// "ушёл оффлайн" нет: оффлайн выводится из устаревшего lastSeen.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/storage"
)

// LastSeenStore — минимальный срез репозитория пользователей, нужный трекеру.
type LastSeenStore interface {
	UpdateLastSeen(ctx context.Context, userID string, at time.Time) error
	GetLastSeen(ctx context.Context, userID string) (time.Time, error)
}

// Update — полезная нагрузка события присутствия на шине.
type Update struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type Tracker struct {
	store     LastSeenStore
	bus       storage.Bus
	interval  time.Duration
	threshold time.Duration

	now func() time.Time

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
}

func NewTracker(store LastSeenStore, bus storage.Bus, interval, threshold time.Duration) *Tracker {
	return &Tracker{
		store:     store,
		bus:       bus,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		sessions:  make(map[string]context.CancelFunc),
	}
}

// Heartbeat фиксирует пульс: пишет lastSeen в хранилище и публикует событие
// на канал присутствия. Ошибка публикации не прячет ошибку записи.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	now := t.now()
	if err := t.store.UpdateLastSeen(ctx, userID, now); err != nil {
		return fmt.Errorf("presence.Heartbeat: %w", err)
	}
	payload, _ := json.Marshal(Update{UserID: userID, LastSeen: now})
	ev := storage.ChangeEvent{Kind: storage.EventPresence, Payload: payload}
	if err := t.bus.Publish(ctx, storage.PresenceChannel, ev); err != nil {
		logger.Errorf("presence: publish heartbeat %s: %v", userID, err)
	}
	return nil
}

// IsOnline возвращает true, если с последнего пульса прошло строго меньше порога.
// Пользователь без единого пульса (нулевой lastSeen) всегда оффлайн.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	last, err := t.store.GetLastSeen(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("presence.IsOnline: %w", err)
	}
	return t.Online(last), nil
}

// Online применяет порог к уже загруженному lastSeen (для массовых выборок).
func (t *Tracker) Online(lastSeen time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return t.now().Sub(lastSeen) < t.threshold
}

// StartSession запускает пульс для пользователя: немедленный Heartbeat и далее
// по тикеру, пока сессию не остановят. Повторный StartSession для того же
// пользователя заменяет предыдущую сессию (одна сессия на пользователя).
func (t *Tracker) StartSession(ctx context.Context, userID string) {
	sctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	if prev, ok := t.sessions[userID]; ok {
		prev()
	}
	t.sessions[userID] = cancel
	t.mu.Unlock()

	go func() {
		if err := t.Heartbeat(sctx, userID); err != nil {
			logger.Errorf("presence: heartbeat %s: %v", userID, err)
		}
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				if err := t.Heartbeat(sctx, userID); err != nil {
					logger.Errorf("presence: heartbeat %s: %v", userID, err)
				}
			}
		}
	}()
}

// StopSession останавливает пульс пользователя. Запись lastSeen не трогается:
// оффлайн наступит сам, когда lastSeen устареет.
func (t *Tracker) StopSession(userID string) {
	t.mu.Lock()
	cancel, ok := t.sessions[userID]
	if ok {
		delete(t.sessions, userID)
	}
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close останавливает все активные сессии.
func (t *Tracker) Close() {
	t.mu.Lock()
	for id, cancel := range t.sessions {
		cancel()
		delete(t.sessions, id)
	}
	t.mu.Unlock()
}
