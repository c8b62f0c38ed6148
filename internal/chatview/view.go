// Package chatview собирает объединённый вид открытого чата: лента сообщений
// плюс созревшие отложенные, слитые по ключу-идентификатору. Вид живёт от
// открытия чата до его закрытия, держит подписку на шину событий и отдаёт
// подписчику целые срезы состояния, новые сверху.
//
// Слияние по ключу коммутативно: порядок прихода снапшота и событий не влияет
// на итог, а повторная доставка одного события поглощается. Это закрывает и
// зазор между созреванием отложенного сообщения и серверным sweep: обе ипостаси
// записи несут один идентификатор и схлопываются в один элемент вида.
package chatview

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/model"
	"github.com/chitchat/internal/storage"
)

// State — фаза жизни вида.
type State int

const (
	// StateEmpty — вид создан, но чат ещё не открыт.
	StateEmpty State = iota
	// StateLoading — идёт загрузка снапшота.
	StateLoading
	// StateLive — снапшот применён, вид обновляется событиями.
	StateLive
	// StateClosed — вид закрыт, ресурсы освобождены.
	StateClosed
)

// MessageLister отдаёт снапшот ленты, уже отфильтрованный для зрителя.
type MessageLister interface {
	List(ctx context.Context, conversationID, viewerID string) ([]model.Message, error)
}

// ScheduledLister отдаёт отложенные сообщения чата.
type ScheduledLister interface {
	ListConversation(ctx context.Context, conversationID, viewerID string) ([]model.ScheduledMessage, error)
}

type View struct {
	conversationID string
	viewerID       string

	msgs  MessageLister
	sched ScheduledLister
	bus   storage.Bus
	tick  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	state    State
	messages map[string]model.Message
	pending  map[string]model.ScheduledMessage

	updates chan []model.Message
	cancel  context.CancelFunc
	unsub   func()
}

func New(conversationID, viewerID string, msgs MessageLister, sched ScheduledLister, bus storage.Bus, tick time.Duration) *View {
	return &View{
		conversationID: conversationID,
		viewerID:       viewerID,
		msgs:           msgs,
		sched:          sched,
		bus:            bus,
		tick:           tick,
		now:            time.Now,
		state:          StateEmpty,
		messages:       make(map[string]model.Message),
		pending:        make(map[string]model.ScheduledMessage),
		updates:        make(chan []model.Message, 1),
	}
}

// Updates — канал срезов состояния. Каждый срез полный и отсортирован новыми
// вперёд; медленный получатель видит только последний. Канал закрывается
// вместе с видом.
func (v *View) Updates() <-chan []model.Message { return v.updates }

// State возвращает текущую фазу вида.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *View) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// Open подписывается на события чата, загружает снапшот и запускает цикл
// обновлений. Подписка оформляется до чтения снапшота: событие, пришедшее во
// время загрузки, не теряется, а повторы поглощает слияние по ключу.
func (v *View) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateEmpty {
		v.mu.Unlock()
		return fmt.Errorf("chatview: view already opened")
	}
	v.state = StateLoading
	v.mu.Unlock()

	vctx, cancel := context.WithCancel(ctx)
	events, unsub, err := v.bus.Subscribe(vctx, storage.ConversationChannel(v.conversationID))
	if err != nil {
		cancel()
		v.setState(StateEmpty)
		return fmt.Errorf("chatview: subscribe: %w", err)
	}
	v.cancel = cancel
	v.unsub = unsub

	if err := v.loadSnapshot(vctx); err != nil {
		unsub()
		cancel()
		v.setState(StateEmpty)
		return err
	}
	v.setState(StateLive)
	v.emit()

	go v.run(vctx, events)
	return nil
}

// Close освобождает подписку и закрывает канал обновлений. Повторный вызов
// безвреден.
func (v *View) Close() {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return
	}
	v.state = StateClosed
	cancel, unsub := v.cancel, v.unsub
	v.cancel, v.unsub = nil, nil
	v.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	close(v.updates)
}

func (v *View) run(ctx context.Context, events <-chan storage.ChangeEvent) {
	ticker := time.NewTicker(v.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			v.apply(ctx, ev)
			v.emit()
		case <-ticker.C:
			// Периодическая перепроверка созревания отложенных сообщений:
			// без неё элемент, чьё время пришло, ждал бы внешнего события.
			v.emit()
		}
	}
}

func (v *View) loadSnapshot(ctx context.Context) error {
	msgs, err := v.msgs.List(ctx, v.conversationID, v.viewerID)
	if err != nil {
		return fmt.Errorf("chatview: load messages: %w", err)
	}
	scheduled, err := v.sched.ListConversation(ctx, v.conversationID, v.viewerID)
	if err != nil {
		return fmt.Errorf("chatview: load scheduled: %w", err)
	}

	v.mu.Lock()
	// Снапшот заменяет ленту целиком: события применяются последовательно на
	// той же горутине, а пришедшие во время загрузки лежат в канале подписки
	// и будут влиты следом. Полная замена обязательна для очистки чата —
	// после неё снапшот пуст, и старые записи не должны пережить перезагрузку.
	fresh := make(map[string]model.Message, len(msgs))
	for i := range msgs {
		fresh[msgs[i].ID] = msgs[i]
	}
	v.messages = fresh

	pending := make(map[string]model.ScheduledMessage, len(scheduled))
	for i := range scheduled {
		if _, promoted := v.messages[scheduled[i].ID]; promoted {
			continue
		}
		pending[scheduled[i].ID] = scheduled[i]
	}
	v.pending = pending
	v.mu.Unlock()
	return nil
}

// apply вливает одно событие шины в состояние вида.
func (v *View) apply(ctx context.Context, ev storage.ChangeEvent) {
	logger.Debugf("chatview %s: event %s", v.conversationID, ev.Kind)
	switch ev.Kind {
	case storage.EventMessageUpserted:
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			logger.Errorf("chatview: bad message event: %v", err)
			return
		}
		v.mu.Lock()
		// Сообщение с тем же ключом вытесняет pending-ипостась отложенной записи.
		delete(v.pending, msg.ID)
		if msg.VisibleTo(v.viewerID) {
			v.messages[msg.ID] = msg
		} else {
			delete(v.messages, msg.ID)
		}
		v.mu.Unlock()

	case storage.EventScheduledUpserted:
		var sm model.ScheduledMessage
		if err := json.Unmarshal(ev.Payload, &sm); err != nil {
			logger.Errorf("chatview: bad scheduled event: %v", err)
			return
		}
		v.mu.Lock()
		if _, promoted := v.messages[sm.ID]; !promoted {
			v.pending[sm.ID] = sm
		}
		v.mu.Unlock()

	case storage.EventScheduledRemoved:
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Payload, &ref); err != nil {
			logger.Errorf("chatview: bad removal event: %v", err)
			return
		}
		v.mu.Lock()
		delete(v.pending, ref.ID)
		v.mu.Unlock()

	case storage.EventConversationUpdated:
		// Изменения уровня чата (прочтения, очистка ленты) не несут тела
		// сообщений: перечитываем снапшот.
		if err := v.loadSnapshot(ctx); err != nil {
			logger.Errorf("chatview: reload snapshot: %v", err)
		}
	}
}

// emit собирает срез состояния и отдаёт его получателю, вытесняя непрочитанный
// предыдущий срез.
func (v *View) emit() {
	snap := v.Render()

	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return
	}
	select {
	case v.updates <- snap:
	default:
		select {
		case <-v.updates:
		default:
		}
		v.updates <- snap
	}
	v.mu.Unlock()
}

// Render возвращает текущий объединённый срез: видимые зрителю сообщения ленты
// плюс созревшие отложенные, новые сверху. Созревший pending-элемент входит в
// срез с меткой времени scheduledTime; несозревший не виден вовсе.
func (v *View) Render() []model.Message {
	now := v.now()

	v.mu.Lock()
	out := make([]model.Message, 0, len(v.messages)+len(v.pending))
	for _, m := range v.messages {
		out = append(out, m)
	}
	for _, sm := range v.pending {
		if !sm.Due(now) {
			continue
		}
		if _, ok := v.messages[sm.ID]; ok {
			continue
		}
		out = append(out, sm.AsMessage())
	}
	v.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
