package memory

import (
	"context"
	"sync"

	"github.com/chitchat/internal/storage"
)

const subBufSize = 256

type subscriber struct {
	ch     chan storage.ChangeEvent
	closed bool
}

// Client — внутрипроцессная шина событий для -dev и тестов.
// Семантика как у redis.Client: медленный подписчик теряет события.
type Client struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

func New() *Client {
	return &Client{subs: make(map[string][]*subscriber)}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range c.subs {
		for _, s := range list {
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
		}
	}
	c.subs = make(map[string][]*subscriber)
	return nil
}

func (c *Client) Publish(ctx context.Context, channel string, ev storage.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs[channel] {
		if s.closed {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Буфер подписчика полон — событие теряется, снапшот восстановит состояние.
		}
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan storage.ChangeEvent, func(), error) {
	s := &subscriber{ch: make(chan storage.ChangeEvent, subBufSize)}
	c.mu.Lock()
	c.subs[channel] = append(c.subs[channel], s)
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		list := c.subs[channel]
		for i, cur := range list {
			if cur == s {
				c.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(s.ch)
	}
	return s.ch, cancel, nil
}
