package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/storage"
)

// subBufSize — буфер канала подписчика. Медленный потребитель теряет события,
// а не блокирует приём: вид чата восстанавливает состояние из снапшота.
const subBufSize = 256

type Client struct {
	cli *redis.Client

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, subs: make(map[*redis.PubSub]struct{})}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	for ps := range c.subs {
		ps.Close()
	}
	c.subs = make(map[*redis.PubSub]struct{})
	c.mu.Unlock()
	return c.cli.Close()
}

// Publish сериализует событие и публикует его в канал Redis.
func (c *Client) Publish(ctx context.Context, channel string, ev storage.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus marshal event: %w", err)
	}
	if err := c.cli.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("bus publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe открывает подписку Redis и транслирует сообщения в типизированный
// канал. Некорректный payload логируется и пропускается (не роняет подписку).
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan storage.ChangeEvent, func(), error) {
	ps := c.cli.Subscribe(ctx, channel)
	// Дожидаемся подтверждения подписки, чтобы не терять события сразу после Subscribe.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("bus subscribe %s: %w", channel, err)
	}

	c.mu.Lock()
	c.subs[ps] = struct{}{}
	c.mu.Unlock()

	out := make(chan storage.ChangeEvent, subBufSize)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev storage.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Errorf("bus decode event on %s: %v", channel, err)
				continue
			}
			select {
			case out <- ev:
			default:
				logger.Errorf("bus subscriber slow on %s, dropping event", channel)
			}
		}
	}()

	cancel := func() {
		c.mu.Lock()
		delete(c.subs, ps)
		c.mu.Unlock()
		ps.Close()
	}
	return out, cancel, nil
}
