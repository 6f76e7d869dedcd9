package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// redisTransport uses Redis pub/sub with the channel name as the Redis
// channel. Redis delivers published messages to subscribers in publish order,
// so per-producer FIFO holds.
type redisTransport struct {
	rdb    *redis.Client
	pubsub *redis.PubSub
	queue  *frameQueue

	channel string
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

func newRedisTransport(cfg Config, channel string) (*redisTransport, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	ctx, cancel := context.WithCancel(context.Background())
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	pubsub := rdb.Subscribe(ctx, channel)
	// Force the SUBSCRIBE round trip so peers are reachable once Connect returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	t := &redisTransport{
		rdb:     rdb,
		pubsub:  pubsub,
		queue:   newFrameQueue(),
		channel: channel,
		ctx:     ctx,
		cancel:  cancel,
	}
	go t.receive()
	return t, nil
}

func (t *redisTransport) receive() {
	for msg := range t.pubsub.Channel() {
		t.queue.enqueue([]byte(msg.Payload))
	}
}

func (t *redisTransport) Name() string { return string(TransportRedis) }

func (t *redisTransport) Publish(frame []byte) error {
	if t.ctx.Err() != nil {
		return errTransportClosed
	}
	return t.rdb.Publish(t.ctx, t.channel, frame).Err()
}

func (t *redisTransport) Frames() <-chan []byte { return t.queue.frames() }

func (t *redisTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		_ = t.pubsub.Close()
		_ = t.rdb.Close()
		t.queue.close()
	})
	return nil
}
