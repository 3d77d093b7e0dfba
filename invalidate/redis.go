package invalidate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

const scanBatch = 200

// RedisResponseCache shares rendered responses between instances.
type RedisResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisResponseCache(client *redis.Client, ttl time.Duration) *RedisResponseCache {
	return &RedisResponseCache{client: client, ttl: ttl}
}

func (r *RedisResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.StorageUnavailableError("redis get "+key, err)
	}
	return v, true, nil
}

func (r *RedisResponseCache) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return types.StorageUnavailableError("redis set "+key, err)
	}
	return nil
}

func (r *RedisResponseCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return types.StorageUnavailableError("redis del", err)
	}
	return nil
}

// DeletePattern walks the keyspace with SCAN so a large keyspace never blocks the server.
func (r *RedisResponseCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, types.StorageUnavailableError("redis del "+pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, types.StorageUnavailableError("redis scan "+pattern, err)
	}
	if err := flush(); err != nil {
		return removed, types.StorageUnavailableError("redis del "+pattern, err)
	}
	return removed, nil
}

// RedisBus carries invalidation events over a pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, ev types.InvalidationEvent) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return types.StorageUnavailableError("redis publish "+b.channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan types.InvalidationEvent, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, types.StorageUnavailableError("redis subscribe "+b.channel, err)
	}

	out := make(chan types.InvalidationEvent, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev types.InvalidationEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					tool.DefaultLogger.Warnf("[Invalidate] bad event on %s: %v", b.channel, err)
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
