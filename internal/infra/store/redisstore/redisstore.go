// Package redisstore backs store.Store with redis/go-redis/v9, the
// production State Store Adapter implementation. Borrowed stack: the
// teacher (cklxx-elephant.ai) has no generic KV port, so the client and
// its pub/sub shape are grounded on goadesign-goa-ai's store layer, kept
// in the teacher's error-wrapping idiom (fmt.Errorf("...: %w", err)).
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kabsikabs/agentcore/internal/store"
)

// Store adapts a *redis.Client to store.Store.
type Store struct {
	client *redis.Client
}

// Options mirrors the subset of redis.Options agentcore's config exposes.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New dials a redis client. It does not ping the server; callers should
// use Ping to verify connectivity during startup health checks.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Store{client: client}
}

// Ping verifies connectivity, used by the app's readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: setnx %q: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisstore: del %v: %w", keys, err)
	}
	return nil
}

// compareAndDeleteScript is the standard redis lock-release idiom: only
// delete if the value still matches, avoiding a race where this holder's
// TTL expired and a different holder already re-acquired the key.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("redisstore: compare-and-delete %q: %w", key, err)
	}
	return res == 1, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: expire %q: %w", key, err)
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisstore: hget %q/%q: %w", key, field, err)
	}
	return v, true, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redisstore: hset %q: %w", key, err)
	}
	return nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: hgetall %q: %w", key, err)
	}
	return m, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("redisstore: hdel %q: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisstore: scan %q: %w", pattern, err)
	}
	return out, nil
}

func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redisstore: publish %q: %w", channel, err)
	}
	return nil
}

type subscription struct {
	pubsub *redis.PubSub
	ch     chan store.Message
	cancel context.CancelFunc
}

func (sub *subscription) Channel() <-chan store.Message { return sub.ch }

func (sub *subscription) Close() error {
	sub.cancel()
	return sub.pubsub.Close()
}

func (s *Store) Subscribe(ctx context.Context, channels ...string) (store.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redisstore: subscribe %v: %w", channels, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{pubsub: pubsub, ch: make(chan store.Message, 64), cancel: cancel}

	go func() {
		defer close(sub.ch)
		src := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case sub.ch <- store.Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

var _ store.Store = (*Store)(nil)
