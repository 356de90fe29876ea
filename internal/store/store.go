// Package store defines the State Store Adapter (spec.md §4.1): a thin,
// backend-agnostic KV/lock/pub-sub port used by every other component.
// Grounded on the teacher's session_manager.go, which talks to its cache
// through a narrow interface rather than a concrete client; the adapter
// shape itself (TTL KV + SETNX lock + hash fields + pub/sub + scan) is
// borrowed from goadesign-goa-ai's store port, since the teacher has no
// generic KV abstraction of its own.
package store

import (
	"context"
	"time"
)

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub subscription. Callers must Close it when
// done to release the underlying connection.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Store is the State Store Adapter port. All methods are safe for
// concurrent use. Implementations: infra/store/redisstore (production,
// backed by redis/go-redis/v9) and infra/store/memstore (in-process,
// used in tests and single-node deployments).
type Store interface {
	// Get returns the value stored at key, and false if it doesn't exist.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value at key only if key doesn't already exist,
	// reporting whether the set happened. AcquireLock uses it for
	// distributed locks such as lock:cron:tick.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
	// Expire resets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// CompareAndDelete removes key only if its current value equals
	// expected, reporting whether the delete happened. This is how lock
	// release avoids freeing a lock some other holder re-acquired after
	// this holder's TTL expired (spec.md §3: "release compares-and-deletes
	// to avoid freeing another holder's lock").
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// HGet/HSet/HGetAll/HDel operate on a hash stored at key. Sessions,
	// histories, tasks and executions are stored as JSON values via Set,
	// not as hashes.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Publish broadcasts payload to channel's subscribers.
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe opens a subscription to one or more channels.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Scan returns keys matching pattern (glob-style, e.g. "session:*").
	// Used sparingly (watchdog sweeps, due-task scans); production stores
	// should back this with an index rather than a full keyspace scan
	// where possible.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Lock is a held distributed lock obtained via AcquireLock. Release is
// idempotent and safe to call more than once or after expiry.
type Lock interface {
	Release(ctx context.Context) error
}

// AcquireLock attempts to take the named lock for ttl using the store's
// SetNX primitive, returning ok=false if another holder already has it.
// token must be unique per holder (e.g. an instance id) so Release's
// compare-and-delete never removes a lock some other holder acquired
// after this one's TTL expired.
func AcquireLock(ctx context.Context, s Store, key, token string, ttl time.Duration) (Lock, bool, error) {
	ok, err := s.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &storeLock{store: s, key: key, token: token}, true, nil
}

type storeLock struct {
	store Store
	key   string
	token string
}

func (l *storeLock) Release(ctx context.Context) error {
	_, err := l.store.CompareAndDelete(ctx, l.key, l.token)
	return err
}
