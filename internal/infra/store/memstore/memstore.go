// Package memstore is an in-process implementation of store.Store backed
// by a mutex-guarded map. Used in unit tests and single-node deployments
// that don't need cross-process coordination. Grounded on the teacher's
// in-memory session cache path in session_manager.go (the local LRU tier),
// generalized here into a full Store so the rest of agentcore can run
// without Redis in tests.
package memstore

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kabsikabs/agentcore/internal/store"
)

type entry struct {
	value   string
	hash    map[string]string
	expires time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Store is an in-memory store.Store implementation.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry

	subMu sync.Mutex
	subs  map[string][]*subscription
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		data: make(map[string]*entry),
		subs: make(map[string][]*subscription),
	}
}

func (s *Store) get(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(key); ok {
		return false, nil
	}
	e := &entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	s.data[key] = e
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *Store) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.value != expected {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok {
		return nil
	}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	} else {
		e.expires = time.Time{}
	}
	return nil
}

func (s *Store) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.hash == nil {
		return "", false, nil
	}
	v, ok := e.hash[field]
	return v, ok, nil
}

func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok {
		e = &entry{}
		s.data[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.hash == nil {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.hash == nil {
		return nil
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	return nil
}

func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	// filepath.Match never lets '*' or '?' match '/', while Redis glob
	// does; mapping '/' to a NUL byte on both sides gives Redis semantics
	// for keys such as workflow_state:{mandate/path}:{thread}.
	p := strings.ReplaceAll(pattern, "/", "\x00")
	var out []string
	for k, e := range s.data {
		if e.expired(now) {
			continue
		}
		if matched, _ := filepath.Match(p, strings.ReplaceAll(k, "/", "\x00")); matched {
			out = append(out, k)
		}
	}
	return out, nil
}

type subscription struct {
	ch     chan store.Message
	closed bool
	store  *Store
	names  []string
}

func (sub *subscription) Channel() <-chan store.Message { return sub.ch }

func (sub *subscription) Close() error {
	sub.store.subMu.Lock()
	defer sub.store.subMu.Unlock()
	if sub.closed {
		return nil
	}
	sub.closed = true
	for _, name := range sub.names {
		subs := sub.store.subs[name]
		for i, s := range subs {
			if s == sub {
				sub.store.subs[name] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	close(sub.ch)
	return nil
}

func (s *Store) Subscribe(_ context.Context, channels ...string) (store.Subscription, error) {
	sub := &subscription{ch: make(chan store.Message, 64), store: s, names: channels}
	s.subMu.Lock()
	for _, name := range channels {
		s.subs[name] = append(s.subs[name], sub)
	}
	s.subMu.Unlock()
	return sub, nil
}

func (s *Store) Publish(_ context.Context, channel, payload string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs[channel] {
		select {
		case sub.ch <- store.Message{Channel: channel, Payload: payload}:
		default:
			// slow subscriber, drop rather than block the publisher
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
