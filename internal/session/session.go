// Package session implements the Session State Manager (spec.md §4.2): a
// hybrid local+remote cache over per-user Session state, with 2h sliding
// TTL and idempotent lazy creation. Grounded on the teacher's
// coordinator.EnsureSession/GetSession/asyncSaveSession pattern
// (session_manager.go), generalized from the teacher's single sessionStore
// port to agentcore's store.Store, and its local tier on the lru.Cache
// usage seen in internal/channels/lark/gateway.go.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/store"
)

const defaultLocalCacheSize = 2048

// DefaultTTL is the sliding session TTL named in spec.md §3 ("destroyed by
// TTL (2h) or explicit flush").
const DefaultTTL = 2 * time.Hour

// Manager is the Session State Manager. Exclusively owns Session state;
// other components (Brain Cache) read through it.
type Manager struct {
	store  store.Store
	local  *lru.Cache[string, *model.Session]
	ttl    time.Duration
	logger logging.Logger

	keyMu sync.Mutex
	locks map[string]*sync.Mutex // per-session-key mutex, coalesces concurrent Ensure calls
}

// New builds a Manager. ttl <= 0 uses DefaultTTL.
func New(s store.Store, logger logging.Logger, ttl time.Duration) (*Manager, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := lru.New[string, *model.Session](defaultLocalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("session: building local cache: %w", err)
	}
	return &Manager{
		store:  s,
		local:  cache,
		ttl:    ttl,
		logger: logging.OrNop(logger),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func storeKey(k model.SessionKey) string {
	return "session:" + k.CompanyID + ":" + k.UserID
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	mu, ok := m.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[key] = mu
	}
	return mu
}

// Ensure returns the session for key, creating it with zero-value fields
// if it doesn't exist yet (spec.md §3: "Created lazily on first
// send_message or task trigger"). Concurrent Ensure calls for the same
// key are coalesced through a per-key mutex so they don't race to create
// duplicate rows.
func (m *Manager) Ensure(ctx context.Context, key model.SessionKey) (*model.Session, error) {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	sess, ok, err := m.load(ctx, sk)
	if err != nil {
		return nil, err
	}
	if ok {
		sess.UpdatedAt = time.Now()
		if err := m.save(ctx, sk, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}

	now := time.Now()
	sess = &model.Session{
		Key:        key,
		JobMetrics: map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if err := m.save(ctx, sk, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session for key without creating it.
func (m *Manager) Get(ctx context.Context, key model.SessionKey) (*model.Session, error) {
	sess, ok, err := m.load(ctx, storeKey(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, agentcoreerrors.ErrSessionNotFound
	}
	return sess, nil
}

// UpdateJobData overwrites the session's MandatePath, Country, Timezone,
// Language and DMSSystem with each non-empty argument and refreshes its
// TTL. Used by job-bound RPC methods that update mandate
// or DMS context mid-conversation.
func (m *Manager) UpdateJobData(ctx context.Context, key model.SessionKey, mandatePath, country, timezone, language, dms string) error {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	sess, ok, err := m.load(ctx, sk)
	if err != nil {
		return err
	}
	if !ok {
		return agentcoreerrors.ErrSessionNotFound
	}
	if mandatePath != "" {
		sess.MandatePath = mandatePath
	}
	if country != "" {
		sess.Country = country
	}
	if timezone != "" {
		sess.Timezone = timezone
	}
	if language != "" {
		sess.Language = language
	}
	if dms != "" {
		sess.DMSSystem = dms
	}
	sess.UpdatedAt = time.Now()
	return m.save(ctx, sk, sess)
}

// UpdateJobMetrics merges metrics into the session's job metrics
// snapshot. Billing/usage reporters call this; callers that don't need
// the result should use async.GoErr around this call (teacher pattern:
// persistSessionTitle is fired via async.Go so the RPC caller never
// waits on it).
func (m *Manager) UpdateJobMetrics(ctx context.Context, key model.SessionKey, metrics map[string]any) error {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	sess, ok, err := m.load(ctx, sk)
	if err != nil {
		return err
	}
	if !ok {
		return agentcoreerrors.ErrSessionNotFound
	}
	if sess.JobMetrics == nil {
		sess.JobMetrics = map[string]any{}
	}
	for k, v := range metrics {
		sess.JobMetrics[k] = v
	}
	sess.UpdatedAt = time.Now()
	return m.save(ctx, sk, sess)
}

// BindThread records key's thread as active on the owning session.
func (m *Manager) BindThread(ctx context.Context, key model.SessionKey, thread model.ThreadKey) error {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	sess, ok, err := m.load(ctx, sk)
	if err != nil {
		return err
	}
	if !ok {
		return agentcoreerrors.ErrSessionNotFound
	}
	for _, t := range sess.ActiveThreads {
		if t == thread {
			return nil
		}
	}
	sess.ActiveThreads = append(sess.ActiveThreads, thread)
	sess.UpdatedAt = time.Now()
	return m.save(ctx, sk, sess)
}

// Flush explicitly destroys the session (spec.md §3: "destroyed by TTL
// ... or explicit flush").
func (m *Manager) Flush(ctx context.Context, key model.SessionKey) error {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	m.local.Remove(sk)
	return m.store.Del(ctx, sk)
}

func (m *Manager) load(ctx context.Context, sk string) (*model.Session, bool, error) {
	if sess, ok := m.local.Get(sk); ok {
		return sess, true, nil
	}
	raw, ok, err := m.store.Get(ctx, sk)
	if err != nil {
		return nil, false, agentcoreerrors.Wrapf(err, "session: load %q", sk)
	}
	if !ok {
		return nil, false, nil
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, false, agentcoreerrors.Wrapf(err, "session: decode %q", sk)
	}
	m.local.Add(sk, &sess)
	return &sess, true, nil
}

func (m *Manager) save(ctx context.Context, sk string, sess *model.Session) error {
	sess.Version++
	raw, err := json.Marshal(sess)
	if err != nil {
		return agentcoreerrors.Wrapf(err, "session: encode %q", sk)
	}
	if err := m.store.Set(ctx, sk, string(raw), m.ttl); err != nil {
		return agentcoreerrors.Wrapf(err, "session: save %q", sk)
	}
	m.local.Add(sk, sess)
	return nil
}
