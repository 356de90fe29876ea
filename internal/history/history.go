// Package history implements the Chat History Manager (spec.md §4.3):
// append-only per-thread message storage with a 24h sliding TTL and
// monotonic message ids. Grounded on the teacher's historyMgr.Replay /
// AppendTurn calls in session_manager.go, generalized from the teacher's
// session-scoped history to this spec's (user, company, thread_key)
// addressing.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/store"
)

// DefaultTTL is the sliding history TTL (spec.md §3 "Thread": "Destroyed
// by 24h TTL or thread deletion").
const DefaultTTL = 24 * time.Hour

type record struct {
	Messages []model.Message `json:"messages"`
	NextID   model.MessageID `json:"next_id"`
}

// Manager is the Chat History Manager.
type Manager struct {
	store store.Store
	ttl   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Manager. ttl <= 0 uses DefaultTTL.
func New(s store.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: s, ttl: ttl, locks: make(map[string]*sync.Mutex)}
}

func storeKey(k model.ThreadKey) string {
	return "history:" + k.String()
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[key] = mu
	}
	return mu
}

func (m *Manager) load(ctx context.Context, sk string) (record, error) {
	raw, ok, err := m.store.Get(ctx, sk)
	if err != nil {
		return record{}, agentcoreerrors.Wrapf(err, "history: load %q", sk)
	}
	if !ok {
		return record{NextID: 1}, nil
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return record{}, agentcoreerrors.Wrapf(err, "history: decode %q", sk)
	}
	return rec, nil
}

func (m *Manager) persist(ctx context.Context, sk string, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return agentcoreerrors.Wrapf(err, "history: encode %q", sk)
	}
	if err := m.store.Set(ctx, sk, string(raw), m.ttl); err != nil {
		return agentcoreerrors.Wrapf(err, "history: persist %q", sk)
	}
	return nil
}

// Load returns the full ordered message history for a thread.
func (m *Manager) Load(ctx context.Context, key model.ThreadKey) ([]model.Message, error) {
	rec, err := m.load(ctx, storeKey(key))
	if err != nil {
		return nil, err
	}
	return rec.Messages, nil
}

// Append adds msg to the thread's history, assigning it the next
// monotonic id and refreshing the TTL. Messages are append-only (spec.md
// §3 "Thread": "messages are append-only and monotone in timestamp").
func (m *Manager) Append(ctx context.Context, key model.ThreadKey, msg model.Message) (model.MessageID, error) {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	rec, err := m.load(ctx, sk)
	if err != nil {
		return 0, err
	}
	if msg.ID == 0 {
		msg.ID = rec.NextID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	rec.Messages = append(rec.Messages, msg)
	if msg.ID >= rec.NextID {
		rec.NextID = msg.ID + 1
	}
	if err := m.persist(ctx, sk, rec); err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// AppendStreamChunk extends the content of the in-flight (non-final)
// assistant message identified by id; it returns ErrValidation if no
// message with that id exists. This is the one mutation the append-only invariant allows
// (spec.md §3 "Message": "a message id once written may be updated only
// to extend its content field during an active stream").
func (m *Manager) AppendStreamChunk(ctx context.Context, key model.ThreadKey, id model.MessageID, chunk string) error {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	rec, err := m.load(ctx, sk)
	if err != nil {
		return err
	}
	for i := range rec.Messages {
		if rec.Messages[i].ID == id {
			if rec.Messages[i].Final {
				return agentcoreerrors.Wrapf(agentcoreerrors.ErrValidation, "history: message %d already finalized", id)
			}
			rec.Messages[i].Content += chunk
			return m.persist(ctx, sk, rec)
		}
	}
	return agentcoreerrors.ErrValidation
}

// FinalizeStream marks message id immutable, ending its active stream.
func (m *Manager) FinalizeStream(ctx context.Context, key model.ThreadKey, id model.MessageID) error {
	sk := storeKey(key)
	mu := m.lockFor(sk)
	mu.Lock()
	defer mu.Unlock()

	rec, err := m.load(ctx, sk)
	if err != nil {
		return err
	}
	for i := range rec.Messages {
		if rec.Messages[i].ID == id {
			rec.Messages[i].Final = true
			return m.persist(ctx, sk, rec)
		}
	}
	return agentcoreerrors.ErrValidation
}

// Clear discards a thread's history entirely.
func (m *Manager) Clear(ctx context.Context, key model.ThreadKey) error {
	return m.store.Del(ctx, storeKey(key))
}
