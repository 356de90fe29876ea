// Package presence implements user/session presence tracking (spec.md
// §6 "REGISTRY.register_user, REGISTRY.unregister_session, heartbeat").
// Per the Open Question decision recorded in DESIGN.md, this is modeled
// as a single registry rather than the source's transitional
// REGISTRY/UNIFIED_REGISTRY split. Grounded on the State Store Adapter's
// TTL-keyed entries, the same "weak reference" idiom spec.md §9 calls
// for: the store holds heartbeat entries, the registry only ever
// answers a boolean "is this user connected" question.
package presence

import (
	"context"
	"encoding/json"
	"time"

	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/store"
)

// DefaultHeartbeatTTL is how long a session stays "online" without a
// fresh heartbeat before it's considered gone.
const DefaultHeartbeatTTL = 90 * time.Second

// Session is one connected (user, session) pair.
type Session struct {
	UserID      string    `json:"user_id"`
	CompanyID   string    `json:"company_id"`
	SessionID   string    `json:"session_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry tracks live sessions over the State Store Adapter.
type Registry struct {
	store store.Store
	ttl   time.Duration
}

// New builds a Registry. A zero ttl uses DefaultHeartbeatTTL.
func New(s store.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	return &Registry{store: s, ttl: ttl}
}

func sessionKey(userID, sessionID string) string {
	return "presence:" + userID + ":" + sessionID
}

// RegisterUser records a new connected session, starting its heartbeat
// TTL clock.
func (r *Registry) RegisterUser(ctx context.Context, userID, companyID, sessionID string) error {
	sess := Session{UserID: userID, CompanyID: companyID, SessionID: sessionID, ConnectedAt: time.Now()}
	raw, err := json.Marshal(sess)
	if err != nil {
		return agentcoreerrors.Wrapf(err, "presence: encode session %s/%s", userID, sessionID)
	}
	if err := r.store.Set(ctx, sessionKey(userID, sessionID), string(raw), r.ttl); err != nil {
		return agentcoreerrors.Wrapf(err, "presence: register %s/%s", userID, sessionID)
	}
	return nil
}

// Heartbeat refreshes a session's TTL. Returns false if the session had
// already expired and must RegisterUser again.
func (r *Registry) Heartbeat(ctx context.Context, userID, sessionID string) (bool, error) {
	key := sessionKey(userID, sessionID)
	_, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return false, agentcoreerrors.Wrapf(err, "presence: heartbeat lookup %s/%s", userID, sessionID)
	}
	if !ok {
		return false, nil
	}
	if err := r.store.Expire(ctx, key, r.ttl); err != nil {
		return false, agentcoreerrors.Wrapf(err, "presence: heartbeat refresh %s/%s", userID, sessionID)
	}
	return true, nil
}

// UnregisterSession removes a session immediately, without waiting for
// its TTL to lapse (explicit disconnect/logout).
func (r *Registry) UnregisterSession(ctx context.Context, userID, sessionID string) error {
	return r.store.Del(ctx, sessionKey(userID, sessionID))
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	keys, err := r.store.Scan(ctx, "presence:"+userID+":*")
	if err != nil {
		return false, agentcoreerrors.Wrapf(err, "presence: scan sessions for %s", userID)
	}
	return len(keys) > 0, nil
}

// Sessions lists userID's currently live sessions.
func (r *Registry) Sessions(ctx context.Context, userID string) ([]Session, error) {
	keys, err := r.store.Scan(ctx, "presence:"+userID+":*")
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "presence: scan sessions for %s", userID)
	}
	sessions := make([]Session, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := r.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
