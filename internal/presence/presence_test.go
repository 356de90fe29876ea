package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
)

func TestRegisterAndIsOnline(t *testing.T) {
	kv := memstore.New()
	r := New(kv, time.Minute)

	online, err := r.IsOnline(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, r.RegisterUser(context.Background(), "u1", "c1", "sess-1"))

	online, err = r.IsOnline(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestHeartbeat_RefreshesLiveSession(t *testing.T) {
	kv := memstore.New()
	r := New(kv, time.Minute)
	require.NoError(t, r.RegisterUser(context.Background(), "u1", "c1", "sess-1"))

	ok, err := r.Heartbeat(context.Background(), "u1", "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHeartbeat_MissingSessionReturnsFalse(t *testing.T) {
	kv := memstore.New()
	r := New(kv, time.Minute)

	ok, err := r.Heartbeat(context.Background(), "ghost", "sess-x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnregisterSession_RemovesImmediately(t *testing.T) {
	kv := memstore.New()
	r := New(kv, time.Minute)
	require.NoError(t, r.RegisterUser(context.Background(), "u1", "c1", "sess-1"))
	require.NoError(t, r.RegisterUser(context.Background(), "u1", "c1", "sess-2"))

	require.NoError(t, r.UnregisterSession(context.Background(), "u1", "sess-1"))

	sessions, err := r.Sessions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-2", sessions[0].SessionID)
}

func TestMultipleUsersDoNotInterfere(t *testing.T) {
	kv := memstore.New()
	r := New(kv, time.Minute)
	require.NoError(t, r.RegisterUser(context.Background(), "u1", "c1", "sess-1"))
	require.NoError(t, r.RegisterUser(context.Background(), "u2", "c1", "sess-1"))

	online1, err := r.IsOnline(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, online1)

	require.NoError(t, r.UnregisterSession(context.Background(), "u1", "sess-1"))

	online1, err = r.IsOnline(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, online1)

	online2, err := r.IsOnline(context.Background(), "u2")
	require.NoError(t, err)
	assert.True(t, online2)
}
