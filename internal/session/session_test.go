package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(memstore.New(), nil, time.Hour)
	require.NoError(t, err)
	return m
}

func TestEnsure_CreatesOnFirstCall(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := model.SessionKey{UserID: "u1", CompanyID: "c1"}

	sess, err := m.Ensure(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, sess.Key)
	assert.NotZero(t, sess.CreatedAt)
}

func TestEnsure_ReturnsExistingSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := model.SessionKey{UserID: "u1", CompanyID: "c1"}

	first, err := m.Ensure(ctx, key)
	require.NoError(t, err)
	first.Country = "FR"
	require.NoError(t, m.UpdateJobData(ctx, key, "", "FR", "", "", ""))

	second, err := m.Ensure(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "FR", second.Country)
}

func TestGet_UnknownSessionReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get(context.Background(), model.SessionKey{UserID: "ghost", CompanyID: "c1"})
	assert.ErrorIs(t, err, agentcoreerrors.ErrSessionNotFound)
}

func TestUpdateJobMetrics_MergesRatherThanReplaces(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := model.SessionKey{UserID: "u1", CompanyID: "c1"}
	_, err := m.Ensure(ctx, key)
	require.NoError(t, err)

	require.NoError(t, m.UpdateJobMetrics(ctx, key, map[string]any{"tokens": 10}))
	require.NoError(t, m.UpdateJobMetrics(ctx, key, map[string]any{"calls": 1}))

	sess, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10, sess.JobMetrics["tokens"])
	assert.Equal(t, 1, sess.JobMetrics["calls"])
}

func TestFlush_RemovesSessionEntirely(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := model.SessionKey{UserID: "u1", CompanyID: "c1"}
	_, err := m.Ensure(ctx, key)
	require.NoError(t, err)

	require.NoError(t, m.Flush(ctx, key))

	_, err = m.Get(ctx, key)
	assert.ErrorIs(t, err, agentcoreerrors.ErrSessionNotFound)
}

func TestEnsure_ConcurrentCallsDoNotDuplicateCreate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := model.SessionKey{UserID: "u1", CompanyID: "c1"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Ensure(ctx, key)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, sess.Key)
}

func TestBindThread_IsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := model.SessionKey{UserID: "u1", CompanyID: "c1"}
	_, err := m.Ensure(ctx, key)
	require.NoError(t, err)

	thread := model.ThreadKey{UserID: "u1", CompanyID: "c1", ThreadKey: "t1"}
	require.NoError(t, m.BindThread(ctx, key, thread))
	require.NoError(t, m.BindThread(ctx, key, thread))

	sess, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.Len(t, sess.ActiveThreads, 1)
}
