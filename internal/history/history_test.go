package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
)

func testKey() model.ThreadKey {
	return model.ThreadKey{UserID: "u1", CompanyID: "c1", ThreadKey: "t1"}
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	m := New(memstore.New(), 0)
	ctx := context.Background()
	key := testKey()

	id1, err := m.Append(ctx, key, model.Message{Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)
	id2, err := m.Append(ctx, key, model.Message{Role: model.RoleAssistant, Content: "hello"})
	require.NoError(t, err)

	assert.Less(t, id1, id2)
}

func TestLoad_ReturnsMessagesInOrder(t *testing.T) {
	m := New(memstore.New(), 0)
	ctx := context.Background()
	key := testKey()

	_, _ = m.Append(ctx, key, model.Message{Role: model.RoleUser, Content: "one"})
	_, _ = m.Append(ctx, key, model.Message{Role: model.RoleAssistant, Content: "two"})

	msgs, err := m.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}

func TestAppendStreamChunk_ExtendsContentUntilFinalized(t *testing.T) {
	m := New(memstore.New(), 0)
	ctx := context.Background()
	key := testKey()

	id, err := m.Append(ctx, key, model.Message{Role: model.RoleAssistant, Content: ""})
	require.NoError(t, err)

	require.NoError(t, m.AppendStreamChunk(ctx, key, id, "Hel"))
	require.NoError(t, m.AppendStreamChunk(ctx, key, id, "lo"))

	msgs, err := m.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Hello", msgs[0].Content)

	require.NoError(t, m.FinalizeStream(ctx, key, id))
	err = m.AppendStreamChunk(ctx, key, id, "!")
	assert.Error(t, err)
}

func TestClear_RemovesAllHistory(t *testing.T) {
	m := New(memstore.New(), 0)
	ctx := context.Background()
	key := testKey()

	_, _ = m.Append(ctx, key, model.Message{Role: model.RoleUser, Content: "hi"})
	require.NoError(t, m.Clear(ctx, key))

	msgs, err := m.Load(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
