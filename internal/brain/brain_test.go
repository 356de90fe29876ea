package brain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/domain/model"
)

type fakeBinder struct{}

func (fakeBinder) ToolsFor(mode model.ChatMode) []string {
	if mode == model.ChatModeFinance {
		return []string{"LPT_BANKER"}
	}
	return []string{"SEARCH_DOCS"}
}

func testThread() model.ThreadKey {
	return model.ThreadKey{UserID: "u1", CompanyID: "c1", ThreadKey: "t1"}
}

func TestCache_GetOrCreate_IsStablePerThread(t *testing.T) {
	cache := NewCache(fakeBinder{}, nil)
	thread := testThread()

	b1 := cache.GetOrCreate(thread, model.ChatModeGeneral, "sys")
	b2 := cache.GetOrCreate(thread, model.ChatModeFinance, "other sys")

	assert.Same(t, b1, b2)
	assert.Equal(t, model.ChatModeGeneral, b1.ChatMode) // first write wins
}

func TestCache_GetOrCreate_BindsToolsByMode(t *testing.T) {
	cache := NewCache(fakeBinder{}, nil)

	financeBrain := cache.GetOrCreate(model.ThreadKey{UserID: "u1", CompanyID: "c1", ThreadKey: "finance"}, model.ChatModeFinance, "")
	assert.Equal(t, []string{"LPT_BANKER"}, financeBrain.Tools)
}

func TestBrain_NeedsResummarization_CrossesSoftBudget(t *testing.T) {
	b := newBrain(testThread(), model.ChatModeGeneral, nil, "")
	longText := strings.Repeat("word ", 1000)
	b.Account(longText)

	assert.False(t, b.NeedsResummarization(1_000_000))
	assert.True(t, b.NeedsResummarization(1))
}

func TestBrain_Resummarize_ResetsCounterToSummaryCost(t *testing.T) {
	b := newBrain(testThread(), model.ChatModeGeneral, nil, "")
	b.Account(strings.Repeat("word ", 1000))
	require.True(t, b.TokenCount() > 10)

	b.Resummarize("short summary")
	assert.Less(t, b.TokenCount(), 10)
}

func TestCache_Evict_RemovesBrain(t *testing.T) {
	cache := NewCache(fakeBinder{}, nil)
	thread := testThread()
	cache.GetOrCreate(thread, model.ChatModeGeneral, "")
	require.Equal(t, 1, cache.Len())

	cache.Evict(thread)
	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get(thread)
	assert.False(t, ok)
}
