package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/shared/config"
)

func testConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	cfg.Environment = "test"
	cfg.RedisAddr = "" // in-process memstore instead of the default Redis address
	cfg.SchedulerTickInterval = 10 * time.Millisecond
	cfg.LPTWatchdogPeriod = 10 * time.Millisecond
	return cfg
}

func TestNew_WiresEveryCoreComponent(t *testing.T) {
	core, err := New(testConfig(), nil)
	require.NoError(t, err)

	require.NotNil(t, core.Store)
	require.NotNil(t, core.Sessions)
	require.NotNil(t, core.History)
	require.NotNil(t, core.Brains)
	require.NotNil(t, core.Tasks)
	require.NotNil(t, core.Presence)
	require.NotNil(t, core.Hub)
	require.NotNil(t, core.Executor)
	require.NotNil(t, core.Scheduler)
	require.NotNil(t, core.LPTRouter)
	require.NotNil(t, core.Gateway)

	// Registering the same tool twice across two Contexts must not collide:
	// each Context owns its own *tools.Registry instance.
	other, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NotSame(t, core.Tools, other.Tools)
}

func TestStartAndClose_RunsSchedulerAndWatchdogWithoutBlocking(t *testing.T) {
	core, err := New(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, core.Close(ctx))
}
