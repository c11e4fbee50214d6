package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skwidy/assistant/config"
)

func testGate(t *testing.T, globalMax, globalWindowMillis int, perAssistant *config.RateLimit) *Gate {
	t.Helper()
	t.Setenv("APP_NAME", "Test Relay")
	t.Setenv("DEFAULT_ASSISTANT", "help")
	t.Setenv("HELP_AGENT", "asst_help_123456")

	reg := registryFixture(t, globalMax, globalWindowMillis, perAssistant)
	return New(reg)
}

// registryFixture builds a registry through the real loader so the gate sees
// exactly what production wiring sees.
func registryFixture(t *testing.T, globalMax, globalWindowMillis int, perAssistant *config.RateLimit) *config.Registry {
	t.Helper()

	content := `assistants:
  help:
    name: Help
    agentId: ${HELP_AGENT}
`
	if perAssistant != nil {
		content = `assistants:
  help:
    name: Help
    agentId: ${HELP_AGENT}
    rateLimit:
      maxRequests: ` + strconv.Itoa(perAssistant.MaxRequests) + `
      windowMillis: ` + strconv.Itoa(perAssistant.WindowMillis) + `
`
	}

	t.Setenv("GLOBAL_RATE_LIMIT_MAX", strconv.Itoa(globalMax))
	t.Setenv("GLOBAL_RATE_LIMIT_WINDOW", strconv.Itoa(globalWindowMillis))

	path := filepath.Join(t.TempDir(), "assistants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	reg, err := config.Load(path)
	require.NoError(t, err)
	return reg
}

func TestGlobalWindowExhaustion(t *testing.T) {
	gate := testGate(t, 3, 60000, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := gate.AllowGlobal(ctx)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
	}

	d, err := gate.AllowGlobal(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeGlobal, d.Scope)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestGlobalWindowResets(t *testing.T) {
	gate := testGate(t, 1, 1000, nil)
	ctx := context.Background()

	d, err := gate.AllowGlobal(ctx)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = gate.AllowGlobal(ctx)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	time.Sleep(1100 * time.Millisecond)

	d, err = gate.AllowGlobal(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "capacity must reset after the window elapses")
}

func TestAssistantWindowIndependentOfGlobal(t *testing.T) {
	gate := testGate(t, 100, 60000, &config.RateLimit{MaxRequests: 2, WindowMillis: 60000})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := gate.AllowAssistant(ctx, "help")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := gate.AllowAssistant(ctx, "help")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeAssistant, d.Scope)

	// Global capacity is untouched by the per-assistant denial.
	d, err = gate.AllowGlobal(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAssistantWithoutLimitAlwaysAdmitted(t *testing.T) {
	gate := testGate(t, 100, 60000, nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := gate.AllowAssistant(ctx, "help")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestConcurrentAdmissionIsExact(t *testing.T) {
	const capacity = 10
	const attempts = 40

	gate := testGate(t, capacity, 60000, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := gate.AllowGlobal(ctx)
			if err != nil {
				return
			}
			if d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, admitted, "exactly one winner per unit of capacity")
}
