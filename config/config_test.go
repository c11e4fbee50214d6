package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseRegistry = `assistants:
  help:
    name: Help Desk
    description: Answers questions
    agentId: ${HELP_ASSISTANT_ID}
    subdomain: help
    rateLimit:
      maxRequests: 5
      windowMillis: 60000
  sales:
    name: Sales Advisor
    description: Talks pricing
    agentId: ${SALES_ASSISTANT_ID}
`

// writeRegistry writes a registry file into a temp dir and returns its path.
func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assistants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// setBaseEnv sets the minimum viable environment for Load.
func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_NAME", "Test Relay")
	t.Setenv("DEFAULT_ASSISTANT", "help")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("HELP_ASSISTANT_ID", "asst_help_123456")
	t.Setenv("SALES_ASSISTANT_ID", "asst_sales_123456")
}

func TestLoadResolvesPlaceholders(t *testing.T) {
	setBaseEnv(t)
	reg, err := Load(writeRegistry(t, baseRegistry))
	require.NoError(t, err)

	help, ok := reg.Get("help")
	require.True(t, ok)
	assert.Equal(t, "asst_help_123456", help.AgentID)
	assert.Equal(t, "help", help.Subdomain)
	require.NotNil(t, help.RateLimit)
	assert.Equal(t, 5, help.RateLimit.MaxRequests)

	// No assistant reachable from the registry carries a placeholder.
	for _, a := range reg.All() {
		assert.NotContains(t, a.AgentID, "${")
		assert.NotEmpty(t, a.AgentID)
	}
}

func TestLoadDropsUnresolvedEntriesInDevelopment(t *testing.T) {
	setBaseEnv(t)
	os.Unsetenv("SALES_ASSISTANT_ID")

	reg, err := Load(writeRegistry(t, baseRegistry))
	require.NoError(t, err)

	_, ok := reg.Get("sales")
	assert.False(t, ok, "unresolved assistant must be dropped")
	_, ok = reg.Get("help")
	assert.True(t, ok)
	assert.Len(t, reg.All(), 1)
}

func TestLoadUnresolvedEntriesFatalInProduction(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	os.Unsetenv("SALES_ASSISTANT_ID")

	_, err := Load(writeRegistry(t, baseRegistry))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales (SALES_ASSISTANT_ID)")
}

func TestLoadRequiredEnvironment(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{name: "app_name_required", unset: "APP_NAME"},
		{name: "default_assistant_required", unset: "DEFAULT_ASSISTANT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			os.Unsetenv(tt.unset)
			_, err := Load(writeRegistry(t, baseRegistry))
			assert.Error(t, err)
		})
	}
}

func TestLoadFailsFast(t *testing.T) {
	tests := []struct {
		name     string
		registry string
		env      map[string]string
		wantErr  string
	}{
		{
			name:     "missing_file",
			registry: "",
			wantErr:  "is required",
		},
		{
			name:     "malformed_yaml",
			registry: "assistants: [not: a: mapping",
			wantErr:  "malformed",
		},
		{
			name:     "zero_assistants",
			registry: "assistants: {}\n",
			wantErr:  "at least one assistant",
		},
		{
			name: "default_not_configured",
			registry: `assistants:
  other:
    name: Other
    agentId: asst_direct_123456
`,
			wantErr: "DEFAULT_ASSISTANT",
		},
		{
			name: "duplicate_subdomain",
			registry: `assistants:
  help:
    name: Help
    agentId: asst_one_123456
    subdomain: chat
  sales:
    name: Sales
    agentId: asst_two_123456
    subdomain: chat
`,
			wantErr: "share subdomain",
		},
		{
			name: "negative_rate_limit",
			registry: `assistants:
  help:
    name: Help
    agentId: asst_one_123456
    rateLimit:
      maxRequests: 0
      windowMillis: 1000
`,
			wantErr: "non-positive rate limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.registry != "" {
				path = writeRegistry(t, tt.registry)
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAllAssistantsUnresolvedIsFatal(t *testing.T) {
	setBaseEnv(t)
	os.Unsetenv("HELP_ASSISTANT_ID")
	os.Unsetenv("SALES_ASSISTANT_ID")

	_, err := Load(writeRegistry(t, baseRegistry))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot start")
}

func TestGlobalRateLimitDefaultsAndOverrides(t *testing.T) {
	setBaseEnv(t)
	reg, err := Load(writeRegistry(t, baseRegistry))
	require.NoError(t, err)
	assert.Equal(t, 1000, reg.GlobalRateLimit.MaxRequests)
	assert.Equal(t, 900000, reg.GlobalRateLimit.WindowMillis)

	t.Setenv("GLOBAL_RATE_LIMIT_MAX", "25")
	t.Setenv("GLOBAL_RATE_LIMIT_WINDOW", "10000")
	reg, err = Load(writeRegistry(t, baseRegistry))
	require.NoError(t, err)
	assert.Equal(t, 25, reg.GlobalRateLimit.MaxRequests)
	assert.Equal(t, 10000, reg.GlobalRateLimit.WindowMillis)
}

func TestSubdomainLookup(t *testing.T) {
	setBaseEnv(t)
	reg, err := Load(writeRegistry(t, baseRegistry))
	require.NoError(t, err)

	// Every assistant is reachable through its own subdomain.
	for _, a := range reg.All() {
		found, ok := reg.GetBySubdomain(a.Subdomain)
		require.True(t, ok)
		assert.Equal(t, a.Key, found.Key)
	}

	// sales declared no subdomain, so it defaults to the key.
	sales, ok := reg.GetBySubdomain("sales")
	require.True(t, ok)
	assert.Equal(t, "sales", sales.Key)

	_, ok = reg.GetBySubdomain("nope")
	assert.False(t, ok)
}

func TestAllPreservesDeclarationOrder(t *testing.T) {
	setBaseEnv(t)
	reg, err := Load(writeRegistry(t, baseRegistry))
	require.NoError(t, err)

	keys := make([]string, 0)
	for _, a := range reg.All() {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"help", "sales"}, keys)
}

func TestInjectEnvVars(t *testing.T) {
	t.Setenv("SOME_AGENT", "asst_real")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no_placeholder", input: "asst_plain", want: "asst_plain"},
		{name: "resolved", input: "${SOME_AGENT}", want: "asst_real"},
		{name: "unset_kept_intact", input: "${NOT_SET_AGENT}", want: "${NOT_SET_AGENT}"},
		{name: "empty_string", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, injectEnvVars(tt.input))
		})
	}
}
