package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-secret")
	t.Setenv("TEST_MCP_TOKEN", "tok-123")

	path := writeConfig(t, `
provider:
  name: openai
  model: gpt-4o-mini
  api_key: ${TEST_API_KEY}
  temperature: 0.2
agent:
  system_prompt: "Be terse."
  max_steps: 8
workspace: /tmp/work
retry:
  enabled: true
  max_retries: 4
  initial_delay: 0.5
endpoints:
  files:
    command: mcp-files
    args: ["--root", "/tmp"]
    execute_timeout: 30
  search:
    type: sse
    url: https://mcp.example.com/events
    headers:
      Authorization: Bearer ${TEST_MCP_TOKEN}
    connect_timeout: 5
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, "sk-secret", cfg.Provider.APIKey)
	require.NotNil(t, cfg.Provider.Temperature)
	assert.InDelta(t, 0.2, *cfg.Provider.Temperature, 1e-9)
	assert.Equal(t, 8, cfg.Agent.MaxSteps)
	assert.Equal(t, "/tmp/work", cfg.Workspace)

	rc := cfg.Retry.ToRetry()
	assert.True(t, rc.Enabled)
	assert.Equal(t, 4, rc.MaxRetries)
	assert.InDelta(t, 0.5, rc.InitialDelay, 1e-9)
	// Unset fields keep their defaults.
	assert.InDelta(t, 60.0, rc.MaxDelay, 1e-9)

	eps := cfg.EndpointConfigs()
	require.Len(t, eps, 2)
	files := eps["files"]
	assert.Equal(t, "pipe", files.Kind())
	assert.Equal(t, []string{"--root", "/tmp"}, files.Args)
	assert.Equal(t, 30*time.Second, files.ExecuteTimeout)
	search := eps["search"]
	assert.Equal(t, "sse", search.Kind())
	assert.Equal(t, "Bearer tok-123", search.Headers["Authorization"])
	assert.Equal(t, 5*time.Second, search.ConnectTimeout)
}

func TestLoadMissingDefaultPathFallsBack(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, 20, cfg.Agent.MaxSteps)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "provider:\n  name: openai\n  modle: typo\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateEndpoints(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"neither command nor url", "provider:\n  name: openai\nendpoints:\n  bad: {}\n"},
		{"both command and url", "provider:\n  name: openai\nendpoints:\n  bad:\n    command: x\n    url: http://y\n"},
		{"unknown type", "provider:\n  name: openai\nendpoints:\n  bad:\n    type: carrier-pigeon\n    command: x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestValidateLogLevel(t *testing.T) {
	_, err := Load(writeConfig(t, "provider:\n  name: openai\nlog:\n  level: loud\n"))
	assert.Error(t, err)
}

func TestExpandUnsetVariableBecomesEmpty(t *testing.T) {
	path := writeConfig(t, "provider:\n  name: openai\n  api_key: ${DEFINITELY_NOT_SET_12345}\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Provider.APIKey)
}
