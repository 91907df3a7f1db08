package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ssh", cfg.Transport)
	assert.Equal(t, "root", cfg.SSH.User)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, 8088, cfg.Agent.Port)
	assert.Equal(t, "http", cfg.Agent.Scheme)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.NotEmpty(t, cfg.Report.Dir)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
transport: agent
ssh:
  user: ops
  port: 2222
agent:
  port: 9000
  scheme: https
notify:
  enabled: true
  smtp_host: mail.internal
  from: fleetrm@internal.example
  to: [oncall@internal.example]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agent", cfg.Transport)
	assert.Equal(t, "ops", cfg.SSH.User)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, 9000, cfg.Agent.Port)
	assert.Equal(t, "https", cfg.Agent.Scheme)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, 587, cfg.Notify.SMTPPort, "default port fills in")
}

func TestLoadRejectsBadTransport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "transport: carrier-pigeon\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadRejectsNotifyWithoutHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "notify:\n  enabled: true\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSecretsMergeEnvWins(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("FLEETRM_AGENT_TOKEN", "")
	t.Setenv("SMTP_PASSWORD", "")
	writeFile(t, filepath.Join(xdg, "fleetrm", "secrets.env"), `
# tokens live here, not in the YAML
FLEETRM_AGENT_TOKEN=from-file
SMTP_PASSWORD=hunter2
`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Agent.Token)
	assert.Equal(t, "hunter2", cfg.Notify.Password)

	t.Setenv("FLEETRM_AGENT_TOKEN", "from-env")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Agent.Token)
}

func TestLoadSecretsEnvParsing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.env")
	writeFile(t, path, "# comment\n\nKEY = spaced value \nBROKEN LINE\nA=b=c\n")

	secrets, err := LoadSecretsEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "spaced value", secrets["KEY"])
	assert.Equal(t, "b=c", secrets["A"])
	_, ok := secrets["BROKEN LINE"]
	assert.False(t, ok)
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, WriteDefault(path))
	cfg, err := Load(path)
	require.NoError(t, err, "starter config must load cleanly")
	assert.Equal(t, "ssh", cfg.Transport)

	err = WriteDefault(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
