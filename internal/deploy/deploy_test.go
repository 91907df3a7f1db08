package deploy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	sum, err := fileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
}

func TestFileChecksumMissingFile(t *testing.T) {
	_, err := fileChecksum(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestSystemdUnitDefaults(t *testing.T) {
	unit := SystemdUnit(UnitOptions{})

	assert.Contains(t, unit, "Description=fleetrm agent")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/fleetrm-agent serve --addr :8088")
	assert.Contains(t, unit, "User=root")
	assert.Contains(t, unit, "Restart=always")
	assert.Contains(t, unit, "WantedBy=multi-user.target")
	assert.NotContains(t, unit, "Environment=")
}

func TestSystemdUnitOptions(t *testing.T) {
	unit := SystemdUnit(UnitOptions{
		BinPath: "/opt/fleetrm/agent",
		User:    "fleetrm",
		Port:    9090,
		Token:   "seekrit",
	})

	assert.Contains(t, unit, "ExecStart=/opt/fleetrm/agent serve --addr :9090")
	assert.Contains(t, unit, "User=fleetrm")
	assert.Contains(t, unit, "Environment=FLEETRM_AGENT_TOKEN=seekrit")

	// Environment must land in [Service], before [Install].
	service := unit[strings.Index(unit, "[Service]"):strings.Index(unit, "[Install]")]
	assert.Contains(t, service, "Environment=FLEETRM_AGENT_TOKEN=seekrit")
}

func TestDeployerClientDefaults(t *testing.T) {
	d := &Deployer{User: "root"}
	c := d.client("web-1")
	assert.Equal(t, "web-1:22", c.Addr)
	assert.Equal(t, 2, c.Retries)

	d.Port = 2222
	assert.Equal(t, "web-1:2222", d.client("web-1").Addr)
}
