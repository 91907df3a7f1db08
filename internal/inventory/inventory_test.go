package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

func writeInventory(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeInventory(t, "targets.csv", `owner,HOST,Path,note
ops,web-1,/var/log/app.log,stale
ops,web-2,/var/cache/app,
ops,web-1,/tmp/app.pid,dup host
`)

	items, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []api.WorkItem{
		{Host: "web-1", Path: "/var/log/app.log"},
		{Host: "web-2", Path: "/var/cache/app"},
		{Host: "web-1", Path: "/tmp/app.pid"},
	}, items)
}

func TestLoadCSVDropsMalformedRows(t *testing.T) {
	path := writeInventory(t, "targets.csv", `host,path
,/orphan/path
web-1,
web-1,/var/tmp/keep
`)

	items, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, api.WorkItem{Host: "web-1", Path: "/var/tmp/keep"}, items[0])
}

func TestLoadCSVMissingColumns(t *testing.T) {
	path := writeInventory(t, "targets.csv", "machine,file\nweb-1,/tmp/x\n")

	_, err := LoadCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host and path")
}

func TestLoadYAML(t *testing.T) {
	path := writeInventory(t, "targets.yaml", `
targets:
  - host: db-1
    paths:
      - /var/backups/old
      - /var/tmp/dump.sql
  - host: ""
    paths: [/never/loaded]
  - host: db-2
    paths: ["", /srv/exports]
`)

	items, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, []api.WorkItem{
		{Host: "db-1", Path: "/var/backups/old"},
		{Host: "db-1", Path: "/var/tmp/dump.sql"},
		{Host: "db-2", Path: "/srv/exports"},
	}, items)
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	csvPath := writeInventory(t, "t.csv", "host,path\na,/x\n")
	yamlPath := writeInventory(t, "t.yml", "targets:\n  - host: a\n    paths: [/x]\n")

	fromCSV, err := Load(csvPath)
	require.NoError(t, err)
	fromYAML, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, fromCSV, fromYAML)

	_, err = Load(writeInventory(t, "t.txt", "whatever"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported inventory format")
}
