package report

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

func sampleResults() []api.Result {
	return []api.Result{
		// clean removal
		{Host: "web-1", Path: "/var/log/app.log", ExistedBefore: true, ExistsAfter: false, Action: api.ActionRemoved},
		// already absent
		{Host: "web-1", Path: "/tmp/app.pid", ExistedBefore: false, ExistsAfter: false, Action: api.ActionNone, Error: api.ErrPathNotFound},
		// failed deletion, stale exists-after
		{Host: "web-2", Path: "/var/cache/app", ExistedBefore: true, ExistsAfter: true, Action: api.ActionRemoved, Error: "remove /var/cache/app: device busy"},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResults(), 4)

	assert.Equal(t, 4, s.Total, "total tracks the input table, not the results")
	assert.Equal(t, 1, s.Removed, "only confirmed removals count")
	assert.Equal(t, 2, s.Failed, "every non-empty error counts, absence included")
	assert.Equal(t, 2, s.Absent, "everything no longer present counts")
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 0)
	assert.Equal(t, api.Summary{}, s)
}

func TestFormatSummary(t *testing.T) {
	line := FormatSummary(api.Summary{Total: 4, Removed: 1, Failed: 2, Absent: 2})
	assert.Equal(t, "total=4 removed=1 failed=2 absent=2", line)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleResults()))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4, "header plus one line per result")
	assert.Contains(t, lines[0], "HOST")
	assert.Contains(t, lines[1], "/var/log/app.log")
	assert.Contains(t, lines[2], "Path not found")
	assert.Contains(t, lines[3], "device busy")
}

func TestWriteHTML(t *testing.T) {
	dir := t.TempDir()
	meta := Meta{
		RunID:     "0b7aa2f2",
		Status:    api.RunSucceeded,
		Transport: "ssh",
		Started:   time.Date(2025, 8, 9, 10, 0, 0, 0, time.UTC),
		Finished:  time.Date(2025, 8, 9, 10, 0, 3, 0, time.UTC),
	}
	results := sampleResults()

	path, err := WriteHTML(dir, meta, Summarize(results, 3), results)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "fleetrm-0b7aa2f2.html"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(content)
	assert.Contains(t, html, "fleetrm run 0b7aa2f2")
	assert.Contains(t, html, "removed 1")
	assert.Contains(t, html, "failed 2")
	assert.Contains(t, html, `class="failed"`)
	assert.Contains(t, html, `class="absent"`)
	assert.Contains(t, html, "web-2")
}

func TestWriteHTMLEscapesPaths(t *testing.T) {
	dir := t.TempDir()
	meta := Meta{RunID: "esc", Status: api.RunSucceeded, Transport: "local",
		Started: time.Now(), Finished: time.Now()}
	results := []api.Result{{
		Host:   "web-1",
		Path:   `/tmp/<script>alert(1)</script>`,
		Action: api.ActionRemoved,
	}}

	path, err := WriteHTML(dir, meta, Summarize(results, 1), results)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "<script>alert")
}
