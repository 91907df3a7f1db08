package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/fleetrm/internal/remote"
	"github.com/3cpo-dev/fleetrm/internal/store"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// fakeTransport answers purges from canned data and fails whole hosts on
// demand.
type fakeTransport struct {
	results map[string][]api.Result
	errs    map[string]error
	hbErrs  map[string]error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Purge(ctx context.Context, host string, paths []string) ([]api.Result, error) {
	if err := f.errs[host]; err != nil {
		return nil, err
	}
	return f.results[host], nil
}

func (f *fakeTransport) Heartbeat(ctx context.Context, host string) error {
	return f.hbErrs[host]
}

func TestRunLocalEndToEnd(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))
	absent := filepath.Join(dir, "absent.txt")

	st, err := store.NewStore(filepath.Join(t.TempDir(), "fleetrm.db"))
	require.NoError(t, err)
	defer st.Close()

	reportDir := t.TempDir()
	runner := &Runner{
		Transport: remote.NewLocal(),
		Store:     st,
		ReportDir: reportDir,
	}

	items := []api.WorkItem{
		{Host: "box-1", Path: present},
		{Host: "box-1", Path: absent},
	}
	outcome, err := runner.Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, api.RunSucceeded, outcome.Status)
	assert.Equal(t, api.Summary{Total: 2, Removed: 1, Failed: 1, Absent: 1}, outcome.Summary)
	require.Len(t, outcome.Results, 2)
	assert.NoFileExists(t, present)
	assert.FileExists(t, outcome.ReportPath)

	// The run landed in history with its results in order.
	saved, results, err := st.GetRun(context.Background(), outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, api.RunSucceeded, saved.Status)
	assert.Equal(t, "local", saved.Transport)
	require.Len(t, results, 2)
	assert.Equal(t, present, results[0].Path)
	assert.Equal(t, absent, results[1].Path)
}

func TestRunKeepsResultsWhenOneHostFails(t *testing.T) {
	now := time.Now().UTC()
	ft := &fakeTransport{
		results: map[string][]api.Result{
			"good": {{Host: "good", Path: "/tmp/a", Timestamp: now, ExistedBefore: true, Action: api.ActionRemoved}},
		},
		errs: map[string]error{"bad": errors.New("connection refused")},
	}
	runner := &Runner{Transport: ft}

	items := []api.WorkItem{
		{Host: "good", Path: "/tmp/a"},
		{Host: "bad", Path: "/tmp/b"},
	}
	outcome, err := runner.Run(context.Background(), items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host bad")

	assert.Equal(t, api.RunPartial, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "good", outcome.Results[0].Host)
	// Total keeps counting the paths the dead host should have handled.
	assert.Equal(t, 2, outcome.Summary.Total)
}

func TestRunAllHostsDown(t *testing.T) {
	ft := &fakeTransport{errs: map[string]error{
		"a": errors.New("refused"),
		"b": errors.New("refused"),
	}}
	runner := &Runner{Transport: ft}

	outcome, err := runner.Run(context.Background(), []api.WorkItem{
		{Host: "a", Path: "/tmp/x"},
		{Host: "b", Path: "/tmp/y"},
	})
	require.Error(t, err)
	assert.Equal(t, api.RunFailed, outcome.Status)
	assert.Empty(t, outcome.Results)
}

func TestDeriveStatus(t *testing.T) {
	now := time.Now().UTC()
	removed := api.Result{Host: "h", Path: "/a", Timestamp: now, Action: api.ActionRemoved}
	absentRes := api.Result{Host: "h", Path: "/b", Timestamp: now, Action: api.ActionNone, Error: api.ErrPathNotFound}
	hardFail := api.Result{Host: "h", Path: "/c", Timestamp: now, Action: api.ActionRemoved, ExistsAfter: true, Error: "permission denied"}

	cases := []struct {
		name    string
		results []api.Result
		hostErr error
		want    api.RunStatus
	}{
		{"all removed", []api.Result{removed}, nil, api.RunSucceeded},
		{"absences alone succeed", []api.Result{removed, absentRes}, nil, api.RunSucceeded},
		{"hard failure is partial", []api.Result{removed, hardFail}, nil, api.RunPartial},
		{"host error with answers is partial", []api.Result{removed}, errors.New("down"), api.RunPartial},
		{"nothing answered is failed", nil, errors.New("down"), api.RunFailed},
		{"empty run succeeds", nil, nil, api.RunSucceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, deriveStatus(tc.results, tc.hostErr))
		})
	}
}

func TestCheckHosts(t *testing.T) {
	ft := &fakeTransport{hbErrs: map[string]error{
		"dead": errors.New("no route to host"),
	}}

	statuses := CheckHosts(context.Background(), ft, []string{"live-1", "dead", "live-2"})
	require.Len(t, statuses, 3)

	assert.Equal(t, "live-1", statuses[0].Host)
	assert.NoError(t, statuses[0].Err)
	assert.Equal(t, "dead", statuses[1].Host)
	assert.Error(t, statuses[1].Err)
	assert.Equal(t, "live-2", statuses[2].Host)
	assert.NoError(t, statuses[2].Err)
}
