package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewLocal())

	inv, err := reg.Get("local")
	require.NoError(t, err)
	assert.Equal(t, "local", inv.Name())

	_, err = reg.Get("carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport not registered")
}

func TestLocalPurge(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))
	absent := filepath.Join(dir, "absent.txt")

	results, err := NewLocal().Purge(context.Background(), "box-1", []string{present, absent})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "box-1", results[0].Host)
	assert.Equal(t, api.ActionRemoved, results[0].Action)
	assert.NoFileExists(t, present)

	assert.Equal(t, api.ActionNone, results[1].Action)
	assert.Equal(t, api.ErrPathNotFound, results[1].Error)
}

func TestBuildPurgeCommand(t *testing.T) {
	cmd := buildPurgeCommand("/usr/local/bin/fleetrm-agent", "web-1", []string{"/tmp/a", "/var/log/old dir"})
	assert.Equal(t,
		`'/usr/local/bin/fleetrm-agent' 'purge' '--host' 'web-1' '--' '/tmp/a' '/var/log/old dir'`,
		cmd)
}

func TestBuildPurgeCommandQuotesHostileInput(t *testing.T) {
	cmd := buildPurgeCommand("fleetrm-agent", "web-1", []string{"/tmp/it's", "$HOME/*;rm -rf /"})
	assert.Contains(t, cmd, `'/tmp/it'\''s'`)
	assert.Contains(t, cmd, `'$HOME/*;rm -rf /'`)
}

// agentServer stands in for a resident fleetrm-agent. It returns the
// httptest server plus an AgentHTTP pointed at it.
func agentServer(t *testing.T, handler http.Handler) (*httptest.Server, *AgentHTTP, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return srv, &AgentHTTP{Port: port, Token: "seekrit"}, host
}

func TestAgentHTTPPurge(t *testing.T) {
	var gotReq api.PurgeRequest
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v0/purge", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, api.PurgeResponse{Results: []api.Result{
			{Host: "internal-name", Path: "/tmp/a", Timestamp: time.Now().UTC(), ExistedBefore: true, Action: api.ActionRemoved},
		}})
	})
	_, inv, host := agentServer(t, handler)

	results, err := inv.Purge(context.Background(), host, []string{"/tmp/a"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer seekrit", gotAuth)
	assert.Equal(t, host, gotReq.Host)
	assert.Equal(t, []string{"/tmp/a"}, gotReq.Paths)

	// Results are re-stamped with the inventory host, not the agent's
	// self-reported hostname.
	require.Len(t, results, 1)
	assert.Equal(t, host, results[0].Host)
	assert.Equal(t, api.ActionRemoved, results[0].Action)
}

func TestAgentHTTPErrorStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent wedged", http.StatusServiceUnavailable)
	})
	_, inv, host := agentServer(t, handler)

	_, err := inv.Purge(context.Background(), host, []string{"/tmp/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent error 503")
	assert.Contains(t, err.Error(), "agent wedged")
}

func TestAgentHTTPHeartbeat(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v0/heartbeat", r.URL.Path)
		writeJSON(t, w, api.HeartbeatResponse{Time: time.Now().UTC(), Host: "agent-1", Version: "test"})
	})
	_, inv, host := agentServer(t, handler)

	assert.NoError(t, inv.Heartbeat(context.Background(), host))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestAgentHTTPUnreachable(t *testing.T) {
	inv := &AgentHTTP{Port: 1, Client: &http.Client{Timeout: 200 * time.Millisecond}}
	_, err := inv.Purge(context.Background(), "127.0.0.1", []string{"/tmp/a"})
	require.Error(t, err)
}

type flakyInvoker struct {
	Local
	failures int
	calls    int
}

func (f *flakyInvoker) Heartbeat(ctx context.Context, host string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitReadyConverges(t *testing.T) {
	inv := &flakyInvoker{failures: 1}
	err := WaitReady(context.Background(), inv, "web-1", 10*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, inv.calls, 2)
}

func TestWaitReadyTimesOut(t *testing.T) {
	inv := &flakyInvoker{failures: 1 << 30}
	err := WaitReady(context.Background(), inv, "web-1", 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host web-1 not ready")
}
