package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// AgentHTTP talks to a resident fleetrm-agent over its HTTP surface. One POST
// per host per run; an HTTP error never turns into a resend.
type AgentHTTP struct {
	Port   int
	Token  string
	Scheme string
	Client *http.Client
}

func (a *AgentHTTP) Name() string { return "agent" }

func (a *AgentHTTP) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (a *AgentHTTP) baseURL(host string) string {
	scheme := a.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := a.Port
	if port <= 0 {
		port = 8088
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

func (a *AgentHTTP) do(ctx context.Context, method, url string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent error %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (a *AgentHTTP) Purge(ctx context.Context, host string, paths []string) ([]api.Result, error) {
	var resp api.PurgeResponse
	req := api.PurgeRequest{Host: host, Paths: paths}
	if err := a.do(ctx, http.MethodPost, a.baseURL(host)+"/v0/purge", req, &resp); err != nil {
		return nil, err
	}
	results := resp.Results
	for i := range results {
		results[i].Host = host
	}
	return results, nil
}

func (a *AgentHTTP) Heartbeat(ctx context.Context, host string) error {
	var hb api.HeartbeatResponse
	return a.do(ctx, http.MethodGet, a.baseURL(host)+"/v0/heartbeat", nil, &hb)
}
