package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	xssh "golang.org/x/crypto/ssh"

	sshc "github.com/3cpo-dev/fleetrm/internal/ssh"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// SSH invokes the agent binary over SSH in one-shot mode and decodes the
// JSON result array from stdout. The purge command is sent exactly once per
// host; there is no retry around deletions.
type SSH struct {
	User       string
	Port       int
	AgentPath  string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
}

func (s *SSH) Name() string { return "ssh" }

func (s *SSH) client(host string) *sshc.Client {
	port := s.Port
	if port <= 0 {
		port = 22
	}
	return &sshc.Client{
		Addr:       net.JoinHostPort(host, strconv.Itoa(port)),
		User:       s.User,
		Signer:     s.Signer,
		KnownHosts: s.KnownHosts,
		Timeout:    s.Timeout,
		Retries:    0,
	}
}

func (s *SSH) Purge(ctx context.Context, host string, paths []string) ([]api.Result, error) {
	agent := s.AgentPath
	if agent == "" {
		agent = "fleetrm-agent"
	}
	cmd := buildPurgeCommand(agent, host, paths)
	stdout, stderr, err := s.client(host).RunCommand(ctx, cmd)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return nil, fmt.Errorf("agent invocation: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("agent invocation: %w", err)
	}
	var results []api.Result
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		return nil, fmt.Errorf("decode agent output: %w", err)
	}
	// Report under the inventory's host identifier, whatever the agent
	// thinks its hostname is.
	for i := range results {
		results[i].Host = host
	}
	return results, nil
}

func (s *SSH) Heartbeat(ctx context.Context, host string) error {
	_, _, err := s.client(host).RunCommand(ctx, "echo ready")
	return err
}

func buildPurgeCommand(agentPath, host string, paths []string) string {
	args := []string{agentPath, "purge", "--host", host, "--"}
	args = append(args, paths...)
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = sshc.Quote(a)
	}
	return strings.Join(quoted, " ")
}
