// Package deploy ships the fleetrm-agent binary to hosts over SFTP and
// installs it as a systemd service.
package deploy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	xssh "golang.org/x/crypto/ssh"

	sshc "github.com/3cpo-dev/fleetrm/internal/ssh"
)

// Deployer pushes files to hosts with checksum verification. Deploys retry
// on transient SSH failures; they are idempotent, unlike purges.
type Deployer struct {
	User       string
	Port       int
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
}

func (d *Deployer) client(host string) *sshc.Client {
	port := d.Port
	if port <= 0 {
		port = 22
	}
	return &sshc.Client{
		Addr:       net.JoinHostPort(host, strconv.Itoa(port)),
		User:       d.User,
		Signer:     d.Signer,
		KnownHosts: d.KnownHosts,
		Timeout:    d.Timeout,
		Retries:    2,
		Backoff:    500 * time.Millisecond,
	}
}

// PushBinary uploads localPath to remotePath (mode 0755) and verifies the
// remote checksum. A mismatched upload is removed before returning the error.
func (d *Deployer) PushBinary(ctx context.Context, host, localPath, remotePath string) error {
	sum, err := fileChecksum(localPath)
	if err != nil {
		return fmt.Errorf("calculate local checksum: %w", err)
	}

	c := d.client(host)
	cli, err := sshc.Dial(ctx, c)
	if err != nil {
		return fmt.Errorf("connect %s: %w", host, err)
	}
	defer cli.Close()

	if err := sshc.PushFile(ctx, cli, localPath, remotePath, 0755); err != nil {
		return fmt.Errorf("push %s: %w", remotePath, err)
	}

	if err := d.verifyChecksum(ctx, c, remotePath, sum); err != nil {
		_, _, _ = c.RunCommand(ctx, "rm -f "+sshc.Quote(remotePath))
		return fmt.Errorf("checksum verification failed: %w", err)
	}
	return nil
}

func (d *Deployer) verifyChecksum(ctx context.Context, c *sshc.Client, remotePath, want string) error {
	cmd := fmt.Sprintf("sha256sum %s | cut -d' ' -f1", sshc.Quote(remotePath))
	stdout, stderr, err := c.RunCommand(ctx, cmd)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return fmt.Errorf("calculate remote checksum: %w: %s", err, msg)
		}
		return fmt.Errorf("calculate remote checksum: %w", err)
	}
	got := strings.TrimSpace(stdout)
	if got != want {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", want, got)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
