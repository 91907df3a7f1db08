// Package ssh wraps golang.org/x/crypto/ssh with the small client surface
// fleetrm needs: dial with a strict known_hosts callback, run one command,
// push a file.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type NetDialer struct{ Timeout time.Duration }

func (d NetDialer) Dial(network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	return nd.Dial(network, addr)
}

type Client struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Dialer     Dialer
}

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	if c.Signer == nil {
		return nil, errors.New("ssh: signer required")
	}
	if c.KnownHosts == nil {
		c.KnownHosts = xssh.InsecureIgnoreHostKey() // replaced by strict callback by caller normally
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(c.Signer)},
		HostKeyCallback: c.KnownHosts,
		Timeout:         c.Timeout,
	}, nil
}

func (c *Client) dial(cfg *xssh.ClientConfig) (*xssh.Client, error) {
	if c.Dialer != nil {
		conn, err := c.Dialer.Dial("tcp", c.Addr)
		if err != nil {
			return nil, err
		}
		cc, chans, reqs, err := xssh.NewClientConn(conn, c.Addr, cfg)
		if err != nil {
			return nil, err
		}
		return xssh.NewClient(cc, chans, reqs), nil
	}
	return xssh.Dial("tcp", c.Addr, cfg)
}

// RunCommand executes a remote command, retrying failed attempts with linear
// backoff. Retries==0 sends the command exactly once. Stdout and stderr come
// back separately so structured output on stdout stays parseable.
func (c *Client) RunCommand(ctx context.Context, command string) (string, string, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return "", "", err
	}
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		default:
		}
		stdout, stderr, err := c.runOnce(cfg, command)
		if err == nil {
			return stdout, stderr, nil
		}
		lastErr = err
		if attempt < retries {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return "", "", lastErr
}

func (c *Client) runOnce(cfg *xssh.ClientConfig, command string) (string, string, error) {
	cli, err := c.dial(cfg)
	if err != nil {
		return "", "", fmt.Errorf("ssh dial: %w", err)
	}
	defer cli.Close()
	session, err := cli.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()
	var stderr bytes.Buffer
	session.Stderr = &stderr
	stdout, err := session.Output(command)
	if err != nil {
		return string(stdout), stderr.String(), fmt.Errorf("run command: %w", err)
	}
	return string(stdout), stderr.String(), nil
}

// Dial establishes an SSH connection using the provided client configuration.
// The caller is responsible for closing the returned client.
func Dial(ctx context.Context, c *Client) (*xssh.Client, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := c.dial(cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}
