package deploy

import (
	"context"
	"fmt"
	"strings"

	sshc "github.com/3cpo-dev/fleetrm/internal/ssh"
)

// UnitOptions configure the systemd unit rendered for the agent.
type UnitOptions struct {
	BinPath string
	User    string
	Port    int
	Token   string
}

// SystemdUnit renders the fleetrm-agent service unit.
func SystemdUnit(opts UnitOptions) string {
	bin := opts.BinPath
	if bin == "" {
		bin = "/usr/local/bin/fleetrm-agent"
	}
	user := opts.User
	if user == "" {
		user = "root"
	}
	port := opts.Port
	if port <= 0 {
		port = 8088
	}

	var env strings.Builder
	if opts.Token != "" {
		fmt.Fprintf(&env, "Environment=FLEETRM_AGENT_TOKEN=%s\n", opts.Token)
	}

	return fmt.Sprintf(`[Unit]
Description=fleetrm agent
After=network.target

[Service]
ExecStart=%s serve --addr :%d
%sUser=%s
Restart=always
RestartSec=2

[Install]
WantedBy=multi-user.target
`, bin, port, env.String(), user)
}

// InstallUnit writes the unit file on the host and enables the service. The
// connection runs as the deploy user, which must be able to manage systemd.
func (d *Deployer) InstallUnit(ctx context.Context, host string, opts UnitOptions) error {
	unit := SystemdUnit(opts)
	cmd := fmt.Sprintf(
		"printf '%%s' %s > /etc/systemd/system/fleetrm-agent.service && systemctl daemon-reload && systemctl enable --now fleetrm-agent",
		sshc.Quote(unit))
	_, stderr, err := d.client(host).RunCommand(ctx, cmd)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return fmt.Errorf("install unit on %s: %w: %s", host, err, msg)
		}
		return fmt.Errorf("install unit on %s: %w", host, err)
	}
	return nil
}
