package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/fleetrm/internal/remote"
)

// HostStatus is the heartbeat outcome for one host.
type HostStatus struct {
	Host string
	Err  error
}

// CheckHosts probes every host concurrently and reports each one, reachable
// or not, in input order. It never aborts early: a dead host is a finding,
// not a failure of the check itself.
func CheckHosts(ctx context.Context, inv remote.Invoker, hosts []string) []HostStatus {
	statuses := make([]HostStatus, len(hosts))
	var g errgroup.Group
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			statuses[i] = HostStatus{Host: host, Err: inv.Heartbeat(ctx, host)}
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}
