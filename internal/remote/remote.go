// Package remote provides the transports that carry a purge batch to a host:
// ssh (one-shot agent invocation), agent (HTTP endpoint) and local
// (in-process). A transport performs exactly one purge round trip per host
// per run; deletions are never re-sent.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Invoker is a purge transport. Purge sends the host's full path list in one
// round trip and returns the per-path results; Heartbeat probes reachability.
type Invoker interface {
	Name() string
	Purge(ctx context.Context, host string, paths []string) ([]api.Result, error)
	Heartbeat(ctx context.Context, host string) error
}

type Registry struct {
	invokers map[string]Invoker
}

func NewRegistry() *Registry {
	return &Registry{invokers: map[string]Invoker{}}
}

func (r *Registry) Register(inv Invoker) {
	r.invokers[inv.Name()] = inv
}

func (r *Registry) Get(name string) (Invoker, error) {
	inv, ok := r.invokers[name]
	if !ok {
		return nil, fmt.Errorf("transport not registered: %s", name)
	}
	return inv, nil
}

// WaitReady polls a host's heartbeat with exponential backoff until it
// answers or timeout elapses. Used after deploy; never used for purges.
func WaitReady(ctx context.Context, inv Invoker, host string, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout
	op := func() error { return inv.Heartbeat(ctx, host) }
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("host %s not ready: %w", host, err)
	}
	return nil
}
