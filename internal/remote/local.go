package remote

import (
	"context"

	"github.com/3cpo-dev/fleetrm/internal/purge"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Local runs purges in-process. It serves single-machine runs and tests; the
// host name from the inventory is kept as the result identity.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (l *Local) Name() string { return "local" }

func (l *Local) Purge(ctx context.Context, host string, paths []string) ([]api.Result, error) {
	_ = ctx
	return purge.NewExecutor(host).Run(paths), nil
}

func (l *Local) Heartbeat(ctx context.Context, host string) error {
	_ = ctx
	_ = host
	return nil
}
