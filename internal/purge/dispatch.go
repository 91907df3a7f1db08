package purge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/fleetrm/internal/telemetry"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Invoker performs one purge round trip against a single host. The concrete
// transports live in internal/remote; Dispatch needs only this call.
type Invoker interface {
	Purge(ctx context.Context, host string, paths []string) ([]api.Result, error)
}

// Batch is one host's share of the input, paths in input order.
type Batch struct {
	Host  string
	Paths []string
}

// GroupByHost partitions work items into per-host batches. Hosts keep
// first-encounter order and paths keep input order. Rows with a blank host or
// blank path are dropped, so a host that only ever carried blank paths gets
// no batch at all.
func GroupByHost(items []api.WorkItem) []Batch {
	var batches []Batch
	index := make(map[string]int)
	for _, it := range items {
		if it.Host == "" || it.Path == "" {
			continue
		}
		i, ok := index[it.Host]
		if !ok {
			i = len(batches)
			index[it.Host] = i
			batches = append(batches, Batch{Host: it.Host})
		}
		batches[i].Paths = append(batches[i].Paths, it.Path)
	}
	return batches
}

// Dispatch fans the items out, one goroutine per distinct host, started
// eagerly with no concurrency cap, and joins them in start order. The result
// sequence is the concatenation of per-host batches in host first-encounter
// order regardless of which host finished first. Hosts that failed at the
// transport level contribute an error wrapped with their name instead of
// results; every started host is still joined, and the results of the hosts
// that answered are returned alongside the joined error. There is no timeout
// and no cancellation beyond what ctx carries into the transport: a hung
// invocation hangs the dispatch.
func Dispatch(ctx context.Context, items []api.WorkItem, inv Invoker) ([]api.Result, error) {
	batches := GroupByHost(items)
	if len(batches) == 0 {
		return nil, nil
	}

	start := time.Now()
	telemetry.CounterGlobal("fleetrm_dispatch_hosts", float64(len(batches)), map[string]string{
		"component": "dispatcher",
	})

	type outcome struct {
		results []api.Result
		err     error
	}
	handles := make([]chan outcome, len(batches))
	for i, b := range batches {
		ch := make(chan outcome, 1)
		handles[i] = ch
		log.Debug().Str("host", b.Host).Int("paths", len(b.Paths)).Msg("dispatching purge batch")
		go func(b Batch, ch chan<- outcome) {
			res, err := inv.Purge(ctx, b.Host, b.Paths)
			ch <- outcome{results: res, err: err}
		}(b, ch)
	}

	var (
		results []api.Result
		errs    []error
	)
	for i, ch := range handles {
		out := <-ch
		if out.err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", batches[i].Host, out.err))
			telemetry.CounterGlobal("fleetrm_dispatch_host_failures", 1, map[string]string{
				"component": "dispatcher",
			})
			log.Error().Err(out.err).Str("host", batches[i].Host).Msg("host purge failed")
			continue
		}
		results = append(results, out.results...)
	}

	telemetry.TimerGlobal("fleetrm_dispatch_duration", time.Since(start), map[string]string{
		"component": "dispatcher",
	})
	return results, errors.Join(errs...)
}
