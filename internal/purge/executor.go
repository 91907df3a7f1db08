// Package purge implements the core of fleetrm: per-host path deletion and
// the group-by-host dispatcher that fans deletions out across a fleet.
package purge

import (
	"os"
	"time"

	"github.com/3cpo-dev/fleetrm/internal/telemetry"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// fileOps is the slice of the filesystem the executor touches. Tests swap it
// to force deletion failures without needing privileged setups.
type fileOps interface {
	Lstat(path string) (os.FileInfo, error)
	RemoveAll(path string) error
}

type osFS struct{}

func (osFS) Lstat(path string) (os.FileInfo, error) { return os.Lstat(path) }
func (osFS) RemoveAll(path string) error            { return os.RemoveAll(path) }

// Executor deletes paths on the machine it runs on. It never returns an
// error: absent paths and failed deletions are recorded in the Result and a
// batch always runs to the end.
type Executor struct {
	host string
	fs   fileOps
}

// NewExecutor returns an Executor stamping results with the given host name.
// An empty name falls back to os.Hostname().
func NewExecutor(host string) *Executor {
	if host == "" {
		host, _ = os.Hostname()
	}
	return &Executor{host: host, fs: osFS{}}
}

// Host returns the identity stamped into results.
func (e *Executor) Host() string { return e.host }

// exists reports whether path is present. Lstat keeps symlinks themselves as
// the subject; any stat error counts as absent.
func (e *Executor) exists(path string) bool {
	_, err := e.fs.Lstat(path)
	return err == nil
}

// Run deletes each path in input order and returns one Result per path.
func (e *Executor) Run(paths []string) []api.Result {
	results := make([]api.Result, 0, len(paths))
	for _, p := range paths {
		results = append(results, e.runOne(p))
	}
	return results
}

func (e *Executor) runOne(path string) api.Result {
	res := api.Result{
		Host:      e.host,
		Path:      path,
		Timestamp: time.Now().UTC(),
		Action:    api.ActionNone,
	}

	res.ExistedBefore = e.exists(path)
	if !res.ExistedBefore {
		res.Error = api.ErrPathNotFound
		telemetry.CounterGlobal("fleetrm_purge_absent", 1, map[string]string{
			"component": "executor",
		})
		return res
	}

	res.ExistsAfter = true
	res.Action = api.ActionRemoved
	start := time.Now()
	if err := e.fs.RemoveAll(path); err != nil {
		// ExistsAfter keeps the pre-deletion observation: the remove failed
		// and nothing re-checks the path in this branch.
		res.Error = err.Error()
		telemetry.CounterGlobal("fleetrm_purge_failed", 1, map[string]string{
			"component": "executor",
		})
		return res
	}

	res.ExistsAfter = e.exists(path)
	telemetry.CounterGlobal("fleetrm_purge_removed", 1, map[string]string{
		"component": "executor",
	})
	telemetry.TimerGlobal("fleetrm_purge_duration", time.Since(start), map[string]string{
		"component": "executor",
	})
	return res
}
