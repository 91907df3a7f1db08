// Package core drives a purge run end to end: group the inventory, dispatch
// to hosts, summarize, persist the run, write reports, send mail.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/fleetrm/internal/notify"
	"github.com/3cpo-dev/fleetrm/internal/purge"
	"github.com/3cpo-dev/fleetrm/internal/remote"
	"github.com/3cpo-dev/fleetrm/internal/report"
	"github.com/3cpo-dev/fleetrm/internal/store"
	"github.com/3cpo-dev/fleetrm/internal/telemetry"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Runner composes one purge run. Store, Mailer and ReportDir are optional;
// a zero field skips that side effect.
type Runner struct {
	Transport remote.Invoker
	Store     *store.Store
	Mailer    *notify.Mailer
	ReportDir string
}

// Outcome is what a run produced. It is populated even when hosts failed;
// the transport error comes back alongside it.
type Outcome struct {
	RunID      string
	Status     api.RunStatus
	Summary    api.Summary
	Results    []api.Result
	ReportPath string
}

// Run purges the inventory and records the outcome. The returned error joins
// host-level transport failures; per-path failures are data inside Results
// and never appear in it. Results from hosts that answered are kept either
// way.
func (r *Runner) Run(ctx context.Context, items []api.WorkItem) (Outcome, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()

	batches := purge.GroupByHost(items)
	total := 0
	for _, b := range batches {
		total += len(b.Paths)
	}
	log.Info().
		Str("run_id", runID).
		Str("transport", r.Transport.Name()).
		Int("hosts", len(batches)).
		Int("paths", total).
		Msg("starting purge run")

	results, hostErr := purge.Dispatch(ctx, items, r.Transport)
	finished := time.Now().UTC()

	summary := report.Summarize(results, total)
	status := deriveStatus(results, hostErr)
	outcome := Outcome{
		RunID:   runID,
		Status:  status,
		Summary: summary,
		Results: results,
	}

	telemetry.CounterGlobal("fleetrm_runs", 1, map[string]string{"status": string(status)})
	telemetry.TimerGlobal("fleetrm_run_duration", finished.Sub(started), map[string]string{
		"transport": r.Transport.Name(),
	})

	meta := report.Meta{
		RunID:     runID,
		Status:    status,
		Transport: r.Transport.Name(),
		Started:   started,
		Finished:  finished,
	}

	if r.ReportDir != "" {
		path, err := report.WriteHTML(r.ReportDir, meta, summary, results)
		if err != nil {
			log.Warn().Err(err).Msg("write html report")
		} else {
			outcome.ReportPath = path
		}
	}

	// History is best effort: the deletions already happened, so a failed
	// save degrades to a warning rather than failing the run.
	if r.Store != nil {
		run := store.Run{
			ID:         runID,
			StartedAt:  started,
			FinishedAt: finished,
			Status:     status,
			Transport:  r.Transport.Name(),
			Summary:    summary,
		}
		if err := r.Store.SaveRun(ctx, run, results); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("persist run")
		}
	}

	if r.Mailer.Enabled() {
		if err := r.Mailer.Send(meta, summary, results); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("send summary mail")
		}
	}

	log.Info().
		Str("run_id", runID).
		Str("status", string(status)).
		Int("removed", summary.Removed).
		Int("failed", summary.Failed).
		Int("absent", summary.Absent).
		Msg("purge run finished")

	return outcome, hostErr
}

// deriveStatus maps a run's results onto a status. Absent paths alone still
// count as success; hard deletion failures or unreachable hosts make the run
// partial, and a run where nothing answered is failed.
func deriveStatus(results []api.Result, hostErr error) api.RunStatus {
	hard := 0
	for _, res := range results {
		if res.Error != "" && res.Error != api.ErrPathNotFound {
			hard++
		}
	}
	switch {
	case hostErr != nil && len(results) == 0:
		return api.RunFailed
	case hostErr != nil || hard > 0:
		return api.RunPartial
	default:
		return api.RunSucceeded
	}
}
