// Package report turns the ordered result sequence into the operator-facing
// artifacts: summary counts, a text table, and an HTML report file.
package report

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Summarize derives the report counts from the collected results. total is
// the input-table row count; it exceeds len(results) when hosts failed or
// rows were dropped as malformed.
func Summarize(results []api.Result, total int) api.Summary {
	s := api.Summary{Total: total}
	for _, r := range results {
		if r.Action == api.ActionRemoved && !r.ExistsAfter {
			s.Removed++
		}
		if r.Error != "" {
			s.Failed++
		}
		if !r.ExistsAfter {
			s.Absent++
		}
	}
	return s
}

// FormatSummary renders the one-line summary used by the CLI and the mail
// subject.
func FormatSummary(s api.Summary) string {
	return fmt.Sprintf("total=%d removed=%d failed=%d absent=%d", s.Total, s.Removed, s.Failed, s.Absent)
}

// WriteTable renders the results as an aligned text table.
func WriteTable(w io.Writer, results []api.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tPATH\tACTION\tEXISTED\tEXISTS\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%s\n",
			r.Host, r.Path, r.Action, r.ExistedBefore, r.ExistsAfter, r.Error)
	}
	return tw.Flush()
}

// Meta carries the run header rendered above the result table.
type Meta struct {
	RunID     string
	Status    api.RunStatus
	Transport string
	Started   time.Time
	Finished  time.Time
}

type htmlView struct {
	Meta     Meta
	Started  string
	Finished string
	Summary  api.Summary
	Results  []api.Result
}

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"rowClass": func(r api.Result) string {
		switch {
		case r.Error == api.ErrPathNotFound:
			return "absent"
		case r.Error != "":
			return "failed"
		default:
			return "removed"
		}
	},
}).Parse(reportHTML))

// WriteHTML renders fleetrm-<runid>.html into dir and returns its path.
func WriteHTML(dir string, meta Meta, summary api.Summary, results []api.Result) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("mkdir report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("fleetrm-%s.html", meta.RunID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	view := htmlView{
		Meta:     meta,
		Started:  meta.Started.Format(time.RFC3339),
		Finished: meta.Finished.Format(time.RFC3339),
		Summary:  summary,
		Results:  results,
	}
	if err := reportTmpl.Execute(f, view); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return path, nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>fleetrm run {{.Meta.RunID}}</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; margin-top: 1em; }
th, td { border: 1px solid #999; padding: 4px 8px; text-align: left; }
.removed { background: #e6ffe6; }
.absent { background: #ffffe0; }
.failed { background: #ffe6e6; }
.counts span { margin-right: 1.5em; }
</style>
</head>
<body>
<h1>fleetrm run {{.Meta.RunID}}</h1>
<p>status: {{.Meta.Status}} | transport: {{.Meta.Transport}} | started: {{.Started}} | finished: {{.Finished}}</p>
<p class="counts">
<span>total {{.Summary.Total}}</span>
<span>removed {{.Summary.Removed}}</span>
<span>failed {{.Summary.Failed}}</span>
<span>absent {{.Summary.Absent}}</span>
</p>
<table>
<tr><th>host</th><th>path</th><th>timestamp</th><th>action</th><th>existed before</th><th>exists after</th><th>error</th></tr>
{{range .Results}}<tr class="{{rowClass .}}">
<td>{{.Host}}</td><td>{{.Path}}</td><td>{{.Timestamp.Format "2006-01-02T15:04:05Z07:00"}}</td><td>{{.Action}}</td><td>{{.ExistedBefore}}</td><td>{{.ExistsAfter}}</td><td>{{.Error}}</td>
</tr>{{end}}
</table>
</body>
</html>
`
