// Package notify emails a run summary after a purge run. Delivery failures
// are reported to the caller for logging; they never fail the run.
package notify

import (
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/3cpo-dev/fleetrm/internal/report"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Mailer sends run summaries over SMTP. The zero value is disabled.
type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string

	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.Host != "" && m.From != "" && len(m.To) > 0
}

// Send mails the summary for one run. No-op when the mailer is not
// configured.
func (m *Mailer) Send(meta report.Meta, summary api.Summary, results []api.Result) error {
	if !m.Enabled() {
		return nil
	}

	port := m.Port
	if port <= 0 {
		port = 587
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(port))

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	subject := buildSubject(meta, summary)
	body := buildBody(meta, summary, results)
	msg := buildMessage(m.From, m.To, subject, body)

	sendFn := m.send
	if sendFn == nil {
		sendFn = smtp.SendMail
	}
	if err := sendFn(addr, auth, m.From, m.To, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildSubject(meta report.Meta, summary api.Summary) string {
	return fmt.Sprintf("fleetrm run %s %s: %s", shortID(meta.RunID), meta.Status, report.FormatSummary(summary))
}

func buildBody(meta report.Meta, summary api.Summary, results []api.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:       %s\n", meta.RunID)
	fmt.Fprintf(&b, "Status:    %s\n", meta.Status)
	fmt.Fprintf(&b, "Transport: %s\n", meta.Transport)
	fmt.Fprintf(&b, "Started:   %s\n", meta.Started.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Finished:  %s\n", meta.Finished.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Summary:   %s\n", report.FormatSummary(summary))

	var failures []api.Result
	for _, r := range results {
		if r.Error != "" && r.Error != api.ErrPathNotFound {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, r := range failures {
			fmt.Fprintf(&b, "  %s %s: %s\n", r.Host, r.Path, r.Error)
		}
	}
	return b.String()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
