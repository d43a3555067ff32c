// Package notify pushes a short summary of a finished command to chat and
// webhook services through shoutrrr.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/report"
)

// Config selects the notification services.
type Config struct {
	URLs      []string
	OnSuccess bool
	Timeout   time.Duration
}

// sender is the part of the shoutrrr router used here.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier sends report summaries.
type Notifier struct {
	sender    sender
	urls      []string
	onSuccess bool
	log       logger.Logger
}

// New builds a notifier. Every URL is parsed up front so a typo fails the
// command before any work is done.
func New(cfg Config, lg logger.Logger) (*Notifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("no notification URLs configured").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	n := &Notifier{urls: slices.Clone(cfg.URLs), onSuccess: cfg.OnSuccess, log: lg}
	router, err := shoutrrr.CreateSender(n.urls...)
	if err != nil {
		return nil, errors.Newf("invalid notification URL: %s", n.redact(err.Error())).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout > 0 {
		router.Timeout = cfg.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	n.sender = router
	return n, nil
}

// Send notifies about rep. Successful reports are skipped unless OnSuccess
// is set. The context only gates the call; shoutrrr applies its own timeout.
func (n *Notifier) Send(ctx context.Context, rep *report.Report, locations []string) error {
	if rep.Succeeded && !n.onSuccess {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	title, body := Message(rep, locations)
	params := stypes.Params{}
	params.SetTitle(title)

	var failed []string
	for _, err := range n.sender.Send(body, &params) {
		if err != nil {
			failed = append(failed, n.redact(err.Error()))
		}
	}
	if len(failed) > 0 {
		return errors.Newf("notification failed: %s", strings.Join(failed, "; ")).
			Component("notify").
			Category(errors.CategoryIntegration).
			Context("services", len(n.urls)).
			Build()
	}
	if n.log != nil {
		n.log.Debug("notification sent", logger.String("report", rep.Name()))
	}
	return nil
}

// redact removes configured URLs from s; they carry service tokens.
func (n *Notifier) redact(s string) string {
	for _, u := range n.urls {
		scheme, _, _ := strings.Cut(u, "://")
		s = strings.ReplaceAll(s, u, scheme+"://[REDACTED]")
	}
	return logger.RedactSensitiveData(s)
}

// Message renders the notification title and body for rep.
func Message(rep *report.Report, locations []string) (title, body string) {
	outcome := "succeeded"
	if !rep.Succeeded {
		outcome = "FAILED"
	}
	title = fmt.Sprintf("qcmigrate %s %s", rep.Type, outcome)

	var b strings.Builder
	if rep.RunID != "" {
		fmt.Fprintf(&b, "run %s\n", rep.RunID)
	}
	fmt.Fprintf(&b, "duration %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Second))

	for _, k := range rep.Kinds {
		fmt.Fprintf(&b, "%s: %s, %d/%d inserted", k.Kind, k.Status, k.Inserted, k.Total)
		if len(k.Warnings) > 0 {
			fmt.Fprintf(&b, ", %d warnings", len(k.Warnings))
		}
		if k.Error != "" {
			fmt.Fprintf(&b, ", error: %s", logger.RedactSensitiveData(k.Error))
		}
		b.WriteByte('\n')
	}
	for _, v := range rep.Verification {
		fmt.Fprintf(&b, "%s: %d source, %d mapped, %d warnings\n", v.Kind, v.SourceCount, v.MappedCount, len(v.Warnings))
	}
	for _, loc := range locations {
		fmt.Fprintf(&b, "report %s\n", loc)
	}
	return title, strings.TrimRight(b.String(), "\n")
}
