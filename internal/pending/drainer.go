// Package pending replays manual hand-off payloads through the API once a
// key is available, replacing the placeholder ledger rows they left behind.
package pending

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/wpm/altwatch/internal/describe"
	"github.com/wpm/altwatch/internal/ledger"
	"github.com/wpm/altwatch/internal/pipeline"
)

// Ledger records a completed row.
type Ledger interface {
	Merge(docPath string, row ledger.Row) error
}

// Reporter announces each replayed image.
type Reporter interface {
	Report(path string, o *pipeline.Outcome)
}

// Result summarises one drain.
type Result struct {
	Found     int
	Completed int
	Failed    int
}

// Drainer processes every payload file in a hand-off directory.
//
// The drain is resilient: a file that cannot be parsed or described is
// logged and left in place, and the remaining files are still processed.
type Drainer struct {
	dir       string
	describer describe.Describer
	ledger    Ledger
	reporter  Reporter
	logger    *log.Logger
}

// New creates a Drainer. reporter may be nil. If logger is nil, a default
// logger writing to stderr is used.
func New(dir string, d describe.Describer, l Ledger, reporter Reporter, logger *log.Logger) *Drainer {
	if logger == nil {
		logger = log.New(os.Stderr, "[pending] ", log.LstdFlags)
	}
	return &Drainer{
		dir:       dir,
		describer: d,
		ledger:    l,
		reporter:  reporter,
		logger:    logger,
	}
}

// DrainAll processes every payload file in the directory. A missing
// directory means nothing is pending.
func (d *Drainer) DrainAll(ctx context.Context) (Result, error) {
	var res Result

	files, err := describe.ListPayloadFiles(d.dir)
	if err != nil {
		return res, err
	}
	res.Found = len(files)

	if len(files) == 0 {
		d.logger.Printf("No pending prompt payloads found in %s", d.dir)
		return res, nil
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, err := d.DrainFile(ctx, path); err != nil {
			d.logger.Printf("WARNING: %s: %v", filepath.Base(path), err)
			res.Failed++
			continue
		}
		res.Completed++
	}

	d.logger.Printf("Pending drain complete: %d found, %d completed, %d failed", res.Found, res.Completed, res.Failed)
	return res, nil
}

// DrainFile replays one payload file. On success the ledger row is
// replaced and both hand-off files are removed.
func (d *Drainer) DrainFile(ctx context.Context, path string) (*pipeline.Outcome, error) {
	name := filepath.Base(path)
	d.logger.Printf("Processing %s", name)

	payload, err := describe.ReadPayloadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	result, err := d.describer.Describe(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("alt text request failed: %w", err)
	}

	outcome := pipeline.OutcomeFromResult(payload, result)
	if d.reporter != nil {
		d.reporter.Report(payload.ImagePath, outcome)
	}

	if outcome.Status != pipeline.StatusOK {
		return outcome, fmt.Errorf("service returned status %s: %s", outcome.Status, outcome.Notes)
	}

	if d.ledger != nil {
		if err := d.ledger.Merge(outcome.DocPath, ledger.RowFromOutcome(outcome)); err != nil {
			return outcome, fmt.Errorf("failed to update ledger: %w", err)
		}
	}

	d.cleanup(path)
	d.logger.Printf("Completed %s, logged to %s", name, outcome.DocPath)
	return outcome, nil
}

func (d *Drainer) cleanup(payloadPath string) {
	for _, p := range []string{payloadPath, describe.PromptPathFor(payloadPath)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			d.logger.Printf("Warning: failed to remove %s: %v", p, err)
		}
	}
}
