// Package feed publishes the synthesized calendar: it writes the .ics
// document to disk and serves it, together with the tracker webhook, over
// HTTP.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"traincal/internal/calendar"
	"traincal/internal/config"
	appLog "traincal/internal/log"
	"traincal/internal/metrics"
	"traincal/internal/model"
)

// Publisher regenerates the document file from the store.
type Publisher struct {
	synth *calendar.Synthesizer
	loc   *time.Location
	path  string
	today func() model.Date
}

// NewPublisher returns a publisher writing to outputPath. "Today" is taken
// in loc.
func NewPublisher(synth *calendar.Synthesizer, loc *time.Location, outputPath string) *Publisher {
	if loc == nil {
		loc = time.Local
	}
	p := &Publisher{synth: synth, loc: loc, path: outputPath}
	p.today = func() model.Date { return model.Today(p.loc) }
	return p
}

// Path is the document location on disk.
func (p *Publisher) Path() string { return p.path }

// Today is the local date the visibility window is evaluated at.
func (p *Publisher) Today() model.Date { return p.today() }

// Build synthesizes the document without writing it.
func (p *Publisher) Build(ctx context.Context) (*calendar.Document, error) {
	return p.synth.Synthesize(ctx, p.today())
}

// Regenerate synthesizes the document and atomically replaces the file, so
// subscribers never read a partial calendar.
func (p *Publisher) Regenerate(ctx context.Context) error {
	started := time.Now()
	runID := uuid.NewString()

	doc, err := p.Build(ctx)
	if err == nil {
		err = config.WriteFileAtomic(p.path, []byte(doc.Serialize()), 0o644)
		if err != nil {
			err = fmt.Errorf("write %s: %w", p.path, err)
		}
	}

	var counts map[string]int
	if err == nil {
		counts = countsByName(doc)
	}
	metrics.RecordRegeneration(started, err, counts)
	if err != nil {
		return err
	}

	appLog.Info("calendar regenerated", "run_id", runID, "path", p.path, "as_of", p.today().String(),
		"events", len(doc.Events), "planned", counts["planned"], "completed", counts["completed"],
		"rest", counts["rest"], "extra", counts["extra"], "took", time.Since(started).String())
	return nil
}

func countsByName(doc *calendar.Document) map[string]int {
	out := make(map[string]int)
	for kind, n := range doc.Counts() {
		out[kind.String()] = n
	}
	return out
}
