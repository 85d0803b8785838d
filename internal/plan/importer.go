package plan

import (
	"context"
	"fmt"
	"time"

	"traincal/internal/activity"
	appLog "traincal/internal/log"
	"traincal/internal/model"
	"traincal/internal/store"
)

// Importer writes the plan into the store. Every mutation runs under the
// activity service's writer lock so it never interleaves with a sync.
type Importer struct {
	store store.Store
	svc   *activity.Service
	now   func() time.Time
}

func NewImporter(s store.Store, svc *activity.Service) *Importer {
	return &Importer{store: s, svc: svc, now: time.Now}
}

// Import inserts or replaces each workout and regenerates the calendar.
func (im *Importer) Import(ctx context.Context, ps []model.PlannedWorkout) (int, error) {
	n := 0
	err := im.svc.Exclusive(ctx, true, func(ctx context.Context) error {
		for _, p := range ps {
			if err := im.store.UpsertPlanned(ctx, p); err != nil {
				return fmt.Errorf("import %s: %w", p.ID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	appLog.Info("plan imported", "rows", n)
	return n, nil
}

// ReimportResult reports a replace-all import.
type ReimportResult struct {
	Planned   int
	Matched   int
	Unmatched int
	// Backup is the snapshot path, empty when the backend cannot snapshot.
	Backup string
}

// BackupPath names the snapshot taken before a re-import.
func BackupPath(dbPath string, at time.Time) string {
	return fmt.Sprintf("%s.backup.%s", dbPath, at.Format("20060102_150405"))
}

// Reimport snapshots the store when dbPath is set and the backend supports
// it, replaces every planned row with ps, re-runs the matcher over all
// completed activities and regenerates the calendar. Completed activities
// are kept; links to rows that vanished are cleared.
func (im *Importer) Reimport(ctx context.Context, ps []model.PlannedWorkout, dbPath string) (ReimportResult, error) {
	var res ReimportResult
	err := im.svc.Exclusive(ctx, true, func(ctx context.Context) error {
		if b, ok := im.store.(store.Backuper); ok && dbPath != "" {
			res.Backup = BackupPath(dbPath, im.now())
			if err := b.Backup(ctx, res.Backup); err != nil {
				return fmt.Errorf("reimport backup: %w", err)
			}
			appLog.Info("store backup written", "path", res.Backup)
		}
		if err := im.store.ReplacePlanned(ctx, ps); err != nil {
			return fmt.Errorf("reimport: %w", err)
		}
		res.Planned = len(ps)

		var err error
		res.Matched, res.Unmatched, err = im.svc.Rematch(ctx)
		return err
	})
	if err != nil {
		return res, err
	}
	appLog.Info("plan re-imported", "planned", res.Planned, "matched", res.Matched, "unmatched", res.Unmatched)
	return res, nil
}

// UpdateNotes replaces the notes of every planned workout on d. With
// publish unset the calendar is left as is.
func (im *Importer) UpdateNotes(ctx context.Context, d model.Date, notes string, publish bool) (int, error) {
	return im.update(ctx, publish, "notes", d, func(ctx context.Context) (int, error) {
		return im.store.SetPlannedNotes(ctx, d, notes)
	})
}

// UpdateDetails replaces the details (the event title line) of every
// planned workout on d.
func (im *Importer) UpdateDetails(ctx context.Context, d model.Date, details string, publish bool) (int, error) {
	return im.update(ctx, publish, "details", d, func(ctx context.Context) (int, error) {
		return im.store.SetPlannedDetails(ctx, d, details)
	})
}

func (im *Importer) update(ctx context.Context, publish bool, field string, d model.Date, fn func(context.Context) (int, error)) (int, error) {
	var n int
	err := im.svc.Exclusive(ctx, publish, func(ctx context.Context) error {
		var err error
		n, err = fn(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("update %s on %s: %w", field, d, err)
	}
	appLog.Info("planned workout updated", "field", field, "date", d.String(), "rows", n)
	return n, nil
}
