// Package activity ingests completed activities: it normalizes each record,
// links it to its planned workout, persists it and regenerates the calendar.
package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "traincal/internal/log"
	"traincal/internal/match"
	"traincal/internal/metrics"
	"traincal/internal/model"
	"traincal/internal/store"
)

// Publisher rebuilds the published calendar from the store.
type Publisher interface {
	Regenerate(ctx context.Context) error
}

// Service serializes all writers behind one mutex so that find-then-link
// and replace-all sequences never interleave.
type Service struct {
	mu        sync.Mutex
	store     store.Store
	matcher   *match.Matcher
	publisher Publisher
	loc       *time.Location
	now       func() time.Time
}

// NewService wires the service. publisher may be nil; loc is the calendar
// zone used for records that only carry an absolute start.
func NewService(s store.Store, m *match.Matcher, publisher Publisher, loc *time.Location) *Service {
	return &Service{store: s, matcher: m, publisher: publisher, loc: loc, now: time.Now}
}

// Exclusive runs fn under the writer lock. When publish is set and fn
// succeeds, the calendar is regenerated before the lock is released.
func (s *Service) Exclusive(ctx context.Context, publish bool, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(ctx); err != nil {
		return err
	}
	if publish {
		s.regenerateLocked(ctx, uuid.NewString())
	}
	return nil
}

// Result describes one synced activity.
type Result struct {
	ActivityID string
	Date       model.Date
	Type       string
	PlannedID  *string
	Rule       string
}

func (r Result) Matched() bool { return r.PlannedID != nil }

// Sync ingests one record and regenerates the calendar. Malformed records
// return model.ErrMalformed; store failures return store.ErrUnavailable and
// leave the store untouched. A failed regeneration is logged, not returned.
func (s *Service) Sync(ctx context.Context, rec model.ActivityRecord) (Result, error) {
	runID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.syncLocked(ctx, runID, rec)
	if err != nil {
		return res, err
	}
	s.regenerateLocked(ctx, runID)
	return res, nil
}

// BatchResult reports a SyncAll pass.
type BatchResult struct {
	Synced  []Result
	Skipped []error
}

// SyncAll ingests records in order. Malformed records are skipped and
// reported; a store failure stops the batch. The calendar is regenerated
// once if anything was written.
func (s *Service) SyncAll(ctx context.Context, recs []model.ActivityRecord) (BatchResult, error) {
	runID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out BatchResult
	for _, rec := range recs {
		res, err := s.syncLocked(ctx, runID, rec)
		if errors.Is(err, model.ErrMalformed) {
			out.Skipped = append(out.Skipped, err)
			continue
		}
		if err != nil {
			if len(out.Synced) > 0 {
				s.regenerateLocked(ctx, runID)
			}
			return out, err
		}
		out.Synced = append(out.Synced, res)
	}
	if len(out.Synced) > 0 {
		s.regenerateLocked(ctx, runID)
	}
	appLog.Info("batch sync finished", "run_id", runID, "synced", len(out.Synced), "skipped", len(out.Skipped))
	return out, nil
}

func (s *Service) syncLocked(ctx context.Context, runID string, rec model.ActivityRecord) (Result, error) {
	a, err := Normalize(rec, s.loc, s.now())
	if err != nil {
		metrics.RecordSync(rec.Source, "malformed")
		appLog.Warn("activity rejected", "run_id", runID, "id", rec.ID, "reason", err.Error())
		return Result{}, err
	}

	found, err := s.matcher.Find(ctx, a)
	if err != nil {
		metrics.RecordSync(a.Source, "error")
		appLog.Error("activity match failed", err, "run_id", runID, "id", a.ID)
		return Result{}, fmt.Errorf("sync activity %s: %w", a.ID, err)
	}
	a.PlannedWorkoutID = found.PlannedID

	if err := s.store.UpsertActivity(ctx, a); err != nil {
		metrics.RecordSync(a.Source, "error")
		appLog.Error("activity write failed", err, "run_id", runID, "id", a.ID)
		return Result{}, fmt.Errorf("sync activity %s: %w", a.ID, err)
	}

	metrics.RecordSync(a.Source, "ok")
	metrics.RecordMatch(found.Rule)
	res := Result{ActivityID: a.ID, Date: a.Date, Type: a.ActivityType, PlannedID: found.PlannedID, Rule: found.Rule}
	if res.Matched() {
		appLog.Info("activity matched", "run_id", runID, "id", a.ID, "date", a.Date.String(),
			"type", a.ActivityType, "planned", *res.PlannedID, "rule", found.Rule)
	} else {
		appLog.Info("activity unmatched", "run_id", runID, "id", a.ID, "date", a.Date.String(), "type", a.ActivityType)
	}
	return res, nil
}

func (s *Service) regenerateLocked(ctx context.Context, runID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Regenerate(ctx); err != nil {
		appLog.Error("calendar regeneration failed", err, "run_id", runID)
	}
}

// Rematch re-runs the matcher over every stored activity, rewriting links.
// It must be called from inside Exclusive.
func (s *Service) Rematch(ctx context.Context) (matched, unmatched int, err error) {
	acts, err := s.store.ListActivities(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("rematch: %w", err)
	}
	for _, a := range acts {
		id, err := s.matcher.Match(ctx, a)
		if err != nil {
			return matched, unmatched, fmt.Errorf("rematch: %w", err)
		}
		if id != nil {
			matched++
		} else {
			unmatched++
		}
	}
	return matched, unmatched, nil
}

// Regenerate rebuilds the calendar under the writer lock.
func (s *Service) Regenerate(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisher.Regenerate(ctx)
}
