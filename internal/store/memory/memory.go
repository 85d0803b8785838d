// Package memory is an in-process Store used by tests and dry runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"traincal/internal/model"
	"traincal/internal/store"
)

type Store struct {
	mu         sync.RWMutex
	planned    map[string]model.PlannedWorkout
	activities map[string]model.CompletedActivity
	closed     bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		planned:    make(map[string]model.PlannedWorkout),
		activities: make(map[string]model.CompletedActivity),
	}
}

func (s *Store) check(op string) error {
	if s.closed {
		return store.Unavailable(op, errClosed)
	}
	return nil
}

var errClosed = errors.New("memory store closed")

func (s *Store) GetPlanned(_ context.Context, id string) (model.PlannedWorkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get planned"); err != nil {
		return model.PlannedWorkout{}, err
	}
	p, ok := s.planned[id]
	if !ok {
		return model.PlannedWorkout{}, store.NotFound("planned workout", id)
	}
	return p, nil
}

func (s *Store) PlannedOn(_ context.Context, d model.Date) ([]model.PlannedWorkout, error) {
	return s.filterPlanned("planned on", func(p model.PlannedWorkout) bool { return p.Date == d })
}

func (s *Store) PlannedBetween(_ context.Context, from, to model.Date) ([]model.PlannedWorkout, error) {
	return s.filterPlanned("planned between", func(p model.PlannedWorkout) bool {
		return !p.Date.Before(from) && p.Date.Before(to)
	})
}

func (s *Store) ListPlanned(_ context.Context) ([]model.PlannedWorkout, error) {
	return s.filterPlanned("list planned", func(model.PlannedWorkout) bool { return true })
}

func (s *Store) filterPlanned(op string, keep func(model.PlannedWorkout) bool) ([]model.PlannedWorkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(op); err != nil {
		return nil, err
	}
	var out []model.PlannedWorkout
	for _, p := range s.planned {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpsertPlanned(_ context.Context, p model.PlannedWorkout) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert planned"); err != nil {
		return err
	}
	s.planned[p.ID] = p
	return nil
}

func (s *Store) ReplacePlanned(_ context.Context, ps []model.PlannedWorkout) error {
	next := make(map[string]model.PlannedWorkout, len(ps))
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return err
		}
		next[p.ID] = p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("replace planned"); err != nil {
		return err
	}
	s.planned = next
	return nil
}

func (s *Store) SetPlannedNotes(_ context.Context, d model.Date, notes string) (int, error) {
	return s.updateOn("set notes", d, func(p *model.PlannedWorkout) { p.Notes = notes })
}

func (s *Store) SetPlannedDetails(_ context.Context, d model.Date, details string) (int, error) {
	return s.updateOn("set details", d, func(p *model.PlannedWorkout) { p.Details = details })
}

func (s *Store) updateOn(op string, d model.Date, fn func(*model.PlannedWorkout)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(op); err != nil {
		return 0, err
	}
	n := 0
	for id, p := range s.planned {
		if p.Date != d {
			continue
		}
		fn(&p)
		s.planned[id] = p
		n++
	}
	if n == 0 {
		return 0, store.NotFound("planned workouts on", d.String())
	}
	return n, nil
}

func (s *Store) GetActivity(_ context.Context, id string) (model.CompletedActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get activity"); err != nil {
		return model.CompletedActivity{}, err
	}
	a, ok := s.activities[id]
	if !ok {
		return model.CompletedActivity{}, store.NotFound("activity", id)
	}
	return a, nil
}

func (s *Store) UpsertActivity(_ context.Context, a model.CompletedActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert activity"); err != nil {
		return err
	}
	a.PlannedWorkoutID = cloneID(a.PlannedWorkoutID)
	s.activities[a.ID] = a
	return nil
}

func (s *Store) LinkActivity(_ context.Context, id string, plannedID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("link activity"); err != nil {
		return err
	}
	a, ok := s.activities[id]
	if !ok {
		return store.NotFound("activity", id)
	}
	a.PlannedWorkoutID = cloneID(plannedID)
	s.activities[id] = a
	return nil
}

func (s *Store) ListActivities(_ context.Context) ([]model.CompletedActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list activities"); err != nil {
		return nil, err
	}
	out := make([]model.CompletedActivity, 0, len(s.activities))
	for _, a := range s.activities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("ping")
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
