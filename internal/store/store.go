// Package store defines the record store for planned workouts and completed
// activities. Backends live in the sqlite, postgres and memory subpackages.
package store

import (
	"context"
	"errors"
	"fmt"

	"traincal/internal/model"
)

var (
	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when the backend cannot be reached or queried.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the persistence contract shared by every backend.
//
// Lists of planned workouts are ordered by (date, id); PlannedOn is ordered
// by id. ListActivities is ordered by (date, id).
type Store interface {
	GetPlanned(ctx context.Context, id string) (model.PlannedWorkout, error)
	PlannedOn(ctx context.Context, d model.Date) ([]model.PlannedWorkout, error)
	// PlannedBetween returns rows with from <= date < to.
	PlannedBetween(ctx context.Context, from, to model.Date) ([]model.PlannedWorkout, error)
	ListPlanned(ctx context.Context) ([]model.PlannedWorkout, error)
	UpsertPlanned(ctx context.Context, p model.PlannedWorkout) error
	// ReplacePlanned deletes every planned row and inserts ps atomically.
	ReplacePlanned(ctx context.Context, ps []model.PlannedWorkout) error
	// SetPlannedNotes and SetPlannedDetails update every row on d and return
	// the number changed, or ErrNotFound if there were none.
	SetPlannedNotes(ctx context.Context, d model.Date, notes string) (int, error)
	SetPlannedDetails(ctx context.Context, d model.Date, details string) (int, error)

	GetActivity(ctx context.Context, id string) (model.CompletedActivity, error)
	UpsertActivity(ctx context.Context, a model.CompletedActivity) error
	// LinkActivity sets (or clears, with nil) the planned back-reference.
	LinkActivity(ctx context.Context, id string, plannedID *string) error
	ListActivities(ctx context.Context) ([]model.CompletedActivity, error)

	Ping(ctx context.Context) error
	Close() error
}

// Backuper is implemented by backends that can snapshot themselves to a file.
type Backuper interface {
	Backup(ctx context.Context, dest string) error
}

// Unavailable wraps a backend failure so callers can test for ErrUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// NotFound reports a missing row of kind with key id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
