// Package sqlite is the default Store backend: a single database file with
// embedded, versioned migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	appLog "traincal/internal/log"
	"traincal/internal/model"
	"traincal/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Backuper = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, store.Unavailable("sqlite mkdir", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, store.Unavailable("sqlite open", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Unavailable("sqlite ping", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, store.Unavailable("sqlite migrate", err)
	}
	return &Store{db: db, path: path}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	// m.Close would close db as well; only the source is released here.
	defer src.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return store.Unavailable("sqlite ping", err)
	}
	return nil
}

// Backup writes a consistent copy of the database to dest.
func (s *Store) Backup(ctx context.Context, dest string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quoted := "'" + strings.ReplaceAll(dest, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return store.Unavailable("sqlite backup", err)
	}
	return nil
}

const plannedColumns = `id, date, workout_type, details, notes, planned_duration_minutes, planned_distance_miles, start_time`

const activityColumns = `id, planned_workout_id, date, activity_type, distance_miles, duration_minutes, avg_pace,
	avg_hr, max_hr, elevation_gain_ft, avg_temp_f, source_url, source, start_time, synced_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPlanned(sc scanner) (model.PlannedWorkout, error) {
	var r store.PlannedRow
	if err := sc.Scan(&r.ID, &r.Date, &r.WorkoutType, &r.Details, &r.Notes,
		&r.PlannedDurationMinutes, &r.PlannedDistanceMiles, &r.StartTime); err != nil {
		return model.PlannedWorkout{}, err
	}
	return r.Model()
}

func scanActivity(sc scanner) (model.CompletedActivity, error) {
	var r store.ActivityRow
	if err := sc.Scan(&r.ID, &r.PlannedWorkoutID, &r.Date, &r.ActivityType, &r.DistanceMiles,
		&r.DurationMinutes, &r.AvgPace, &r.AvgHR, &r.MaxHR, &r.ElevationGainFt, &r.AvgTempF,
		&r.SourceURL, &r.Source, &r.StartTime, &r.SyncedAt); err != nil {
		return model.CompletedActivity{}, err
	}
	return r.Model()
}

func (s *Store) GetPlanned(ctx context.Context, id string) (model.PlannedWorkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+plannedColumns+` FROM planned_workouts WHERE id = ?`, id)
	p, err := scanPlanned(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlannedWorkout{}, store.NotFound("planned workout", id)
	}
	if err != nil && !errors.Is(err, model.ErrMalformed) {
		return model.PlannedWorkout{}, store.Unavailable("get planned", err)
	}
	return p, err
}

func (s *Store) PlannedOn(ctx context.Context, d model.Date) ([]model.PlannedWorkout, error) {
	return s.queryPlanned(ctx, "planned on",
		`SELECT `+plannedColumns+` FROM planned_workouts WHERE date = ? ORDER BY id`, d.String())
}

func (s *Store) PlannedBetween(ctx context.Context, from, to model.Date) ([]model.PlannedWorkout, error) {
	return s.queryPlanned(ctx, "planned between",
		`SELECT `+plannedColumns+` FROM planned_workouts WHERE date >= ? AND date < ? ORDER BY date, id`,
		from.String(), to.String())
}

func (s *Store) ListPlanned(ctx context.Context) ([]model.PlannedWorkout, error) {
	return s.queryPlanned(ctx, "list planned",
		`SELECT `+plannedColumns+` FROM planned_workouts ORDER BY date, id`)
}

func (s *Store) queryPlanned(ctx context.Context, op, q string, args ...any) ([]model.PlannedWorkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, store.Unavailable(op, err)
	}
	defer rows.Close()

	var out []model.PlannedWorkout
	for rows.Next() {
		p, err := scanPlanned(rows)
		if errors.Is(err, model.ErrMalformed) {
			appLog.Warn("skipping undecodable planned row", "op", op, "reason", err.Error())
			continue
		}
		if err != nil {
			return nil, store.Unavailable(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable(op, err)
	}
	return out, nil
}

const upsertPlanned = `INSERT INTO planned_workouts (` + plannedColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	date = excluded.date,
	workout_type = excluded.workout_type,
	details = excluded.details,
	notes = excluded.notes,
	planned_duration_minutes = excluded.planned_duration_minutes,
	planned_distance_miles = excluded.planned_distance_miles,
	start_time = excluded.start_time`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execUpsertPlanned(ctx context.Context, ex execer, p model.PlannedWorkout) error {
	r := store.PlannedRowOf(p)
	_, err := ex.ExecContext(ctx, upsertPlanned, r.ID, r.Date, r.WorkoutType, r.Details, r.Notes,
		r.PlannedDurationMinutes, r.PlannedDistanceMiles, r.StartTime)
	return err
}

func (s *Store) UpsertPlanned(ctx context.Context, p model.PlannedWorkout) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := execUpsertPlanned(ctx, s.db, p); err != nil {
		return store.Unavailable("upsert planned", err)
	}
	return nil
}

func (s *Store) ReplacePlanned(ctx context.Context, ps []model.PlannedWorkout) error {
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable("replace planned", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM planned_workouts`); err != nil {
		_ = tx.Rollback()
		return store.Unavailable("replace planned", err)
	}
	for _, p := range ps {
		if err := execUpsertPlanned(ctx, tx, p); err != nil {
			_ = tx.Rollback()
			return store.Unavailable("replace planned", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Unavailable("replace planned", err)
	}
	return nil
}

func (s *Store) SetPlannedNotes(ctx context.Context, d model.Date, notes string) (int, error) {
	return s.updateOn(ctx, "set notes", `UPDATE planned_workouts SET notes = ? WHERE date = ?`, notes, d)
}

func (s *Store) SetPlannedDetails(ctx context.Context, d model.Date, details string) (int, error) {
	return s.updateOn(ctx, "set details", `UPDATE planned_workouts SET details = ? WHERE date = ?`, details, d)
}

func (s *Store) updateOn(ctx context.Context, op, q, value string, d model.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, q, value, d.String())
	if err != nil {
		return 0, store.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Unavailable(op, err)
	}
	if n == 0 {
		return 0, store.NotFound("planned workouts on", d.String())
	}
	return int(n), nil
}

func (s *Store) GetActivity(ctx context.Context, id string) (model.CompletedActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM completed_activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CompletedActivity{}, store.NotFound("activity", id)
	}
	if err != nil && !errors.Is(err, model.ErrMalformed) {
		return model.CompletedActivity{}, store.Unavailable("get activity", err)
	}
	return a, err
}

const upsertActivity = `INSERT INTO completed_activities (` + activityColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	planned_workout_id = excluded.planned_workout_id,
	date = excluded.date,
	activity_type = excluded.activity_type,
	distance_miles = excluded.distance_miles,
	duration_minutes = excluded.duration_minutes,
	avg_pace = excluded.avg_pace,
	avg_hr = excluded.avg_hr,
	max_hr = excluded.max_hr,
	elevation_gain_ft = excluded.elevation_gain_ft,
	avg_temp_f = excluded.avg_temp_f,
	source_url = excluded.source_url,
	source = excluded.source,
	start_time = excluded.start_time,
	synced_at = excluded.synced_at`

func (s *Store) UpsertActivity(ctx context.Context, a model.CompletedActivity) error {
	r := store.ActivityRowOf(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, upsertActivity, r.ID, r.PlannedWorkoutID, r.Date, r.ActivityType,
		r.DistanceMiles, r.DurationMinutes, r.AvgPace, r.AvgHR, r.MaxHR, r.ElevationGainFt, r.AvgTempF,
		r.SourceURL, r.Source, r.StartTime, r.SyncedAt)
	if err != nil {
		return store.Unavailable("upsert activity", err)
	}
	return nil
}

func (s *Store) LinkActivity(ctx context.Context, id string, plannedID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE completed_activities SET planned_workout_id = ? WHERE id = ?`, plannedID, id)
	if err != nil {
		return store.Unavailable("link activity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Unavailable("link activity", err)
	}
	if n == 0 {
		return store.NotFound("activity", id)
	}
	return nil
}

func (s *Store) ListActivities(ctx context.Context) ([]model.CompletedActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+activityColumns+` FROM completed_activities ORDER BY date, id`)
	if err != nil {
		return nil, store.Unavailable("list activities", err)
	}
	defer rows.Close()

	var out []model.CompletedActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if errors.Is(err, model.ErrMalformed) {
			appLog.Warn("skipping undecodable activity row", "reason", err.Error())
			continue
		}
		if err != nil {
			return nil, store.Unavailable("list activities", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list activities", err)
	}
	return out, nil
}
