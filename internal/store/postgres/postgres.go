// Package postgres is a Store backend on a pgx connection pool, for
// deployments that share a managed database.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appLog "traincal/internal/log"
	"traincal/internal/model"
	"traincal/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS planned_workouts (
	id                       TEXT PRIMARY KEY,
	date                     TEXT NOT NULL,
	workout_type             TEXT NOT NULL,
	details                  TEXT NOT NULL DEFAULT '',
	notes                    TEXT NOT NULL DEFAULT '',
	planned_duration_minutes INTEGER,
	planned_distance_miles   DOUBLE PRECISION,
	start_time               TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_planned_date ON planned_workouts(date);

CREATE TABLE IF NOT EXISTS completed_activities (
	id                 TEXT PRIMARY KEY,
	planned_workout_id TEXT,
	date               TEXT NOT NULL,
	activity_type      TEXT NOT NULL,
	distance_miles     DOUBLE PRECISION,
	duration_minutes   DOUBLE PRECISION,
	avg_pace           TEXT NOT NULL DEFAULT '',
	avg_hr             INTEGER,
	max_hr             INTEGER,
	elevation_gain_ft  INTEGER,
	avg_temp_f         DOUBLE PRECISION,
	source_url         TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL DEFAULT '',
	start_time         TEXT,
	synced_at          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_activities_date ON completed_activities(date);
CREATE INDEX IF NOT EXISTS idx_activities_planned ON completed_activities(planned_workout_id);
`

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, pings, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, store.Unavailable("postgres config", err)
	}
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, store.Unavailable("postgres connect", err)
	}
	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, store.Unavailable("postgres migrate", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return store.Unavailable("postgres ping", err)
	}
	return nil
}

const plannedColumns = `id, date, workout_type, details, notes, planned_duration_minutes, planned_distance_miles, start_time`

const activityColumns = `id, planned_workout_id, date, activity_type, distance_miles, duration_minutes, avg_pace,
	avg_hr, max_hr, elevation_gain_ft, avg_temp_f, source_url, source, start_time, synced_at`

func scanPlanned(row pgx.Row) (model.PlannedWorkout, error) {
	var r store.PlannedRow
	if err := row.Scan(&r.ID, &r.Date, &r.WorkoutType, &r.Details, &r.Notes,
		&r.PlannedDurationMinutes, &r.PlannedDistanceMiles, &r.StartTime); err != nil {
		return model.PlannedWorkout{}, err
	}
	return r.Model()
}

func scanActivity(row pgx.Row) (model.CompletedActivity, error) {
	var r store.ActivityRow
	if err := row.Scan(&r.ID, &r.PlannedWorkoutID, &r.Date, &r.ActivityType, &r.DistanceMiles,
		&r.DurationMinutes, &r.AvgPace, &r.AvgHR, &r.MaxHR, &r.ElevationGainFt, &r.AvgTempF,
		&r.SourceURL, &r.Source, &r.StartTime, &r.SyncedAt); err != nil {
		return model.CompletedActivity{}, err
	}
	return r.Model()
}

func (s *Store) GetPlanned(ctx context.Context, id string) (model.PlannedWorkout, error) {
	p, err := scanPlanned(s.pool.QueryRow(ctx, `SELECT `+plannedColumns+` FROM planned_workouts WHERE id = $1`, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.PlannedWorkout{}, store.NotFound("planned workout", id)
	case err != nil && !errors.Is(err, model.ErrMalformed):
		return model.PlannedWorkout{}, store.Unavailable("get planned", err)
	}
	return p, err
}

func (s *Store) PlannedOn(ctx context.Context, d model.Date) ([]model.PlannedWorkout, error) {
	return s.queryPlanned(ctx, "planned on",
		`SELECT `+plannedColumns+` FROM planned_workouts WHERE date = $1 ORDER BY id`, d.String())
}

func (s *Store) PlannedBetween(ctx context.Context, from, to model.Date) ([]model.PlannedWorkout, error) {
	return s.queryPlanned(ctx, "planned between",
		`SELECT `+plannedColumns+` FROM planned_workouts WHERE date >= $1 AND date < $2 ORDER BY date, id`,
		from.String(), to.String())
}

func (s *Store) ListPlanned(ctx context.Context) ([]model.PlannedWorkout, error) {
	return s.queryPlanned(ctx, "list planned", `SELECT `+plannedColumns+` FROM planned_workouts ORDER BY date, id`)
}

func (s *Store) queryPlanned(ctx context.Context, op, q string, args ...any) ([]model.PlannedWorkout, error) {
	rows, err := s.pool.Query(ctx, q, args...)
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	date = EXCLUDED.date,
	workout_type = EXCLUDED.workout_type,
	details = EXCLUDED.details,
	notes = EXCLUDED.notes,
	planned_duration_minutes = EXCLUDED.planned_duration_minutes,
	planned_distance_miles = EXCLUDED.planned_distance_miles,
	start_time = EXCLUDED.start_time`

func plannedArgs(p model.PlannedWorkout) []any {
	r := store.PlannedRowOf(p)
	return []any{r.ID, r.Date, r.WorkoutType, r.Details, r.Notes, r.PlannedDurationMinutes, r.PlannedDistanceMiles, r.StartTime}
}

func (s *Store) UpsertPlanned(ctx context.Context, p model.PlannedWorkout) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertPlanned, plannedArgs(p)...); err != nil {
		return store.Unavailable("upsert planned", err)
	}
	return nil
}

func (s *Store) ReplacePlanned(ctx context.Context, ps []model.PlannedWorkout) (err error) {
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.Unavailable("replace planned", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM planned_workouts`); err != nil {
		return store.Unavailable("replace planned", err)
	}
	for _, p := range ps {
		if _, err = tx.Exec(ctx, upsertPlanned, plannedArgs(p)...); err != nil {
			return store.Unavailable("replace planned", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return store.Unavailable("replace planned", err)
	}
	return nil
}

func (s *Store) SetPlannedNotes(ctx context.Context, d model.Date, notes string) (int, error) {
	return s.updateOn(ctx, "set notes", `UPDATE planned_workouts SET notes = $1 WHERE date = $2`, notes, d)
}

func (s *Store) SetPlannedDetails(ctx context.Context, d model.Date, details string) (int, error) {
	return s.updateOn(ctx, "set details", `UPDATE planned_workouts SET details = $1 WHERE date = $2`, details, d)
}

func (s *Store) updateOn(ctx context.Context, op, q, value string, d model.Date) (int, error) {
	tag, err := s.pool.Exec(ctx, q, value, d.String())
	if err != nil {
		return 0, store.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, store.NotFound("planned workouts on", d.String())
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetActivity(ctx context.Context, id string) (model.CompletedActivity, error) {
	a, err := scanActivity(s.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM completed_activities WHERE id = $1`, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.CompletedActivity{}, store.NotFound("activity", id)
	case err != nil && !errors.Is(err, model.ErrMalformed):
		return model.CompletedActivity{}, store.Unavailable("get activity", err)
	}
	return a, err
}

const upsertActivity = `INSERT INTO completed_activities (` + activityColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	planned_workout_id = EXCLUDED.planned_workout_id,
	date = EXCLUDED.date,
	activity_type = EXCLUDED.activity_type,
	distance_miles = EXCLUDED.distance_miles,
	duration_minutes = EXCLUDED.duration_minutes,
	avg_pace = EXCLUDED.avg_pace,
	avg_hr = EXCLUDED.avg_hr,
	max_hr = EXCLUDED.max_hr,
	elevation_gain_ft = EXCLUDED.elevation_gain_ft,
	avg_temp_f = EXCLUDED.avg_temp_f,
	source_url = EXCLUDED.source_url,
	source = EXCLUDED.source,
	start_time = EXCLUDED.start_time,
	synced_at = EXCLUDED.synced_at`

func (s *Store) UpsertActivity(ctx context.Context, a model.CompletedActivity) error {
	r := store.ActivityRowOf(a)
	_, err := s.pool.Exec(ctx, upsertActivity, r.ID, r.PlannedWorkoutID, r.Date, r.ActivityType,
		r.DistanceMiles, r.DurationMinutes, r.AvgPace, r.AvgHR, r.MaxHR, r.ElevationGainFt, r.AvgTempF,
		r.SourceURL, r.Source, r.StartTime, r.SyncedAt)
	if err != nil {
		return store.Unavailable("upsert activity", err)
	}
	return nil
}

func (s *Store) LinkActivity(ctx context.Context, id string, plannedID *string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE completed_activities SET planned_workout_id = $1 WHERE id = $2`, plannedID, id)
	if err != nil {
		return store.Unavailable("link activity", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound("activity", id)
	}
	return nil
}

func (s *Store) ListActivities(ctx context.Context) ([]model.CompletedActivity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+activityColumns+` FROM completed_activities ORDER BY date, id`)
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
