package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traincal/internal/match"
	"traincal/internal/model"
	"traincal/internal/store"
	"traincal/internal/store/memory"
)

type countingPublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingPublisher) Regenerate(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func day(s string) model.Date {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fp(v float64) *float64 { return &v }

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func runRecord(id string) model.ActivityRecord {
	return model.ActivityRecord{
		ID:             id,
		StartLocal:     time.Date(2026, 1, 13, 7, 0, 0, 0, time.UTC),
		Type:           "Run",
		DistanceMeters: 4160,
		MovingSeconds:  2400,
		Source:         "strava",
	}
}

func newService(t *testing.T, s store.Store, pub Publisher) *Service {
	t.Helper()
	m := match.New(s, match.DefaultRules(match.Options{
		BootcampPrefix:        "Burn Bootcamp",
		BootcampActivityTypes: []string{"WeightTraining", "Workout", "Crossfit"},
	}))
	svc := NewService(s, m, pub, newYork(t))
	svc.now = func() time.Time { return time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC) }
	return svc
}

func seedRun(t *testing.T, s store.Store) {
	t.Helper()
	require.NoError(t, s.UpsertPlanned(context.Background(), model.PlannedWorkout{
		ID: "2026-01-13-run", Date: day("2026-01-13"), WorkoutType: "Run", PlannedDistanceMiles: fp(4),
	}))
}

func TestNormalize(t *testing.T) {
	rec := runRecord("1")
	rec.AvgHeartRate = fp(149.4)
	rec.MaxHeartRate = fp(164)
	rec.ElevationGainMeters = 148.1
	rec.AvgTempCelsius = fp(22)
	rec.StartLocal = time.Date(2026, 1, 13, 23, 30, 0, 0, time.FixedZone("", -5*3600))

	a, err := Normalize(rec, nil, time.Date(2026, 1, 14, 4, 31, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-01-13", a.Date.String(), "date comes from the local wall clock")
	require.NotNil(t, a.StartTime)
	assert.Equal(t, "23:30:00", a.StartTime.String())
	assert.Equal(t, 2.58, *a.DistanceMiles)
	assert.Equal(t, 40.0, *a.DurationMinutes)
	assert.Equal(t, "15:28 min/mi", a.AvgPace)
	assert.Equal(t, 149, *a.AvgHR)
	assert.Equal(t, 164, *a.MaxHR)
	assert.Equal(t, 486, *a.ElevationGainFt)
	assert.Equal(t, 71.6, *a.AvgTempF)
	assert.Equal(t, "strava", a.Source)
}

func TestNormalizeSparseRecord(t *testing.T) {
	rec := model.ActivityRecord{ID: "2", StartLocal: time.Date(2026, 1, 13, 18, 0, 0, 0, time.UTC), Type: "WeightTraining", ElapsedSeconds: 2700}
	a, err := Normalize(rec, nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, a.DistanceMiles)
	assert.Equal(t, "", a.AvgPace)
	assert.Equal(t, 45.0, *a.DurationMinutes)
	assert.Nil(t, a.AvgHR)
	assert.Nil(t, a.ElevationGainFt)
	assert.Equal(t, SourceManual, a.Source)

	_, err = Normalize(model.ActivityRecord{ID: "3", Type: "Run"}, nil, time.Now())
	assert.ErrorIs(t, err, model.ErrMalformed)
}

func TestNormalizeAbsoluteStartUsesZone(t *testing.T) {
	rec := model.ActivityRecord{ID: "4", Type: "Run", StartUTC: time.Date(2026, 1, 14, 1, 15, 0, 0, time.UTC)}
	a, err := Normalize(rec, newYork(t), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "2026-01-13", a.Date.String())
	assert.Equal(t, "20:15:00", a.StartTime.String())
}

func TestSyncMatchesAndRegenerates(t *testing.T) {
	s := memory.New()
	seedRun(t, s)
	pub := &countingPublisher{}
	svc := newService(t, s, pub)

	res, err := svc.Sync(context.Background(), runRecord("17017838489"))
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, "2026-01-13-run", *res.PlannedID)
	assert.Equal(t, "exact", res.Rule)
	assert.Equal(t, 1, pub.count())

	stored, err := s.GetActivity(context.Background(), "17017838489")
	require.NoError(t, err)
	require.NotNil(t, stored.PlannedWorkoutID)
	assert.Equal(t, "2026-01-13-run", *stored.PlannedWorkoutID)
	assert.Equal(t, time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC), stored.SyncedAt)
}

func TestSyncUnmatched(t *testing.T) {
	s := memory.New()
	svc := newService(t, s, nil)

	rec := runRecord("5")
	rec.Type = "Ride"
	res, err := svc.Sync(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, res.Matched())

	stored, err := s.GetActivity(context.Background(), "5")
	require.NoError(t, err)
	assert.Nil(t, stored.PlannedWorkoutID)
}

func TestResyncUpdatesInPlace(t *testing.T) {
	s := memory.New()
	seedRun(t, s)
	svc := newService(t, s, nil)

	_, err := svc.Sync(context.Background(), runRecord("1"))
	require.NoError(t, err)
	rec := runRecord("1")
	rec.DistanceMeters = 8160.7
	_, err = svc.Sync(context.Background(), rec)
	require.NoError(t, err)

	all, err := s.ListActivities(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 5.07, *all[0].DistanceMiles)
}

func TestSyncMalformedWritesNothing(t *testing.T) {
	s := memory.New()
	pub := &countingPublisher{}
	svc := newService(t, s, pub)

	_, err := svc.Sync(context.Background(), model.ActivityRecord{ID: "x"})
	assert.ErrorIs(t, err, model.ErrMalformed)
	assert.Equal(t, 0, pub.count())
	all, err := s.ListActivities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSyncRegenerationFailureIsNotFatal(t *testing.T) {
	s := memory.New()
	pub := &countingPublisher{err: errors.New("read-only filesystem")}
	svc := newService(t, s, pub)

	_, err := svc.Sync(context.Background(), runRecord("1"))
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count())
}

type downStore struct {
	*memory.Store
}

func (downStore) PlannedOn(context.Context, model.Date) ([]model.PlannedWorkout, error) {
	return nil, store.Unavailable("planned on", errors.New("database is locked"))
}

func TestSyncStoreUnavailable(t *testing.T) {
	ds := downStore{Store: memory.New()}
	pub := &countingPublisher{}
	svc := newService(t, ds, pub)

	_, err := svc.Sync(context.Background(), runRecord("1"))
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, 0, pub.count())
	_, err = ds.GetActivity(context.Background(), "1")
	assert.ErrorIs(t, err, store.ErrNotFound, "no partial write")
}

func TestSyncAllSkipsMalformed(t *testing.T) {
	s := memory.New()
	seedRun(t, s)
	pub := &countingPublisher{}
	svc := newService(t, s, pub)

	recs := []model.ActivityRecord{runRecord("1"), {ID: "broken"}, runRecord("2")}
	out, err := svc.SyncAll(context.Background(), recs)
	require.NoError(t, err)
	assert.Len(t, out.Synced, 2)
	require.Len(t, out.Skipped, 1)
	assert.ErrorIs(t, out.Skipped[0], model.ErrMalformed)
	assert.Equal(t, 1, pub.count(), "one regeneration per batch")
}

func TestSyncAllStopsOnStoreFailure(t *testing.T) {
	svc := newService(t, downStore{Store: memory.New()}, nil)
	out, err := svc.SyncAll(context.Background(), []model.ActivityRecord{runRecord("1"), runRecord("2")})
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Empty(t, out.Synced)
}

func TestConcurrentSyncs(t *testing.T) {
	s := memory.New()
	seedRun(t, s)
	svc := newService(t, s, &countingPublisher{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Sync(context.Background(), runRecord(fmt.Sprintf("a%02d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.ListActivities(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 16)
	for _, a := range all {
		require.NotNil(t, a.PlannedWorkoutID)
	}
}

func TestRematchInsideExclusive(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedRun(t, s)
	pub := &countingPublisher{}
	svc := newService(t, s, pub)
	_, err := svc.Sync(ctx, runRecord("1"))
	require.NoError(t, err)

	var matched, unmatched int
	err = svc.Exclusive(ctx, true, func(ctx context.Context) error {
		if err := s.ReplacePlanned(ctx, nil); err != nil {
			return err
		}
		var err error
		matched, unmatched, err = svc.Rematch(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, matched)
	assert.Equal(t, 1, unmatched)
	assert.Equal(t, 2, pub.count())

	stored, err := s.GetActivity(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, stored.PlannedWorkoutID)
}

func TestExclusiveErrorSkipsPublish(t *testing.T) {
	pub := &countingPublisher{}
	svc := newService(t, memory.New(), pub)
	err := svc.Exclusive(context.Background(), true, func(context.Context) error { return errors.New("nope") })
	require.Error(t, err)
	assert.Equal(t, 0, pub.count())
}
