package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traincal/internal/model"
	"traincal/internal/store"
	"traincal/internal/store/storetest"
)

// Set TRAINCAL_TEST_POSTGRES_URL to a disposable database to run these.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TRAINCAL_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TRAINCAL_TEST_POSTGRES_URL not set")
	}
	return dsn
}

func openEmpty(t *testing.T, dsn string) *Store {
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE planned_workouts, completed_activities`)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	dsn := testDSN(t)
	storetest.Run(t, func(t *testing.T) store.Store { return openEmpty(t, dsn) })
}

func TestUndecodableRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	s := openEmpty(t, testDSN(t))
	defer s.Close()

	d, _ := model.ParseDate("2026-01-14")
	require.NoError(t, s.UpsertActivity(ctx, model.CompletedActivity{ID: "ride-1", Date: d, ActivityType: "Ride"}))
	_, err := s.pool.Exec(ctx, `INSERT INTO completed_activities (id, date, activity_type) VALUES ('bad', '01/14/2026', 'Run')`)
	require.NoError(t, err)

	acts, err := s.ListActivities(ctx)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "ride-1", acts[0].ID)
}

func TestOpenBadDSNIsUnavailable(t *testing.T) {
	_, err := Open(context.Background(), "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	require.ErrorIs(t, err, store.ErrUnavailable)
}
