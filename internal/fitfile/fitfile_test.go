package fitfile

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"

	"traincal/internal/model"
)

func runSession(start time.Time) *fit.SessionMsg {
	s := fit.NewSessionMsg()
	s.Timestamp = start.Add(42 * time.Minute)
	s.StartTime = start
	s.Sport = fit.SportRunning
	s.TotalDistance = 416000
	s.TotalTimerTime = 2400000
	s.TotalElapsedTime = 2520000
	s.AvgHeartRate = 149
	s.MaxHeartRate = 164
	s.TotalAscent = 12
	return s
}

func TestFromActivityUsesDeviceOffset(t *testing.T) {
	start := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	msg := fit.NewActivityMsg()
	msg.Timestamp = start.Add(45 * time.Minute)
	msg.LocalTimestamp = start.Add(45*time.Minute - 5*time.Hour)

	rec, err := FromActivity(&fit.ActivityFile{Activity: msg, Sessions: []*fit.SessionMsg{runSession(start)}}, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, "fit-1768305600", rec.ID)
	assert.Equal(t, "Run", rec.Type)
	assert.Equal(t, "2026-01-13T07:00:00", rec.StartLocal.Format("2006-01-02T15:04:05"))
	assert.InDelta(t, 4160.0, rec.DistanceMeters, 0.001)
	assert.InDelta(t, 2400.0, rec.MovingSeconds, 0.001, "timer time stands in for moving time")
	assert.InDelta(t, 2520.0, rec.ElapsedSeconds, 0.001)
	assert.Equal(t, 12.0, rec.ElevationGainMeters)
	require.NotNil(t, rec.AvgHeartRate)
	assert.Equal(t, 149.0, *rec.AvgHeartRate)
	assert.Equal(t, 164.0, *rec.MaxHeartRate)
	assert.Nil(t, rec.AvgTempCelsius)
	assert.Equal(t, Source, rec.Source)
	assert.NoError(t, rec.Validate())
}

func TestFromActivityFallsBackToLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2026, 7, 4, 11, 30, 0, 0, time.UTC)

	s := runSession(start)
	s.AvgHeartRate = 0xFF
	s.AvgTemperature = 24
	rec, err := FromActivity(&fit.ActivityFile{Sessions: []*fit.SessionMsg{s}}, ny)
	require.NoError(t, err)

	assert.Equal(t, "2026-07-04T07:30:00", rec.StartLocal.Format("2006-01-02T15:04:05"))
	assert.Nil(t, rec.AvgHeartRate)
	require.NotNil(t, rec.AvgTempCelsius)
	assert.Equal(t, 24.0, *rec.AvgTempCelsius)
}

func TestFromActivityErrors(t *testing.T) {
	_, err := FromActivity(&fit.ActivityFile{}, time.UTC)
	assert.Error(t, err)

	_, err = FromActivity(&fit.ActivityFile{Sessions: []*fit.SessionMsg{fit.NewSessionMsg()}}, time.UTC)
	assert.ErrorIs(t, err, model.ErrMalformed)
}

func TestActivityType(t *testing.T) {
	tests := []struct {
		sport fit.Sport
		sub   fit.SubSport
		want  string
	}{
		{fit.SportRunning, fit.SubSportGeneric, "Run"},
		{fit.SportRunning, fit.SubSportTrail, "TrailRun"},
		{fit.SportCycling, fit.SubSportGeneric, "Ride"},
		{fit.SportTraining, fit.SubSportStrengthTraining, "WeightTraining"},
		{fit.SportTraining, fit.SubSportGeneric, "Workout"},
		{fit.SportGeneric, fit.SubSportGeneric, "Workout"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, activityType(tt.sport, tt.sub))
	}
}

func TestDecodeEncodedFile(t *testing.T) {
	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	require.NoError(t, err)
	activity, err := file.Activity()
	require.NoError(t, err)

	start := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	activity.Sessions = append(activity.Sessions, runSession(start))

	var buf bytes.Buffer
	require.NoError(t, fit.Encode(&buf, file, binary.LittleEndian))

	rec, err := Decode(&buf, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "fit-1768305600", rec.ID)
	assert.Equal(t, "Run", rec.Type)
	assert.Equal(t, 12, rec.StartLocal.Hour())
	assert.InDelta(t, 4160.0, rec.DistanceMeters, 0.001)
}
