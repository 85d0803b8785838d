package strava

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traincal/internal/config"
)

const activityJSON = `{
  "id": 17017838489,
  "type": "Run",
  "start_date": "2026-01-13T12:00:00Z",
  "start_date_local": "2026-01-13T07:00:00Z",
  "distance": 4160.0,
  "moving_time": 2400,
  "elapsed_time": 2500,
  "average_heartrate": 149.4,
  "total_elevation_gain": 12.5
}`

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(config.StravaConfig{
		ClientID:     "42",
		ClientSecret: "secret",
		CallbackURL:  "https://example.com/exchange_token",
		TokenPath:    filepath.Join(t.TempDir(), ".strava-tokens.json"),
		BaseURL:      srv.URL,
	})
}

func writeToken(w http.ResponseWriter, t Tokens) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(t)
}

func TestFetchActivityWithValidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/activities/17017838489", r.URL.Path)
		assert.Equal(t, "Bearer live", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(activityJSON))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.SaveTokens(Tokens{AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix()}))

	rec, err := c.FetchActivity(context.Background(), 17017838489)
	require.NoError(t, err)
	assert.Equal(t, "17017838489", rec.ID)
	assert.Equal(t, "Run", rec.Type)
	assert.Equal(t, 7, rec.StartLocal.Hour())
	assert.Equal(t, "https://www.strava.com/activities/17017838489", rec.SourceURL)
	assert.Equal(t, "strava", rec.Source)
	require.NotNil(t, rec.AvgHeartRate)
	assert.Equal(t, 149.4, *rec.AvgHeartRate)
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	var refreshed bool
	expiresAt := time.Now().Add(6 * time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		refreshed = true
		writeToken(w, Tokens{AccessToken: "new", RefreshToken: "new-refresh", ExpiresAt: expiresAt})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	// Expires in 30s, inside the refresh margin.
	require.NoError(t, c.SaveTokens(Tokens{AccessToken: "old", RefreshToken: "old-refresh", ExpiresAt: time.Now().Add(30 * time.Second).Unix()}))

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "new", tok)

	stored, err := c.LoadTokens()
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", stored.RefreshToken)
	assert.Equal(t, expiresAt, stored.ExpiresAt)
}

func TestAccessTokenRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad Request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.SaveTokens(Tokens{AccessToken: "old", RefreshToken: "r", ExpiresAt: 1}))

	_, err := c.AccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestMissingTokenFile(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(t, srv).AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoTokens)
}

func TestExchangeToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "abc", r.PostForm.Get("code"))
		assert.Equal(t, "https://example.com/exchange_token", r.PostForm.Get("redirect_uri"))
		writeToken(w, Tokens{AccessToken: "a", RefreshToken: "b", ExpiresAt: 99})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	tok, err := c.ExchangeToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)

	stored, err := c.LoadTokens()
	require.NoError(t, err)
	assert.Equal(t, tok, stored)

	_, err = c.ExchangeToken(context.Background(), " ")
	assert.Error(t, err)
}

func TestValidTokenIsNotRefreshed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	want := Tokens{AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	require.NoError(t, c.SaveTokens(want))

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", tok)

	stored, err := c.LoadTokens()
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}

func TestGetActivityKeepsPolylineAndPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":7,"name":"Lunch Run","type":"Run","start_date_local":"2026-01-13T12:05:00Z","distance":1609.34,"calories":310,"map":{"summary_polyline":"_p~iF~ps|U_ulLnnqC"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.SaveTokens(Tokens{AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix()}))

	a, err := c.GetActivity(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, "Lunch Run", a.Name)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC", a.Map.SummaryPolyline)
	require.NotNil(t, a.Calories)
	assert.Nil(t, a.AverageHeartrate)

	rec, err := a.Record()
	require.NoError(t, err)
	assert.Equal(t, "7", rec.ID)
	assert.Equal(t, 12, rec.StartLocal.Hour())
}

func TestListActivities(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/athlete/activities", r.URL.Path)
		assert.Equal(t, "Bearer live", r.Header.Get("Authorization"))
		assert.Equal(t, "200", r.URL.Query().Get("per_page"))
		assert.Equal(t, "1767225600", r.URL.Query().Get("after"))
		_, _ = w.Write([]byte(`[{"id":2,"type":"Ride"},{"id":"bad"},{"id":1,"type":"Run"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.SaveTokens(Tokens{AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix()}))

	got, err := c.ListActivities(context.Background(), 500, after)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)

	none, err := c.ListActivities(context.Background(), 0, after)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListActivitiesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.SaveTokens(Tokens{AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix()}))

	_, err := c.ListActivities(context.Background(), 1, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestToRecordKeepsExplicitSource(t *testing.T) {
	rec, err := ToRecord([]byte(`{"id":"9","type":"Ride","start_date_local":"2026-01-13T07:00:00","source":"garmin","source_url":"https://connect.example/9"}`))
	require.NoError(t, err)
	assert.Equal(t, "garmin", rec.Source)
	assert.Equal(t, "https://connect.example/9", rec.SourceURL)
}

func TestEventWantsSync(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"object_type":"activity","object_id":1,"aspect_type":"create"}`, true},
		{`{"object_type":"activity","object_id":1,"aspect_type":"update","updates":{"title":"x"}}`, true},
		{`{"object_type":"activity","object_id":1,"aspect_type":"delete"}`, false},
		{`{"object_type":"athlete","object_id":1,"aspect_type":"update"}`, false},
		{`{"object_type":"activity","aspect_type":"create"}`, false},
	}
	for _, tt := range tests {
		e, err := ParseEvent([]byte(tt.body))
		require.NoError(t, err)
		assert.Equal(t, tt.want, e.WantsSync(), tt.body)
	}

	_, err := ParseEvent([]byte("not json"))
	assert.Error(t, err)
}
