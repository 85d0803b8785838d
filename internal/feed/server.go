package feed

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"traincal/internal/activity"
	"traincal/internal/config"
	appLog "traincal/internal/log"
	"traincal/internal/metrics"
	"traincal/internal/model"
	"traincal/internal/strava"
)

// FeedPath is the canonical subscription path.
const FeedPath = "/training_calendar.ics"

// Syncer ingests one activity record.
type Syncer interface {
	Sync(ctx context.Context, rec model.ActivityRecord) (activity.Result, error)
}

// Tracker is the slice of the tracker API the server needs.
type Tracker interface {
	GetActivity(ctx context.Context, id int64) (strava.Activity, error)
	ExchangeToken(ctx context.Context, code string) (strava.Tokens, error)
}

// Exporter publishes newly created activities to an external records
// service.
type Exporter interface {
	Export(ctx context.Context, a strava.Activity) error
}

// Server serves the calendar feed, the tracker webhook, health and metrics.
type Server struct {
	cfg     *config.Config
	pub     *Publisher
	syncer   Syncer
	tracker  Tracker
	exporter Exporter
	mux      *http.ServeMux

	// webhook deliveries are processed after the response is sent.
	pending sync.WaitGroup
}

// NewServer constructs a new Server. tracker may be nil, in which case the
// webhook acknowledges deliveries without syncing. exporter may be nil to
// skip exporting created activities.
func NewServer(cfg *config.Config, pub *Publisher, syncer Syncer, tracker Tracker, exporter Exporter) *Server {
	s := &Server{
		cfg:      cfg,
		pub:      pub,
		syncer:   syncer,
		tracker:  tracker,
		exporter: exporter,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Wait blocks until in-flight webhook deliveries have been processed.
func (s *Server) Wait() { s.pending.Wait() }

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health and the webhook
// with HTTP Basic Auth. The tracker cannot send credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/strava-webhook" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="TrainCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully and drains pending webhook work.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "feed", FeedPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc(FeedPath, s.handleFeed)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/strava-webhook", s.handleWebhook)
	s.mux.HandleFunc("/exchange_token", s.handleExchangeToken)
	s.mux.Handle("/metrics", promhttp.Handler())

	// "/" serves the feed itself; every other unknown path is a 404.
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s.handleFeed(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleFeed serves the last generated document from disk.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := os.ReadFile(s.pub.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "Calendar file not found. Run generate first.", http.StatusNotFound)
			return
		}
		appLog.Error("feed read failed", err, "path", s.pub.Path())
		http.Error(w, "failed to read calendar", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/calendar; charset=utf-8")
	h.Set("Content-Disposition", "inline")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events     []eventDTO `json:"events"`
	RangeStart string     `json:"range_start"`
	RangeEnd   string     `json:"range_end"`
	AsOf       string     `json:"as_of"`
	Timezone   string     `json:"timezone"`
}

type eventDTO struct {
	UID         string     `json:"uid"`
	Kind        string     `json:"kind"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	AllDay      bool       `json:"all_day"`
	Date        string     `json:"date"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	PlannedID   string     `json:"planned_id,omitempty"`
	ActivityID  string     `json:"activity_id,omitempty"`
}

// handleEvents returns synthesized events within a window around today.
//
// GET /api/events?days=7&backfill=1
//   - days:     days ahead to include (default 7)
//   - backfill: past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days < 0 {
		days = 0
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	doc, err := s.pub.Build(r.Context())
	if err != nil {
		appLog.Error("events build failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build calendar")
		return
	}

	asOf := s.pub.Today()
	from := asOf.AddDays(-backfill)
	to := asOf.AddDays(days)
	loc := resolveLocationOrLocal(s.cfg.Timezone)

	resp := eventsResponse{
		Events:     make([]eventDTO, 0, len(doc.Events)),
		RangeStart: from.String(),
		RangeEnd:   to.String(),
		AsOf:       asOf.String(),
		Timezone:   loc.String(),
	}
	for _, e := range doc.Events {
		dto := eventDTO{
			UID:         e.UID,
			Kind:        e.Kind.String(),
			Summary:     e.Summary,
			Description: e.Description,
			AllDay:      e.AllDay,
			PlannedID:   e.PlannedID,
			ActivityID:  e.ActivityID,
		}
		day := e.StartDate
		if !e.AllDay {
			start, end := e.Start.In(loc), e.End.In(loc)
			dto.Start, dto.End = &start, &end
			day = model.DateOf(start)
		}
		if day.Before(from) || !day.Before(to) {
			continue
		}
		dto.Date = day.String()
		resp.Events = append(resp.Events, dto)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleWebhook implements the tracker push subscription: GET answers the
// subscription challenge, POST receives events.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		if want := s.cfg.Strava.VerifyToken; want != "" && !secureCompare(q.Get("hub.verify_token"), want) {
			appLog.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
			writeError(w, http.StatusForbidden, "verify token mismatch")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": q.Get("hub.challenge")})

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		ev, err := strava.ParseEvent(body)
		if err != nil {
			metrics.RecordWebhook("unknown", "unknown", "invalid")
			writeError(w, http.StatusBadRequest, "invalid event")
			return
		}
		appLog.Info("webhook event received", "object_type", ev.ObjectType, "aspect_type", ev.AspectType, "object_id", ev.ObjectID)

		if !ev.WantsSync() || s.tracker == nil || s.syncer == nil {
			metrics.RecordWebhook(ev.ObjectType, ev.AspectType, "ignored")
			w.WriteHeader(http.StatusOK)
			return
		}

		// The tracker expects an answer within two seconds; fetch and sync
		// after acknowledging.
		s.pending.Add(1)
		go func(ctx context.Context) {
			defer s.pending.Done()
			s.processEvent(ctx, ev)
		}(context.WithoutCancel(r.Context()))
		w.WriteHeader(http.StatusOK)

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) processEvent(ctx context.Context, ev strava.Event) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	a, err := s.tracker.GetActivity(ctx, ev.ObjectID)
	if err != nil {
		metrics.RecordWebhook(ev.ObjectType, ev.AspectType, "fetch_error")
		appLog.Error("webhook activity fetch failed", err, "object_id", ev.ObjectID)
		return
	}
	rec, err := a.Record()
	if err != nil {
		metrics.RecordWebhook(ev.ObjectType, ev.AspectType, "fetch_error")
		appLog.Error("webhook activity decode failed", err, "object_id", ev.ObjectID)
		return
	}
	res, err := s.syncer.Sync(ctx, rec)
	if err != nil {
		metrics.RecordWebhook(ev.ObjectType, ev.AspectType, "sync_error")
		appLog.Error("webhook activity sync failed", err, "object_id", ev.ObjectID)
		return
	}
	metrics.RecordWebhook(ev.ObjectType, ev.AspectType, "synced")
	appLog.Debug("webhook activity synced", "object_id", ev.ObjectID, "matched", res.Matched())

	// Updates would duplicate the record created for the original upload.
	if ev.AspectType == "create" && s.exporter != nil {
		_ = s.exporter.Export(ctx, a)
	}
}

// handleExchangeToken completes the OAuth authorization redirect.
func (s *Server) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "No code provided")
		return
	}
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker client not configured")
		return
	}
	tokens, err := s.tracker.ExchangeToken(r.Context(), code)
	if err != nil {
		appLog.Error("token exchange failed", err)
		writeError(w, http.StatusBadRequest, "Token exchange failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "expires_at": tokens.ExpiresAt})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// resolveLocationOrLocal returns the given IANA location or time.Local when
// the name is empty or invalid.
func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("invalid timezone, falling back to local", err, "timezone", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
