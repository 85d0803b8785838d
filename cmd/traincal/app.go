package main

import (
	"context"
	"fmt"
	"time"

	"traincal/internal/activity"
	"traincal/internal/calendar"
	"traincal/internal/config"
	"traincal/internal/feed"
	"traincal/internal/fulcrum"
	appLog "traincal/internal/log"
	"traincal/internal/match"
	"traincal/internal/model"
	"traincal/internal/plan"
	"traincal/internal/store"
	"traincal/internal/store/memory"
	"traincal/internal/store/postgres"
	"traincal/internal/store/sqlite"
	"traincal/internal/strava"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	store    store.Store
	svc      *activity.Service
	importer *plan.Importer
	pub      *feed.Publisher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	start, err := model.ParseTimeOfDay(cfg.Calendar.DefaultStartTime)
	if err != nil {
		appLog.Warn("invalid default_start_time, using 06:30:00", "value", cfg.Calendar.DefaultStartTime)
		start = model.TimeOfDay{Hour: 6, Minute: 30}
	}
	synth := calendar.NewSynthesizer(s, calendar.Options{
		Location:         loc,
		DefaultStartTime: start,
		DefaultDuration:  time.Duration(cfg.Calendar.DefaultDurationMinutes) * time.Minute,
		Name:             cfg.Calendar.Name,
		Description:      cfg.Calendar.Description,
		UIDDomain:        cfg.Calendar.UIDDomain,
	})
	pub := feed.NewPublisher(synth, loc, cfg.Calendar.OutputPath)

	matcher := match.New(s, match.DefaultRules(match.Options{
		BootcampPrefix:        cfg.Matching.BootcampPrefix,
		BootcampActivityTypes: cfg.Matching.BootcampActivityTypes,
	}))
	svc := activity.NewService(s, matcher, pub, loc)

	return &app{
		cfg:      cfg,
		loc:      loc,
		store:    s,
		svc:      svc,
		importer: plan.NewImporter(s, svc),
		pub:      pub,
	}, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, sc.Path)
		if err != nil {
			return nil, err
		}
		appLog.Info("store opened", "driver", "sqlite", "path", sc.Path)
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		appLog.Info("store opened", "driver", "postgres")
		return s, nil
	case "memory":
		appLog.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

// backupPath is the database file re-imports snapshot, if any.
func (a *app) backupPath() string {
	if a.cfg.Store.Driver == "sqlite" {
		return a.cfg.Store.Path
	}
	return ""
}

func (a *app) stravaClient() *strava.Client {
	return strava.NewClient(a.cfg.Strava)
}

// exporter returns the configured record exporter, or nil when export is
// off.
func (a *app) exporter() feed.Exporter {
	if !a.cfg.Fulcrum.Enabled() {
		return nil
	}
	return fulcrum.NewExporter(a.cfg.Fulcrum)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Error("store close failed", err)
	}
}
