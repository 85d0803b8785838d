package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"traincal/internal/config"
	appLog "traincal/internal/log"
)

const usage = `Usage: traincal [-config path] <command> [args]

Commands:
  serve                      serve the feed and the tracker webhook
  generate                   regenerate the .ics document
  import <csv>               insert or replace planned workouts from a plan CSV
  reimport <csv>             replace the plan and re-match every activity
  sync <json|->              ingest activity records from a file or stdin
  sync-strava <activity-id>  fetch one activity from Strava, ingest and export it
  sync-recent [n] [-days d]  ingest and export the n most recent Strava activities
  ingest-fit <file.fit>      ingest a FIT activity file
  note <date> <text>         set the notes of the workouts on a date
  title <date> <text>        set the details of the workouts on a date
  list [days] [-start date]  list planned workouts (default 7 days from today)
`

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"serve":       runServe,
	"generate":    runGenerate,
	"import":      runImport,
	"reimport":    runReimport,
	"sync":        runSync,
	"sync-strava": runSyncStrava,
	"sync-recent": runSyncRecent,
	"ingest-fit":  runIngestFIT,
	"note":        runNote,
	"title":       runTitle,
	"list":        runList,
}

var errUsage = errors.New("usage")

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	name, args := flag.Arg(0), flag.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		flag.Usage()
		os.Exit(2)
	}

	conf, err := config.Load(configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, conf)
	if err != nil {
		appLog.Error("startup failed", err, "driver", conf.Store.Driver)
		os.Exit(1)
	}

	err = cmd(ctx, a, args)
	a.Close()
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}
