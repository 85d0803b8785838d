package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"traincal/internal/activity"
	"traincal/internal/feed"
	"traincal/internal/fitfile"
	appLog "traincal/internal/log"
	"traincal/internal/model"
	"traincal/internal/plan"
	"traincal/internal/schedule"
)

// parseArgs parses flags that may appear before or after positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return pos, nil
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "", "HTTP listen address (overrides config if set)")
	if _, err := parseArgs(fs, args); err != nil {
		return errUsage
	}
	if *listen != "" {
		a.cfg.Listen = *listen
	}

	appLog.Info("effective config",
		"listen", a.cfg.Listen,
		"timezone", a.cfg.Timezone,
		"driver", a.cfg.Store.Driver,
		"output", a.cfg.Calendar.OutputPath,
		"refresh", a.cfg.Calendar.Refresh,
		"strava", a.cfg.Strava.ClientID != "",
	)

	if err := a.svc.Regenerate(ctx); err != nil {
		appLog.Error("initial regeneration failed", err)
	}

	sched, err := schedule.New(a.cfg.Calendar.Refresh, a.loc, a.svc.Regenerate)
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	var tracker feed.Tracker
	if a.cfg.Strava.ClientID != "" {
		tracker = a.stravaClient()
	} else {
		appLog.Warn("strava client_id not set; webhook events will be acknowledged but not synced")
	}
	exp := a.exporter()
	if exp != nil {
		appLog.Info("fulcrum export enabled", "form_id", a.cfg.Fulcrum.FormID)
	}
	srv := feed.NewServer(a.cfg, a.pub, a.svc, tracker, exp)
	return srv.ListenAndServe(ctx)
}

func runGenerate(ctx context.Context, a *app, _ []string) error {
	if err := a.svc.Regenerate(ctx); err != nil {
		return err
	}
	fmt.Printf("✓ Calendar written to %s\n", a.pub.Path())
	return nil
}

func readPlan(path string, year int) ([]model.PlannedWorkout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("CSV file not found: %w", err)
	}
	defer f.Close()

	res, err := plan.ParseCSV(f, year)
	if err != nil {
		return nil, err
	}
	for _, rej := range res.Rejected {
		fmt.Fprintf(os.Stderr, "⚠ skipped %v\n", rej)
	}
	return res.Workouts, nil
}

func runImport(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	ps, err := readPlan(args[0], a.cfg.Plan.Year)
	if err != nil {
		return err
	}
	n, err := a.importer.Import(ctx, ps)
	if err != nil {
		return err
	}
	all, err := a.store.ListPlanned(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Imported %d rows\n", n)
	fmt.Printf("✓ Total planned workouts in database: %d\n", len(all))
	return nil
}

func runReimport(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	ps, err := readPlan(args[0], a.cfg.Plan.Year)
	if err != nil {
		return err
	}
	res, err := a.importer.Reimport(ctx, ps, a.backupPath())
	if err != nil {
		return err
	}
	fmt.Println("✓ Re-import complete!")
	fmt.Printf("  - %d planned workouts\n", res.Planned)
	fmt.Printf("  - %d completed activities re-matched\n", res.Matched)
	fmt.Printf("  - %d unmatched activities (extra credit)\n", res.Unmatched)
	if res.Backup != "" {
		fmt.Printf("\n💡 Backup saved at: %s\n", res.Backup)
		fmt.Printf("   If something went wrong, restore with:\n   cp %s %s\n", res.Backup, a.backupPath())
	}
	return nil
}

// decodeRecords accepts a JSON array of records or a single record.
// Entries that fail to decode are reported and skipped.
func decodeRecords(r io.Reader) ([]model.ActivityRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no activity records in input")
	}

	var raws []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("parse activity records: %w", err)
		}
	} else {
		raws = []json.RawMessage{data}
	}

	recs := make([]model.ActivityRecord, 0, len(raws))
	for i, raw := range raws {
		var rec model.ActivityRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ skipped record %d: %v\n", i, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func runSync(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	recs, err := decodeRecords(in)
	if err != nil {
		return err
	}

	out, err := a.svc.SyncAll(ctx, recs)
	for _, res := range out.Synced {
		printResult(res)
	}
	for _, skipped := range out.Skipped {
		fmt.Fprintf(os.Stderr, "⚠ skipped %v\n", skipped)
	}
	if err != nil {
		return err
	}
	fmt.Printf("\n✓ Synced %d activities (%d skipped)\n", len(out.Synced), len(out.Skipped))
	return nil
}

func runSyncStrava(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("sync-strava", flag.ContinueOnError)
	noExport := fs.Bool("no-export", false, "Skip exporting the activity")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) != 1 {
		return errUsage
	}
	id, err := strconv.ParseInt(pos[0], 10, 64)
	if err != nil {
		return fmt.Errorf("activity id %q: %w", pos[0], err)
	}
	act, err := a.stravaClient().GetActivity(ctx, id)
	if err != nil {
		return err
	}
	rec, err := act.Record()
	if err != nil {
		return err
	}
	res, err := a.svc.Sync(ctx, rec)
	if err != nil {
		return err
	}
	printResult(res)

	if exp := a.exporter(); exp != nil && !*noExport {
		if err := exp.Export(ctx, act); err != nil {
			return err
		}
		fmt.Printf("✓ Exported activity %d\n", id)
	}
	return nil
}

func runIngestFIT(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	rec, err := fitfile.ReadFile(args[0], a.loc)
	if err != nil {
		return err
	}
	res, err := a.svc.Sync(ctx, rec)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func printResult(res activity.Result) {
	if res.Matched() {
		fmt.Printf("✓ %s %s on %s matched %s (%s)\n", res.Type, res.ActivityID, res.Date, *res.PlannedID, res.Rule)
		return
	}
	fmt.Printf("⭐ %s %s on %s is extra credit\n", res.Type, res.ActivityID, res.Date)
}

func runNote(ctx context.Context, a *app, args []string) error {
	return runEdit(ctx, "note", args, func(d model.Date, text string, publish bool) (int, error) {
		return a.importer.UpdateNotes(ctx, d, text, publish)
	})
}

func runTitle(ctx context.Context, a *app, args []string) error {
	return runEdit(ctx, "title", args, func(d model.Date, text string, publish bool) (int, error) {
		return a.importer.UpdateDetails(ctx, d, text, publish)
	})
}

func runEdit(_ context.Context, name string, args []string, update func(model.Date, string, bool) (int, error)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	noRegen := fs.Bool("no-regen", false, "Skip calendar regeneration")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) < 2 {
		return errUsage
	}
	d, err := model.ParseDate(pos[0])
	if err != nil {
		return err
	}
	text := strings.Join(pos[1:], " ")

	n, err := update(d, text, !*noRegen)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Updated %s on %s (%d workout(s)): %s\n", name, d, n, text)
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	startFlag := fs.String("start", "", "Start date (default: today)")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) > 1 {
		return errUsage
	}
	days := 7
	if len(pos) == 1 {
		if days, err = strconv.Atoi(pos[0]); err != nil || days <= 0 {
			return fmt.Errorf("days must be a positive number, got %q", pos[0])
		}
	}
	start := model.Today(a.loc)
	if *startFlag != "" {
		if start, err = model.ParseDate(*startFlag); err != nil {
			return err
		}
	}

	agenda, err := plan.Agenda(ctx, a.store, start, days)
	if err != nil {
		return err
	}
	return plan.WriteAgenda(os.Stdout, start, agenda)
}
