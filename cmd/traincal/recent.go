package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"traincal/internal/activity"
	"traincal/internal/feed"
	appLog "traincal/internal/log"
	"traincal/internal/model"
	"traincal/internal/strava"
)

type recentSource interface {
	ListActivities(ctx context.Context, count int, after time.Time) ([]strava.Activity, error)
	GetActivity(ctx context.Context, id int64) (strava.Activity, error)
}

type batchSyncer interface {
	SyncAll(ctx context.Context, recs []model.ActivityRecord) (activity.BatchResult, error)
}

type recentResult struct {
	activity.BatchResult
	Exported int
	Failed   int
}

// syncRecent lists recent activities, fetches each in full, ingests them as
// one batch and exports every synced activity when exp is non-nil.
func syncRecent(ctx context.Context, src recentSource, svc batchSyncer, exp feed.Exporter, count int, after time.Time) (recentResult, error) {
	var out recentResult
	summaries, err := src.ListActivities(ctx, count, after)
	if err != nil {
		return out, err
	}
	appLog.Info("recent activities listed", "count", len(summaries), "after", after.Format(time.RFC3339))

	byID := make(map[string]strava.Activity, len(summaries))
	recs := make([]model.ActivityRecord, 0, len(summaries))
	for _, s := range summaries {
		full, err := src.GetActivity(ctx, s.ID)
		if err != nil {
			appLog.Warn("activity fetch failed, skipping", "activity_id", s.ID, "reason", err.Error())
			out.Failed++
			continue
		}
		rec, err := full.Record()
		if err != nil {
			appLog.Warn("activity decode failed, skipping", "activity_id", s.ID, "reason", err.Error())
			out.Failed++
			continue
		}
		byID[rec.ID] = full
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return out, nil
	}

	out.BatchResult, err = svc.SyncAll(ctx, recs)
	if err != nil || exp == nil {
		return out, err
	}
	for _, res := range out.Synced {
		a, ok := byID[res.ActivityID]
		if !ok {
			continue
		}
		if err := exp.Export(ctx, a); err != nil {
			out.Failed++
			continue
		}
		out.Exported++
	}
	return out, nil
}

func runSyncRecent(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("sync-recent", flag.ContinueOnError)
	days := fs.Int("days", a.cfg.Strava.RecentDays, "Only activities from the last N days")
	noExport := fs.Bool("no-export", false, "Skip exporting synced activities")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) > 1 {
		return errUsage
	}
	count := 1
	if len(pos) == 1 {
		if count, err = strconv.Atoi(pos[0]); err != nil || count <= 0 {
			return fmt.Errorf("count must be a positive number, got %q", pos[0])
		}
	}

	var exp feed.Exporter
	if !*noExport {
		exp = a.exporter()
	}
	after := time.Now().AddDate(0, 0, -*days)
	fmt.Printf("Syncing up to %d activities from the last %d days...\n", count, *days)

	out, err := syncRecent(ctx, a.stravaClient(), a.svc, exp, count, after)
	for _, res := range out.Synced {
		printResult(res)
	}
	for _, skipped := range out.Skipped {
		fmt.Fprintf(os.Stderr, "⚠ skipped %v\n", skipped)
	}
	if err != nil {
		return err
	}
	fmt.Printf("\n✓ Synced %d activities (%d skipped, %d failed)\n", len(out.Synced), len(out.Skipped), out.Failed)
	if exp != nil {
		fmt.Printf("✓ Exported %d records\n", out.Exported)
	}
	return nil
}
