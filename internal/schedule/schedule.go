// Package schedule runs periodic calendar regeneration so that the
// visibility window advances even when no activity arrives.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "traincal/internal/log"
)

// Job is the periodic task.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with one job.
type Scheduler struct {
	cron *cron.Cron
	id   cron.EntryID
	spec string
	loc  *time.Location

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (standard five-field cron or a descriptor such as
// "@daily") evaluated in loc.
func New(spec string, loc *time.Location, job Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		spec: spec,
		loc:  loc,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	id, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if err := job(ctx); err != nil {
			appLog.Error("scheduled regeneration failed", err, "spec", spec)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.id = id
	return s, nil
}

// Start runs the scheduler until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = runCtx, cancel
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("regeneration scheduled", "spec", s.spec, "next", s.Next().Format(time.RFC3339))

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Next reports the next run time after now.
func (s *Scheduler) Next() time.Time {
	e := s.cron.Entry(s.id)
	if e.Schedule == nil {
		return time.Time{}
	}
	return e.Schedule.Next(time.Now().In(s.loc))
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	cancel()
}
