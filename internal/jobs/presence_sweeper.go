package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"codesync/internal/metrics"
	"codesync/internal/utils"
)

// RosterSweeper removes roster entries last seen before a cutoff.
type RosterSweeper interface {
	SweepRoster(ctx context.Context, cutoff time.Time) (map[string][]string, error)
}

// PresenceSweeperJob periodically evicts participants whose broker stopped
// refreshing them, so crashed instances leave no ghosts in rosters.
type PresenceSweeperJob struct {
	store    RosterSweeper
	ttl      time.Duration
	schedule string
	now      func() time.Time
	onEvict  func(room string, participants []string)
	refresh  func(ctx context.Context) error
	log      *utils.Logger
	cron     *cron.Cron
}

func NewPresenceSweeperJob(store RosterSweeper, ttl time.Duration, schedule string, log *utils.Logger) *PresenceSweeperJob {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &PresenceSweeperJob{
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		now:      time.Now,
		log:      log,
		cron:     cron.New(),
	}
}

// OnEvict registers a callback run after participants are evicted from a room.
func (j *PresenceSweeperJob) OnEvict(fn func(room string, participants []string)) {
	j.onEvict = fn
}

// BeforeSweep registers fn to refresh live presence ahead of every sweep.
// A failed refresh is logged and the sweep still runs.
func (j *PresenceSweeperJob) BeforeSweep(fn func(ctx context.Context) error) {
	j.refresh = fn
}

// Start schedules the sweep.
func (j *PresenceSweeperJob) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.Error("presence sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule presence sweeper: %w", err)
	}
	j.cron.Start()
	j.log.Info("presence sweeper started", "schedule", j.schedule, "ttl", j.ttl.String())
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *PresenceSweeperJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// RunOnce sweeps immediately and returns the number of evicted entries.
func (j *PresenceSweeperJob) RunOnce(ctx context.Context) (int, error) {
	if j.refresh != nil {
		if err := j.refresh(ctx); err != nil {
			j.log.Warn("presence refresh failed", "error", err)
		}
	}
	removed, err := j.store.SweepRoster(ctx, j.now().Add(-j.ttl))
	evicted := 0
	for room, participants := range removed {
		evicted += len(participants)
		j.log.Info("evicted stale participants", "room", room, "participants", participants)
		if j.onEvict != nil {
			j.onEvict(room, participants)
		}
	}
	metrics.PresenceEvictions.Add(float64(evicted))
	if err != nil {
		return evicted, fmt.Errorf("sweep roster: %w", err)
	}
	return evicted, nil
}
