// Package scheduler runs the recurring maintenance jobs: cache expiry,
// WAL checkpoints, and cloud backups.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/fairvalue/internal/database"
	"github.com/aristath/fairvalue/internal/events"
	"github.com/aristath/fairvalue/internal/modules/curves"
	"github.com/aristath/fairvalue/internal/modules/fx"
	"github.com/aristath/fairvalue/internal/modules/runs"
)

// Backupper uploads a snapshot of the data directory.
type Backupper interface {
	Backup(ctx context.Context) error
}

// Scheduler owns the cron instance and the registered jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler on UTC wall time.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log.With().Str("service", "scheduler").Logger(),
	}
}

// RegisterCacheCleanup schedules the daily expiry of cached curves, FX
// rates, old runs, and the event log. Retention is in days.
func (s *Scheduler) RegisterCacheCleanup(
	curvesRepo *curves.Repository,
	fxRepo *fx.Repository,
	runsRepo *runs.Repository,
	bus *events.Bus,
	retentionDays int,
) error {
	if retentionDays < 1 {
		retentionDays = 30
	}

	_, err := s.cron.AddFunc("0 3 * * *", func() {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		log := s.log.With().Str("job", "cache_cleanup").Logger()

		if n, err := curvesRepo.DeleteOlderThan(cutoff); err != nil {
			log.Error().Err(err).Msg("failed to expire curves")
		} else if n > 0 {
			log.Info().Int64("removed", n).Msg("Expired cached curves")
		}

		if n, err := fxRepo.DeleteOlderThan(cutoff); err != nil {
			log.Error().Err(err).Msg("failed to expire fx rates")
		} else if n > 0 {
			log.Info().Int64("removed", n).Msg("Expired cached fx rates")
		}

		if n, err := runsRepo.DeleteRunsBefore(cutoff); err != nil {
			log.Error().Err(err).Msg("failed to expire runs")
		} else if n > 0 {
			log.Info().Int64("removed", n).Msg("Expired old valuation runs")
		}

		if n, err := bus.DeleteOlderThan(cutoff); err != nil {
			log.Error().Err(err).Msg("failed to trim event log")
		} else if n > 0 {
			log.Info().Int64("removed", n).Msg("Trimmed event log")
		}
	})
	return err
}

// RegisterWALCheckpoint schedules the nightly TRUNCATE checkpoint of every
// database, keeping the WAL files from growing unbounded.
func (s *Scheduler) RegisterWALCheckpoint(databases map[string]*database.DB) error {
	_, err := s.cron.AddFunc("30 2 * * *", func() {
		log := s.log.With().Str("job", "wal_checkpoint").Logger()
		for name, db := range databases {
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				log.Error().Err(err).Str("database", name).Msg("checkpoint failed")
				continue
			}
			log.Debug().Str("database", name).Msg("Checkpoint complete")
		}
	})
	return err
}

// RegisterBackup schedules the nightly snapshot upload.
func (s *Scheduler) RegisterBackup(backupper Backupper) error {
	_, err := s.cron.AddFunc("0 4 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := backupper.Backup(ctx); err != nil {
			s.log.Error().Err(err).Str("job", "backup").Msg("backup failed")
		}
	})
	return err
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
