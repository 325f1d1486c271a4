package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"tradingroad_backend/services/realtime"
)

// PairWarmer preloads pair listings
type PairWarmer interface {
	WarmPairs(ctx context.Context, exchangeIDs ...string) int
}

// Pruner deletes archived candles older than a cutoff
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config selects the jobs and their cadence
type Config struct {
	WarmExchanges []string
	WarmEvery     time.Duration
	PruneEvery    time.Duration
	Retention     time.Duration
	StatsEvery    time.Duration
	JobTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.WarmEvery <= 0 {
		c.WarmEvery = 15 * time.Minute
	}
	if c.PruneEvery <= 0 {
		c.PruneEvery = time.Hour
	}
	if c.StatsEvery <= 0 {
		c.StatsEvery = time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	return c
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron        *gocron.Scheduler
	cfg         Config
	pairs       PairWarmer
	archive     Pruner
	broadcaster *realtime.Broadcaster
	logger      logrus.FieldLogger
	now         func() time.Time
}

// NewScheduler creates a new scheduler instance. archive and broadcaster may be nil.
func NewScheduler(cfg Config, pairs PairWarmer, archive Pruner, broadcaster *realtime.Broadcaster, logger logrus.FieldLogger) *Scheduler {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:        cron,
		cfg:         cfg.withDefaults(),
		pairs:       pairs,
		archive:     archive,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// Start registers all jobs and starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler...")

	if s.pairs != nil && len(s.cfg.WarmExchanges) > 0 {
		if _, err := s.cron.Every(s.cfg.WarmEvery).Do(s.warmPairs); err != nil {
			return err
		}
	}

	if s.archive != nil && s.cfg.Retention > 0 {
		if _, err := s.cron.Every(s.cfg.PruneEvery).Do(s.pruneArchive); err != nil {
			return err
		}
	}

	if s.broadcaster != nil {
		if _, err := s.cron.Every(s.cfg.StatsEvery).WaitForSchedule().Do(s.logStats); err != nil {
			return err
		}
	}

	s.cron.StartAsync()
	s.logger.WithField("jobs", len(s.cron.Jobs())).Info("Scheduler started successfully")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("Scheduler stopped")
}

// warmPairs refreshes the pair cache of the configured exchanges
func (s *Scheduler) warmPairs() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	n := s.pairs.WarmPairs(ctx, s.cfg.WarmExchanges...)
	s.logger.WithField("exchanges", n).Debug("pair listings refreshed")
}

// pruneArchive removes candles past the retention window
func (s *Scheduler) pruneArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.Retention)
	removed, err := s.archive.Prune(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Error pruning candle archive")
		return
	}
	if removed > 0 {
		s.logger.WithFields(logrus.Fields{"removed": removed, "cutoff": cutoff.UTC()}).Info("candle archive pruned")
	}
}

// logStats reports the broadcaster state
func (s *Scheduler) logStats() {
	st := s.broadcaster.Status()
	s.logger.WithFields(logrus.Fields{
		"running":     st.Running,
		"connections": st.Connections,
		"symbols":     st.Symbols,
		"iterations":  st.Iterations,
		"published":   st.LastIteration.Published,
		"failed":      st.LastIteration.Failed,
	}).Info("realtime stats")
}
