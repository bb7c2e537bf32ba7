package cache

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweepable is anything holding TTL-bounded entries that can be trimmed
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically drops expired dedup and cache entries. TTL expiry is
// otherwise lazy (checked on access), so without the sweeper memory is only
// reclaimed by capacity eviction.
type Sweeper struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	targets []Sweepable
}

// NewSweeper schedules Sweep on the given cron expression for each target
func NewSweeper(schedule string, logger zerolog.Logger, targets ...Sweepable) (*Sweeper, error) {
	if schedule == "" {
		schedule = "@every 1m"
	}

	s := &Sweeper{
		cron:    cron.New(),
		logger:  logger.With().Str("component", "sweeper").Logger(),
		targets: targets,
	}

	if _, err := s.cron.AddFunc(schedule, s.sweepAll); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduled sweeping
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Debug().Int("targets", len(s.targets)).Msg("Cache sweeper started")
}

// Stop halts scheduled sweeping, waiting for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Debug().Msg("Cache sweeper stopped")
}

func (s *Sweeper) sweepAll() {
	total := 0
	for _, target := range s.targets {
		total += target.Sweep()
	}
	if total > 0 {
		s.logger.Debug().Int("removed", total).Msg("Swept expired entries")
	}
}
