// Package scheduler runs one periodic evaluator per bot: parallel
// across bots, strictly serial within a bot. A per-bot single-flight
// guard drops overlapping fires instead of queueing them.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/internal/domain"
)

// TickRunner executes one bot-evaluation tick. Implementations wire
// snapshots, prices, scoring, and trade execution together.
type TickRunner interface {
	Tick(ctx context.Context, botID string) error
}

// botJob tracks one bot's scheduled entry and its in-flight guard.
type botJob struct {
	entryID cron.EntryID
	running int32 // atomic: 1 while a tick is in flight
	cancel  context.CancelFunc
}

// Scheduler runs one cron entry per enabled bot.
type Scheduler struct {
	cron    *cron.Cron
	bots    domain.BotStore
	runner  TickRunner
	log     zerolog.Logger
	mu      sync.Mutex
	jobs    map[string]*botJob
	started bool
}

// New constructs a Scheduler.
func New(bots domain.BotStore, runner TickRunner, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		bots:   bots,
		runner: runner,
		log:    log.With().Str("component", "bot_scheduler").Logger(),
		jobs:   make(map[string]*botJob),
	}
}

// Start starts the underlying cron engine. StartBot must still be called
// per bot to register its recurring tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info().Msg("bot scheduler started")
}

// Stop cancels every bot's timer. In-flight ticks are allowed to finish;
// subsequent fires are discarded because the cron entries are removed
// before the stop context is awaited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for botID, j := range s.jobs {
		s.cron.Remove(j.entryID)
		if j.cancel != nil {
			j.cancel()
		}
		delete(s.jobs, botID)
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("bot scheduler stopped")
}

// StartBot loads the bot, fails if disabled or missing, establishes a
// recurring timer at check_interval_minutes, and performs an immediate
// first tick.
func (s *Scheduler) StartBot(ctx context.Context, botID string) error {
	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if bot == nil {
		return domain.NewConfigMissing(fmt.Sprintf("bot %s not found", botID))
	}
	if !bot.Enabled {
		return domain.NewConfigMissing(fmt.Sprintf("bot %s is disabled", botID))
	}
	if bot.CheckIntervalMinutes <= 0 {
		return domain.NewConfigMissing(fmt.Sprintf("bot %s has no check_interval_minutes", botID))
	}

	s.mu.Lock()
	if _, exists := s.jobs[botID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("bot %s is already scheduled", botID)
	}
	job := &botJob{}
	s.jobs[botID] = job
	s.mu.Unlock()

	schedule := fmt.Sprintf("@every %dm", bot.CheckIntervalMinutes)
	entryID, err := s.cron.AddFunc(schedule, func() { s.runGuardedTick(botID, job) })
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, botID)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	job.entryID = entryID
	s.mu.Unlock()

	s.log.Info().Str("bot_id", botID).Str("schedule", schedule).Msg("bot registered with scheduler")

	// Immediate first tick, same single-flight guard as scheduled fires.
	go s.runGuardedTick(botID, job)
	return nil
}

// StopBot cancels the bot's timer. The in-flight tick, if any, completes
// on its own; this only prevents future fires.
func (s *Scheduler) StopBot(botID string) {
	s.mu.Lock()
	job, ok := s.jobs[botID]
	if ok {
		s.cron.Remove(job.entryID)
		delete(s.jobs, botID)
	}
	s.mu.Unlock()
	if ok && job.cancel != nil {
		job.cancel()
	}
}

// runGuardedTick enforces the "drop, never queue" single-flight rule: if
// a tick is already running for this bot, the fire is dropped entirely.
func (s *Scheduler) runGuardedTick(botID string, job *botJob) {
	if !atomic.CompareAndSwapInt32(&job.running, 0, 1) {
		s.log.Debug().Str("bot_id", botID).Msg("tick already in flight, dropping this fire")
		return
	}
	defer atomic.StoreInt32(&job.running, 0)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	job.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	if err := s.runner.Tick(ctx, botID); err != nil {
		s.log.Error().Err(err).Str("bot_id", botID).Dur("elapsed", time.Since(start)).Msg("tick failed")
		return
	}
	s.log.Debug().Str("bot_id", botID).Dur("elapsed", time.Since(start)).Msg("tick completed")
}
