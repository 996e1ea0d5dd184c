package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sandbox-trader/internal/config"
	"sandbox-trader/pkg/utils"
)

// ResetScheduler restores every account to starting capital once a week.
// Open positions and holdings survive a reset: their margin is recomputed
// and re-blocked against the fresh capital, and P&L counters start over.
type ResetScheduler struct {
	weekday   time.Weekday
	hour      int
	minute    int
	loc       *time.Location
	ledger    *Ledger
	positions *PositionManager
	holdings  *HoldingsManager
	locks     *AccountLocks
	notifier  *Notifier
	logger    zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

// NewResetScheduler creates a reset scheduler from the configured weekly
// boundary. The last-run marker starts at now so a restart never replays a
// boundary the previous process already handled.
func NewResetScheduler(
	cfg *config.Config,
	loc *time.Location,
	ledger *Ledger,
	positions *PositionManager,
	holdings *HoldingsManager,
	locks *AccountLocks,
	notifier *Notifier,
	logger zerolog.Logger,
) *ResetScheduler {
	hour, minute, _ := config.ParseClock(cfg.Sandbox.ResetTime)
	return &ResetScheduler{
		weekday:   cfg.ResetWeekday(),
		hour:      hour,
		minute:    minute,
		loc:       loc,
		ledger:    ledger,
		positions: positions,
		holdings:  holdings,
		locks:     locks,
		notifier:  notifier,
		logger:    logger.With().Str("component", "reset").Logger(),
		lastRun:   time.Now(),
	}
}

// SetLastReset overrides the last-run marker, used when restoring persisted
// state.
func (s *ResetScheduler) SetLastReset(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = t
}

// Run polls for the weekly boundary until cancelled.
func (s *ResetScheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Str("weekday", s.weekday.String()).
		Str("time", fmt.Sprintf("%02d:%02d", s.hour, s.minute)).
		Msg("Weekly reset scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Weekly reset scheduler stopped")
			return
		case <-ticker.C:
			s.RunAt(time.Now())
		}
	}
}

// RunAt resets all accounts when a weekly boundary has been crossed since
// the last run.
func (s *ResetScheduler) RunAt(now time.Time) {
	boundary := s.lastBoundary(now)

	s.mu.Lock()
	due := boundary.After(s.lastRun)
	if due {
		s.lastRun = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	for _, account := range s.ledger.Accounts() {
		s.resetAccount(account)
	}
}

// ResetAccount performs an on-demand reset for a single account, outside
// the weekly schedule.
func (s *ResetScheduler) ResetAccount(account string) {
	s.resetAccount(account)
}

func (s *ResetScheduler) resetAccount(account string) {
	s.locks.Lock(account)
	defer s.locks.Unlock(account)

	blocked := s.positions.TotalBlockedMargin(account) + s.holdings.TotalInvested(account)
	s.ledger.Reset(account, blocked)

	if s.notifier != nil {
		s.notifier.Notify(Event{
			Account: account,
			Kind:    EventReset,
			Message: fmt.Sprintf("Funds reset to %.2f starting capital", s.ledger.StartingCapital()),
		})
	}
}

// lastBoundary returns the most recent scheduled reset instant at or before
// now.
func (s *ResetScheduler) lastBoundary(now time.Time) time.Time {
	now = now.In(s.loc)
	c := utils.ClockToday(now, s.hour, s.minute, s.loc)
	if c.After(now) {
		c = c.AddDate(0, 0, -1)
	}
	for c.Weekday() != s.weekday {
		c = c.AddDate(0, 0, -1)
	}
	return c
}
