package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/service"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// GuildSource lists the guilds the bot is a member of.
type GuildSource interface {
	Guilds(ctx context.Context) ([]string, error)
}

// TicketCloser is the part of the ticket service the sweeper drives.
type TicketCloser interface {
	ListOpen(ctx context.Context, guildID string) ([]domain.Ticket, error)
	AutoClose(ctx context.Context, guildID, ticketID string, threshold time.Duration) (*service.CloseResult, error)
}

// SweepReport summarizes one pass over every guild.
type SweepReport struct {
	Scanned  int
	Closed   []string
	Orphaned []string
	Skipped  int
	Failed   map[string]error
}

// SweeperSnapshot exposes the state of the background loop.
type SweeperSnapshot struct {
	Running           bool       `json:"running"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	LastSweepAt       *time.Time `json:"last_sweep_at,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	TotalSweeps       int64      `json:"total_sweeps"`
	TotalClosed       int64      `json:"total_closed"`
}

// Sweeper periodically auto-closes tickets idle for longer than the threshold.
type Sweeper struct {
	guilds    GuildSource
	tickets   TicketCloser
	threshold time.Duration
	interval  time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	running  bool
	doneChan chan struct{}
	snapshot SweeperSnapshot
}

// NewSweeper builds a sweeper. A zero threshold disables auto-close entirely.
func NewSweeper(guilds GuildSource, tickets TicketCloser, threshold, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		guilds:    guilds,
		tickets:   tickets,
		threshold: threshold,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Enabled reports whether auto-close is configured.
func (s *Sweeper) Enabled() bool {
	return s.threshold > 0
}

// Start launches the loop in the background. It stops when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("auto-close disabled")
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	now := s.now().UTC()
	s.snapshot.Running = true
	s.snapshot.StartedAt = &now
	s.doneChan = make(chan struct{})
	done := s.doneChan
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.loop(ctx)
		s.mu.Lock()
		s.running = false
		s.snapshot.Running = false
		s.mu.Unlock()
	}()
}

// Wait blocks until the loop exits or the timeout passes. It reports whether the loop exited.
func (s *Sweeper) Wait(timeout time.Duration) bool {
	s.mu.RLock()
	done := s.doneChan
	s.mu.RUnlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Snapshot returns a copy of the loop state.
func (s *Sweeper) Snapshot() SweeperSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snapshot
	out.StartedAt = cloneTime(s.snapshot.StartedAt)
	out.LastSweepAt = cloneTime(s.snapshot.LastSweepAt)
	out.LastErrorAt = cloneTime(s.snapshot.LastErrorAt)
	return out
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runIteration(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

func (s *Sweeper) runIteration(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastSweepAt = &now
	s.snapshot.TotalSweeps++
	s.snapshot.TotalClosed += int64(len(report.Closed) + len(report.Orphaned))
	if err != nil {
		s.snapshot.ConsecutiveErrors++
		s.snapshot.LastErrorAt = &now
		s.snapshot.LastError = strings.TrimSpace(err.Error())
	} else {
		s.snapshot.ConsecutiveErrors = 0
	}
}

// RunOnce performs a single sweep. A failure on one ticket or guild does not stop the others;
// the returned error only reports that the guild list could not be read.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Failed: make(map[string]error)}
	if !s.Enabled() {
		return report, nil
	}
	guilds, err := s.guilds.Guilds(ctx)
	if err != nil {
		s.logger.Warn("sweep could not list guilds", zap.Error(err))
		return report, err
	}

sweep:
	for _, guildID := range guilds {
		if ctx.Err() != nil {
			break
		}
		tickets, err := s.tickets.ListOpen(ctx, guildID)
		if err != nil {
			s.logger.Warn("sweep could not list tickets", zap.String("guild_id", guildID), zap.Error(err))
			report.Failed[guildID] = err
			continue
		}
		for _, t := range tickets {
			if ctx.Err() != nil {
				break sweep
			}
			report.Scanned++
			if s.now().Sub(t.LastActivityAt) <= s.threshold {
				continue
			}
			res, err := s.tickets.AutoClose(ctx, guildID, t.ID, s.threshold)
			switch {
			case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrNotFound):
				report.Skipped++
			case err != nil:
				s.logger.Warn("auto-close failed", append(observability.TicketFields(guildID, t.ID, t.ChannelID), zap.Error(err))...)
				report.Failed[t.ID] = err
			case res.Orphaned:
				report.Orphaned = append(report.Orphaned, t.ID)
			default:
				report.Closed = append(report.Closed, t.ID)
			}
		}
	}

	s.metrics.RecordSweep(s.now().UTC(), report.Scanned)
	s.logger.Info("inactivity sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("closed", len(report.Closed)),
		zap.Int("orphaned", len(report.Orphaned)),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
