// Package scheduler handles time-based runs for daemon mode. Supports
// cron expressions and fixed intervals, optionally bounded to a daily
// time window so runs stay inside quiet hours.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/logging"
)

// ErrNoSchedule is returned when the configuration carries neither a
// cron expression nor an interval.
var ErrNoSchedule = errors.New("scheduler: no cron expression or interval configured")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns the time as minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Window is a daily time window. A window whose end precedes its start
// spans midnight. Start is inclusive, End exclusive.
type Window struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
}

// Contains reports whether the instant falls inside the window.
func (w Window) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	start, end := w.Start.Minutes(), w.End.Minutes()
	if start <= end {
		return minutes >= start && minutes < end
	}
	// Overnight window.
	return minutes >= start || minutes < end
}

// Scheduler triggers a job on a cron expression or fixed interval.
type Scheduler struct {
	mu       sync.Mutex
	cronExpr string
	interval time.Duration
	window   *Window
	job      func(context.Context)
	logger   *logging.Logger

	cr      *cron.Cron
	ticker  *time.Ticker
	cancel  context.CancelFunc
	running bool
}

// New creates an unconfigured scheduler.
func New() *Scheduler {
	return &Scheduler{logger: logging.Component("scheduler")}
}

// NewFromConfig builds a scheduler from the schedule settings.
func NewFromConfig(cfg config.ScheduleSettings) (*Scheduler, error) {
	s := New()

	switch {
	case cfg.Cron != "":
		if err := s.SetCron(cfg.Cron); err != nil {
			return nil, err
		}
	case cfg.Interval != "":
		d, err := time.ParseDuration(cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid interval %q: %w", cfg.Interval, err)
		}
		if err := s.SetInterval(d); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoSchedule
	}

	if cfg.Window != nil {
		w, err := parseWindow(cfg.Window)
		if err != nil {
			return nil, err
		}
		s.window = w
	}
	return s, nil
}

func parseWindow(cfg *config.WindowSettings) (*Window, error) {
	start, err := ParseTimeOfDay(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("scheduler: window start: %w", err)
	}
	end, err := ParseTimeOfDay(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("scheduler: window end: %w", err)
	}
	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: window timezone: %w", err)
		}
	}
	return &Window{Start: start, End: end, Location: loc}, nil
}

// SetCron configures a cron expression schedule.
func (s *Scheduler) SetCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronExpr = expr
	s.interval = 0
	return nil
}

// SetInterval configures a fixed-interval schedule.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %v", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.cronExpr = ""
	return nil
}

// SetJob sets the function invoked on each trigger.
func (s *Scheduler) SetJob(job func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = job
}

// Start begins triggering. Triggers that land outside the configured
// window are skipped, not deferred.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler: already running")
	}
	if s.cronExpr == "" && s.interval == 0 {
		return ErrNoSchedule
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.cronExpr != "" {
		s.cr = cron.New()
		if _, err := s.cr.AddFunc(s.cronExpr, func() { s.fire(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("scheduler: %w", err)
		}
		s.cr.Start()
	} else {
		s.ticker = time.NewTicker(s.interval)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.ticker.C:
					s.fire(ctx)
				}
			}
		}()
	}

	s.running = true
	return nil
}

// fire runs the job if the trigger lands inside the window.
func (s *Scheduler) fire(ctx context.Context) {
	s.mu.Lock()
	job := s.job
	window := s.window
	s.mu.Unlock()

	if job == nil {
		return
	}
	now := time.Now()
	if window != nil && !window.Contains(now) {
		s.logger.DebugCtx("trigger outside window, skipping", map[string]any{
			"window": fmt.Sprintf("%s-%s", window.Start, window.End),
		})
		return
	}
	job(ctx)
}

// Stop halts triggering. In-flight jobs are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.cr != nil {
		s.cr.Stop()
		s.cr = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
