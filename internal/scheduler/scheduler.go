// Package scheduler advances simulated time: it computes the wall-clock
// delay before the next tick from a base period and speed multiplier,
// classifies work into frequency tiers, and flags slow ticks for
// diagnostics without ever altering the simulation's behavior.
package scheduler

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/industrial-economy/simkernel/internal/errs"
	"github.com/industrial-economy/simkernel/pkg/observability"
)

// Speed is the scheduler's wall-clock multiplier. 0 pauses the simulation.
type Speed int

const (
	SpeedPaused Speed = 0
	Speed1x     Speed = 1
	Speed2x     Speed = 2
	Speed4x     Speed = 4
)

func validSpeed(s Speed) bool {
	switch s {
	case SpeedPaused, Speed1x, Speed2x, Speed4x:
		return true
	default:
		return false
	}
}

const (
	slowTickMultiplier = 1.5
	minDelay           = time.Millisecond
)

// Config holds the scheduler's tunables.
type Config struct {
	BasePeriod      time.Duration
	SlowTickFloor   time.Duration // absolute floor below which a slow tick never fires regardless of multiplier
	EveryMTicks     uint64        // competitor decisions / autonomous sweep / expiry sweep / snapshots
	EveryKTicks     uint64        // diagnostic reports / slow-tick summaries
}

// Scheduler owns the running speed and frequency-tier gating for one kernel.
type Scheduler struct {
	cfg    Config
	logger *observability.Logger

	speed  Speed
	paused bool

	limiterM *rate.Limiter
	limiterK *rate.Limiter
}

// New constructs a Scheduler running at 1x.
func New(cfg Config, logger *observability.Logger) *Scheduler {
	s := &Scheduler{cfg: cfg, logger: logger, speed: Speed1x}
	s.resetLimiters()
	return s
}

func (s *Scheduler) resetLimiters() {
	s.limiterM = rate.NewLimiter(rate.Every(time.Duration(s.cfg.EveryMTicks)*time.Second), 1)
	s.limiterK = rate.NewLimiter(rate.Every(time.Duration(s.cfg.EveryKTicks)*time.Second), 1)
}

// SetSpeed changes the running multiplier; 0 pauses. Returns
// ErrInvalidQuantity for any value outside {0,1,2,4}.
func (s *Scheduler) SetSpeed(speed Speed) error {
	if !validSpeed(speed) {
		return errs.Wrap("scheduler.set_speed", errs.ErrInvalidQuantity)
	}
	s.speed = speed
	s.paused = speed == SpeedPaused
	return nil
}

// Pause stops further ticks without changing the remembered speed.
func (s *Scheduler) Pause() { s.paused = true }

// Resume allows ticks to proceed again at the current speed; if the speed
// was set to SpeedPaused, it resumes at Speed1x.
func (s *Scheduler) Resume() {
	s.paused = false
	if s.speed == SpeedPaused {
		s.speed = Speed1x
	}
}

// Paused reports whether the scheduler is currently withholding ticks.
func (s *Scheduler) Paused() bool { return s.paused }

// Reset clears all scheduler state back to its construction-time default.
func (s *Scheduler) Reset() {
	s.speed = Speed1x
	s.paused = false
	s.resetLimiters()
}

// NextDelay computes the wall-clock delay before the next tick should run,
// given how long the just-finished tick took. The floor of 1ms prevents a
// busy-loop even at the fastest speed.
func (s *Scheduler) NextDelay(elapsed time.Duration) time.Duration {
	if s.speed == SpeedPaused {
		return s.cfg.BasePeriod
	}
	target := s.cfg.BasePeriod / time.Duration(s.speed)
	delay := target - elapsed
	if delay < minDelay {
		delay = minDelay
	}
	return delay
}

// TargetForCurrentSpeed returns the per-tick wall-clock budget at the
// current speed, used by slow-tick detection.
func (s *Scheduler) TargetForCurrentSpeed() time.Duration {
	if s.speed == SpeedPaused {
		return s.cfg.BasePeriod
	}
	return s.cfg.BasePeriod / time.Duration(s.speed)
}

// IsSlowTick reports whether a measured tick duration crosses both the
// relative (1.5x target) and absolute (SlowTickFloor) thresholds. This is
// pure observability — it never changes scheduling behavior.
func (s *Scheduler) IsSlowTick(elapsed time.Duration) bool {
	target := s.TargetForCurrentSpeed()
	return elapsed > time.Duration(float64(target)*slowTickMultiplier) && elapsed > s.cfg.SlowTickFloor
}

// ShouldRunEveryM reports whether tick-tier work (competitor decisions,
// autonomous trade sweep, expiry sweep, snapshots) should run this tick.
func (s *Scheduler) ShouldRunEveryM(tick uint64) bool {
	if s.cfg.EveryMTicks == 0 {
		return true
	}
	return s.limiterM.AllowN(time.Unix(int64(tick), 0), 1)
}

// ShouldRunEveryK reports whether the coarsest tier (diagnostic reports,
// slow-tick summaries, non-critical bookkeeping) should run this tick.
func (s *Scheduler) ShouldRunEveryK(tick uint64) bool {
	if s.cfg.EveryKTicks == 0 {
		return true
	}
	return s.limiterK.AllowN(time.Unix(int64(tick), 0), 1)
}
