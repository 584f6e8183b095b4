package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-economy/simkernel/pkg/observability"
)

func newTestScheduler(t *testing.T) *Scheduler {
	logger := observability.NewLogger(observability.LoggerConfig{ServiceName: "scheduler-test"})
	return New(Config{
		BasePeriod:    200 * time.Millisecond,
		SlowTickFloor: 100 * time.Millisecond,
		EveryMTicks:   10,
		EveryKTicks:   100,
	}, logger)
}

func TestSetSpeedRejectsInvalidValues(t *testing.T) {
	s := newTestScheduler(t)
	assert.Error(t, s.SetSpeed(Speed(3)))
	assert.NoError(t, s.SetSpeed(Speed4x))
}

func TestSetSpeedZeroPauses(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.SetSpeed(SpeedPaused))
	assert.True(t, s.Paused())
}

func TestResumeRestoresDefaultSpeedWhenPaused(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.SetSpeed(SpeedPaused))
	s.Resume()
	assert.False(t, s.Paused())
	assert.Equal(t, Speed1x, s.speed)
}

func TestNextDelayDynamicFormula(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.SetSpeed(Speed2x)) // target = 100ms

	delay := s.NextDelay(30 * time.Millisecond)
	assert.Equal(t, 70*time.Millisecond, delay)
}

func TestNextDelayNeverBelowFloor(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.SetSpeed(Speed4x)) // target = 50ms

	delay := s.NextDelay(80 * time.Millisecond) // overran the budget
	assert.Equal(t, minDelay, delay)
}

func TestIsSlowTickRequiresBothThresholds(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.SetSpeed(Speed1x)) // target 200ms, 1.5x = 300ms

	assert.False(t, s.IsSlowTick(250*time.Millisecond), "relative threshold not crossed")
	assert.True(t, s.IsSlowTick(310*time.Millisecond), "both thresholds crossed")
}

func TestIsSlowTickRespectsAbsoluteFloorAtHighSpeed(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.SetSpeed(Speed4x)) // target 50ms, 1.5x = 75ms, but floor is 100ms

	assert.False(t, s.IsSlowTick(90*time.Millisecond), "relative threshold crossed but absolute floor is not")
}

func TestEveryMTicksFiresOncePerWindow(t *testing.T) {
	s := newTestScheduler(t)

	fired := 0
	for tick := uint64(1); tick <= 30; tick++ {
		if s.ShouldRunEveryM(tick) {
			fired++
		}
	}
	assert.Equal(t, 3, fired, "fires once every 10 ticks across 30 ticks")
}

func TestResetRestoresDefaultsAndLimiters(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.SetSpeed(Speed4x))
	s.ShouldRunEveryM(1)

	s.Reset()
	assert.Equal(t, Speed1x, s.speed)
	assert.False(t, s.Paused())
	assert.True(t, s.ShouldRunEveryM(1), "limiter state cleared by reset")
}
