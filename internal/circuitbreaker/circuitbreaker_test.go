package circuitbreaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 3}, testLogger())

	b.RecordFailure("err1")
	b.RecordFailure("err2")
	require.False(t, b.IsTripped())

	b.RecordFailure("err3")
	require.True(t, b.IsTripped())
	require.Equal(t, "err3", b.TripReason())
}

func TestBreaker_SuccessResetsConsecutiveOnly(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 3, MaxFailuresPerWindow: 10, Window: time.Hour}, testLogger())

	b.RecordFailure("e1")
	b.RecordFailure("e2")
	b.RecordSuccess()
	require.Equal(t, 0, b.ConsecutiveFailures())
	require.Equal(t, 2, b.WindowFailures(), "windowed failures must survive a success")
}

func TestBreaker_TripsOnWindowedFailures(t *testing.T) {
	b := New(Config{MaxFailuresPerWindow: 3, Window: time.Hour}, testLogger())

	b.RecordFailure("a")
	b.RecordSuccess() // resets consecutive, not windowed
	b.RecordFailure("b")
	b.RecordSuccess()
	require.False(t, b.IsTripped())

	b.RecordFailure("c")
	require.True(t, b.IsTripped())
}

func TestBreaker_CooldownAutoResets(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1, Cooldown: 10 * time.Millisecond}, testLogger())

	b.RecordFailure("boom")
	require.True(t, b.IsTripped())

	time.Sleep(20 * time.Millisecond)
	require.False(t, b.IsTripped())
	require.Equal(t, 0, b.ConsecutiveFailures())
}

func TestBreaker_ManualReset(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1}, testLogger())
	b.RecordFailure("boom")
	require.True(t, b.IsTripped())

	b.Reset()
	require.False(t, b.IsTripped())
	require.Equal(t, "", b.TripReason())
}

func TestBreaker_AlreadyTrippedIgnoresFurtherFailures(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1}, testLogger())
	b.RecordFailure("first")
	require.Equal(t, "first", b.TripReason())

	b.RecordFailure("second")
	require.Equal(t, "first", b.TripReason(), "trip reason should not change once tripped")
}
