package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_NewTimer(t *testing.T) {
	timer := RealClock{}.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())
}

func TestRealClock_Since(t *testing.T) {
	d := RealClock{}.Since(time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, d, time.Second)
}

func TestMockClock_TimerFiresOnlyAtDeadline(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	timer := clock.NewTimer(5 * time.Second)
	require.Equal(t, 1, clock.PendingTimers())

	clock.Advance(4 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-timer.C():
		assert.Equal(t, start.Add(5*time.Second), fired)
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	assert.Equal(t, 0, clock.PendingTimers())
	assert.False(t, timer.Stop())
}

func TestMockClock_Stop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Equal(t, 0, clock.PendingTimers())

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockClock_AfterAndSince(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewMockClock(start)
	ch := clock.After(3 * time.Second)
	other := clock.After(time.Second)

	clock.Set(start.Add(2 * time.Second))
	assert.Len(t, other, 1)
	assert.Len(t, ch, 0)
	assert.Equal(t, 2*time.Second, clock.Since(start))
	assert.Equal(t, 1, clock.PendingTimers())

	clock.Advance(time.Second)
	assert.Len(t, ch, 1)
}
