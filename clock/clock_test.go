package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestFake_TickerFiresPerInterval(t *testing.T) {
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := c.NewTicker(5 * time.Second)
	defer tk.Stop()

	c.Advance(4 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker did not fire at its deadline")
	}
}

func TestFake_StoppedTickerIsDropped(t *testing.T) {
	c := Fake(time.Now())
	tk := c.NewTicker(time.Second)
	c.WaitForTickers(1)

	tk.Stop()
	c.Advance(time.Second)

	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	c.mu.Lock()
	live := c.liveLocked()
	c.mu.Unlock()
	require.Equal(t, 0, live)
}

func TestFake_NewTickerPanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { Fake(time.Now()).NewTicker(0) })
}
