package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFuncFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(150*time.Millisecond, func() { fired++ })

	c.Advance(100 * time.Millisecond)
	assert.Equal(t, 0, fired)

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, epoch.Add(150*time.Millisecond), c.Now())
}

func TestFake_StopPreventsCallback(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	c := NewFake(epoch)
	var seen time.Time
	c.AfterFunc(3*time.Second, func() { seen = c.Now() })

	c.Advance(10 * time.Second)
	assert.Equal(t, epoch.Add(3*time.Second), seen)
	assert.Equal(t, epoch.Add(10*time.Second), c.Now())
}

func TestFake_Ticker(t *testing.T) {
	c := NewFake(epoch)
	ticker := c.NewTicker(5 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case tick := <-ticker.C:
		assert.Equal(t, epoch.Add(5*time.Second), tick)
	default:
		t.Fatal("expected tick")
	}

	ticker.Stop()
	c.Advance(10 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker must not tick")
	default:
	}
}
