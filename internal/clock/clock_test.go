package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVirtualClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewVirtual(start)

	assert.Equal(t, start, c.Now())

	got := c.Advance(47 * time.Hour)
	assert.Equal(t, start.Add(47*time.Hour), got)
	assert.Equal(t, got, c.Now())

	t.Run("never rewinds", func(t *testing.T) {
		before := c.Now()
		c.Advance(-time.Hour)
		c.Set(start)
		assert.Equal(t, before, c.Now())
	})

	t.Run("set forward", func(t *testing.T) {
		target := start.Add(72 * time.Hour)
		c.Set(target)
		assert.Equal(t, target, c.Now())
	})
}

func TestSystemClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System().Now().Location())
}
