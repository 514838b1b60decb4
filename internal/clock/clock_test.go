package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_AfterFunc(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMock(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "second") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "first") })
	assert.Equal(t, 2, c.Pending())

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, fired)

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"first", "second"}, fired)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, start.Add(2500*time.Millisecond), c.Now())
}

func TestMockClock_Stop(t *testing.T) {
	c := NewMock(time.Now())

	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, called)
	assert.Equal(t, 0, c.Pending())
}

func TestMockClock_After(t *testing.T) {
	c := NewMock(time.Now())
	ch := c.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before the clock moved")
	default:
	}

	c.Advance(5 * time.Second)

	select {
	case <-ch:
	default:
		t.Fatal("After did not fire")
	}
}
