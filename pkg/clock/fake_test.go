package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.UnixMilli(1_000_000)
	c := NewFake(start)

	var order []string
	c.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })

	c.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, c.Pending())

	c.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, start.Add(30*time.Millisecond), c.Now())
}

func TestFake_StopPreventsCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, []time.Duration{time.Second}, c.Delays())
}

func TestFake_CallbackMaySchedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, c.Pending())
}

func TestOrReal(t *testing.T) {
	assert.NotNil(t, OrReal(nil))
	fake := NewFake(time.Unix(0, 0))
	assert.Same(t, fake, OrReal(fake))
}
