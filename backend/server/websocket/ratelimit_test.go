package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(rate.Every(time.Hour), 2)

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))

	// other addresses have their own bucket
	assert.True(t, l.allow("10.0.0.2"))
}

func TestIPLimiter_EvictsIdle(t *testing.T) {
	l := newIPLimiter(rate.Every(time.Hour), 1)
	l.idleTTL = time.Millisecond

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, l.allow("10.0.0.2"))
	assert.NotContains(t, l.limiters, "10.0.0.1")
	assert.True(t, l.allow("10.0.0.1"))
}
