package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestKeyedLimiterThrottlesPerKey(t *testing.T) {
	kl := newKeyedLimiter(rate.Every(time.Minute), 1)

	assert.True(t, kl.Allow("challenge:a"))
	assert.False(t, kl.Allow("challenge:a"))

	// A different key has its own bucket.
	assert.True(t, kl.Allow("challenge:b"))
}

func TestKeyedLimiterRefills(t *testing.T) {
	kl := newKeyedLimiter(rate.Every(10*time.Millisecond), 1)

	assert.True(t, kl.Allow("k"))
	assert.False(t, kl.Allow("k"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, kl.Allow("k"))
}
