package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeyIsStableAcrossParamOrder(t *testing.T) {
	a := cacheKey("GET", "http://x/api", map[string]string{"b": "2", "a": "1"})
	b := cacheKey("GET", "http://x/api", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
}

func TestCacheKeyDistinguishesParams(t *testing.T) {
	a := cacheKey("GET", "http://x/api", map[string]string{"component": "p1"})
	b := cacheKey("GET", "http://x/api", map[string]string{"component": "p2"})
	assert.NotEqual(t, a, b)
}

func TestResponseCacheHitAndExpiry(t *testing.T) {
	c := newResponseCache(50 * time.Millisecond)

	c.set("k", "value")
	got, ok := c.get("k")
	assert.True(t, ok)
	assert.Equal(t, "value", got)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.get("k")
	assert.False(t, ok, "entry must expire after the TTL")
}

func TestResponseCacheDisabledWhenTTLZero(t *testing.T) {
	c := newResponseCache(0)
	c.set("k", "value")
	_, ok := c.get("k")
	assert.False(t, ok)
}

func TestResponseCacheMiss(t *testing.T) {
	c := newResponseCache(time.Minute)
	_, ok := c.get("absent")
	assert.False(t, ok)
}
