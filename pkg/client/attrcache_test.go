package client

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/winfsp/cgofuse/fuse"
)

func testStat(size int64) *fuse.Stat_t {
	return &fuse.Stat_t{Size: size, Mode: 0o100644}
}

func TestAttrCacheHit(t *testing.T) {
	c := NewAttrCache(100, time.Minute)
	c.Set("/f", testStat(42))

	var st fuse.Stat_t
	assert.True(t, c.CopyStat("/f", &st))
	assert.Equal(t, int64(42), st.Size)
}

func TestAttrCacheMiss(t *testing.T) {
	c := NewAttrCache(100, time.Minute)

	var st fuse.Stat_t
	assert.False(t, c.CopyStat("/nope", &st))
}

func TestAttrCacheReturnsCopies(t *testing.T) {
	c := NewAttrCache(100, time.Minute)
	c.Set("/f", testStat(1))

	var first fuse.Stat_t
	c.CopyStat("/f", &first)
	first.Size = 999

	var second fuse.Stat_t
	assert.True(t, c.CopyStat("/f", &second))
	assert.Equal(t, int64(1), second.Size)
}

func TestAttrCacheExpiry(t *testing.T) {
	c := NewAttrCache(100, 10*time.Second)

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	c.Set("/f", testStat(1))

	clock = clock.Add(9 * time.Second)
	var st fuse.Stat_t
	assert.True(t, c.CopyStat("/f", &st), "entry inside max age")

	clock = clock.Add(2 * time.Second)
	assert.False(t, c.CopyStat("/f", &st), "entry over max age is evicted on lookup")
	assert.Equal(t, 0, c.Len(), "the over-age entry is gone, not just hidden")
}

func TestAttrCacheRemove(t *testing.T) {
	c := NewAttrCache(100, time.Minute)
	c.Set("/f", testStat(1))
	c.Remove("/f")

	var st fuse.Stat_t
	assert.False(t, c.CopyStat("/f", &st))
}

func TestAttrCacheShrinkDropsAgedFirst(t *testing.T) {
	c := NewAttrCache(100, 10*time.Second)

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	for i := 0; i < 60; i++ {
		c.Set(fmt.Sprintf("/old/%d", i), testStat(int64(i)))
	}
	clock = clock.Add(time.Minute)
	for i := 0; i < 40; i++ {
		c.Set(fmt.Sprintf("/new/%d", i), testStat(int64(i)))
	}

	// cache is at capacity; the next insert shrinks the 60 aged entries away
	c.Set("/trigger", testStat(0))

	assert.Equal(t, 41, c.Len())
	var st fuse.Stat_t
	assert.True(t, c.CopyStat("/new/7", &st))
	assert.False(t, c.CopyStat("/old/7", &st))
}

func TestAttrCacheShrinkFallsBackToBatch(t *testing.T) {
	c := NewAttrCache(100, time.Hour)

	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("/live/%d", i), testStat(int64(i)))
	}

	// nothing is over age, so a full batch of live entries must go
	c.Set("/trigger", testStat(0))

	assert.Equal(t, 100-DefaultCacheBatchSize+1, c.Len())
}

func TestAttrCacheDisabled(t *testing.T) {
	c := NewAttrCache(0, time.Minute)
	c.Set("/f", testStat(1))

	var st fuse.Stat_t
	assert.False(t, c.CopyStat("/f", &st))
}
