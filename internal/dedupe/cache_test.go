// ABOUTME: Tests for the webhook redelivery cache
// ABOUTME: Covers first-delivery pass-through, suppression, TTL, and eviction

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/teams-gateway/internal/activity"
)

func act(channelID, id string) *activity.Activity {
	return &activity.Activity{Type: activity.TypeMessage, ID: id, ChannelID: channelID}
}

func TestFirstDeliveryPassesRetryDropped(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen(act("msteams", "act-1")))
	assert.True(t, c.Seen(act("msteams", "act-1")))
}

func TestSameIDDifferentChannelNotDuplicate(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen(act("msteams", "act-1")))
	assert.False(t, c.Seen(act("emulator", "act-1")))
}

func TestMissingIDNeverSuppressed(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen(act("msteams", "")))
	assert.False(t, c.Seen(act("msteams", "")))
	assert.Zero(t, c.Len())
}

func TestExpiredEntryPassesAgain(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	assert.False(t, c.Seen(act("msteams", "act-1")))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Seen(act("msteams", "act-1")))
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 0; i < 4; i++ {
		c.Seen(act("msteams", fmt.Sprintf("act-%d", i)))
	}

	assert.Equal(t, 3, c.Len())
	// act-0 was evicted, so its retry passes through again.
	assert.False(t, c.Seen(act("msteams", "act-0")))
}

func TestConcurrentDeliveriesResolveToOne(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	var mu sync.Mutex
	passed := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen(act("msteams", "act-race")) {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, passed)
}

func TestForgetAllowsRedispatch(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen(act("msteams", "act-1")))
	c.Forget(act("msteams", "act-1"))
	assert.False(t, c.Seen(act("msteams", "act-1")))
	assert.Equal(t, 1, c.Len())
}

func TestForgetUnknownIsNoop(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	c.Forget(act("msteams", "never-seen"))
	c.Forget(act("msteams", ""))
	assert.Zero(t, c.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 100)
	c.Close()
	c.Close()
}
