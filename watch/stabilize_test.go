package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBitsetDiff(t *testing.T) {
	prev := map[int]bool{5: true, 6: true}
	cur := map[int]bool{6: true, 7: true}

	added, removed := bitsetDiff(prev, cur)
	assert.ElementsMatch(t, []int{7}, added)
	assert.ElementsMatch(t, []int{5}, removed)
}

func TestBitsetEqual(t *testing.T) {
	assert.True(t, bitsetEqual(map[int]bool{1: true, 2: true}, map[int]bool{2: true, 1: true}))
	assert.False(t, bitsetEqual(map[int]bool{1: true}, map[int]bool{1: true, 2: true}))
}

func TestSleepCancellable_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepCancellable(ctx, 5*time.Second)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSleepCancellable_CompletesNormally(t *testing.T) {
	err := sleepCancellable(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
}
