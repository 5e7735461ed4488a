package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_CoalescesBurst(t *testing.T) {
	d := New(nil)

	var mu sync.Mutex
	var calls []int
	done := make(chan struct{}, 8)

	for i := 1; i <= 5; i++ {
		i := i
		d.Schedule(5, func() {
			mu.Lock()
			calls = append(calls, i)
			mu.Unlock()
			done <- struct{}{}
		}, 80*time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced action never ran")
	}
	// Give any stray timer a chance to fire.
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, 5, calls[0], "the last scheduled action wins")
	assert.Equal(t, 0, d.Pending())
}

func TestSchedule_TabsAreIndependent(t *testing.T) {
	d := New(nil)

	var n atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	d.Schedule(1, func() { n.Add(1); wg.Done() }, 10*time.Millisecond)
	d.Schedule(2, func() { n.Add(1); wg.Done() }, 10*time.Millisecond)
	wg.Wait()

	assert.Equal(t, int32(2), n.Load())
}

func TestCancel(t *testing.T) {
	d := New(nil)

	var n atomic.Int32
	d.Schedule(7, func() { n.Add(1) }, 20*time.Millisecond)
	assert.Equal(t, 1, d.Pending())
	d.Cancel(7)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
	assert.Equal(t, 0, d.Pending())
}

func TestStop(t *testing.T) {
	d := New(nil)

	var n atomic.Int32
	for tab := 0; tab < 3; tab++ {
		d.Schedule(tab, func() { n.Add(1) }, 20*time.Millisecond)
	}
	d.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
}

func TestRun_RecoversPanic(t *testing.T) {
	d := New(nil)

	done := make(chan struct{})
	d.Schedule(1, func() {
		defer close(done)
		panic("boom")
	}, 0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("action never ran")
	}
}
