package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresInFIFOOrderForEqualDelay(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		s.Schedule(10*time.Millisecond, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestEarlierDeadlineFiresFirst(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)
	s.Schedule(40*time.Millisecond, func() {
		mu.Lock()
		order = append(order, "late")
		mu.Unlock()
		wg.Done()
	})
	s.Schedule(5*time.Millisecond, func() {
		mu.Lock()
		order = append(order, "early")
		mu.Unlock()
		wg.Done()
	})
	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestPanicInCallbackDoesNotStopWorker(t *testing.T) {
	s := New()
	var recovered any
	s.OnPanic = func(r any) { recovered = r }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	s.Schedule(time.Millisecond, func() {
		defer wg.Done()
		panic("boom")
	})
	s.Schedule(5*time.Millisecond, func() {
		defer wg.Done()
	})
	waitOrTimeout(t, &wg, time.Second)
	assert.Equal(t, "boom", recovered)
}

func TestScheduleAfterCloseIsNoop(t *testing.T) {
	s := New()
	s.Close()
	ran := false
	s.Schedule(time.Millisecond, func() { ran = true })
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		require.Fail(t, "timed out waiting for callbacks")
	}
}
