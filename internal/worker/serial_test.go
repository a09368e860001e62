package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/logging"
)

func startSerial(t *testing.T) *Serial {
	t.Helper()
	var wg sync.WaitGroup
	s := NewSerial(logging.Discard(), 16)
	s.Start(&wg)
	t.Cleanup(func() {
		s.Stop()
		wg.Wait()
	})
	return s
}

func TestSerialDoReturnsJobError(t *testing.T) {
	s := startSerial(t)
	boom := errors.New("boom")
	err := s.Do(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSerialJobsNeverOverlap(t *testing.T) {
	s := startSerial(t)

	var mu sync.Mutex
	running, maxRunning := 0, 0
	job := func(ctx context.Context) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Do(context.Background(), job))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxRunning)
}

func TestSerialSubmitRunsInOrder(t *testing.T) {
	s := startSerial(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		s.Submit("append", func(ctx context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	// Do is queued behind the submitted jobs.
	require.NoError(t, s.Do(context.Background(), func(ctx context.Context) error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestSerialRecoversPanics(t *testing.T) {
	s := startSerial(t)
	err := s.Do(context.Background(), func(ctx context.Context) error { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.NoError(t, s.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestInlineRunsImmediately(t *testing.T) {
	ran := false
	Inline{}.Submit("x", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
}
