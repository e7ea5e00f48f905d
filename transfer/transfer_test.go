package transfer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/derMihai/condalf-core/transfer"
	"github.com/stretchr/testify/require"
)

type closeTrackingReader struct {
	*strings.Reader
	closed bool
}

func (c *closeTrackingReader) Close() error {
	c.closed = true
	return nil
}

func TestCompleteRunsCallbackExactlyOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	job := transfer.NewJob(strings.NewReader("data"), func(n int, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.Complete(4, nil)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestOwnsFileClosesOnComplete(t *testing.T) {
	r := &closeTrackingReader{Reader: strings.NewReader("data")}
	job := transfer.NewJob(r, nil)
	job.OwnsFile = true

	job.Complete(4, nil)
	require.True(t, r.closed)
}

func TestNotOwnsFileLeavesFileOpen(t *testing.T) {
	r := &closeTrackingReader{Reader: strings.NewReader("data")}
	job := transfer.NewJob(r, nil)

	job.Complete(4, nil)
	require.False(t, r.closed)
}

func TestWaitReturnsCompletionResult(t *testing.T) {
	job := transfer.NewJob(strings.NewReader("data"), nil)
	go job.Complete(7, nil)

	n, err := job.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestWaitReturnsContextError(t *testing.T) {
	job := transfer.NewJob(strings.NewReader("data"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := job.Wait(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNotSupportedIsAnError(t *testing.T) {
	err := transfer.NotSupported("try_recv")
	require.Error(t, err)
}
