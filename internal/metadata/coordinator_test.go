package metadata

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbcontext-go/dbcontext/internal/errs"
)

func TestCoordinator_CollapsesConcurrentCallers(t *testing.T) {
	c := NewCoordinator[string]()

	var fetches atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func(ctx context.Context) (string, error) {
		fetches.Add(1)
		close(started)
		<-release
		return "value", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errors := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errors[0] = c.Do(context.Background(), "k", fn)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errors[i] = c.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
				t.Error("second fetch started despite in-flight one")
				return "", nil
			})
		}()
	}

	// Give the attachers time to observe the pending call, then finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errors[i])
		assert.Equal(t, "value", results[i])
	}
}

func TestCoordinator_FailureNotCached(t *testing.T) {
	c := NewCoordinator[int]()

	calls := 0
	fail := func(ctx context.Context) (int, error) {
		calls++
		return 0, errs.New(errs.ErrKindQueryFailed, "boom")
	}

	_, err := c.Do(context.Background(), "k", fail)
	require.Error(t, err)

	// The failed call left no state behind; the next request fetches again.
	v, err := c.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
	assert.Zero(t, c.InFlight())
}

func TestCoordinator_ErrorFanOutIdentical(t *testing.T) {
	c := NewCoordinator[int]()
	fetchErr := errs.New(errs.ErrKindQueryFailed, "backend down")

	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	errsSeen := make([]error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errsSeen[0] = c.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 0, fetchErr
		})
	}()
	<-started

	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errsSeen[i] = c.Do(context.Background(), "k", nil)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errsSeen {
		assert.Same(t, fetchErr, err)
	}
}

func TestCoordinator_DetachedCallerDoesNotAbortFetch(t *testing.T) {
	c := NewCoordinator[string]()

	fetchDone := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, "k", func(fctx context.Context) (string, error) {
		defer close(fetchDone)
		select {
		case <-fctx.Done():
			t.Error("fetch context cancelled by abandoning caller")
		case <-time.After(60 * time.Millisecond):
		}
		return "late", nil
	})
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))

	select {
	case <-fetchDone:
	case <-time.After(time.Second):
		t.Fatal("in-flight fetch did not complete after caller detached")
	}
}
