// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package agent_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorcerer-dev/sorcerer/internal/agent"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

func TestLane_SerializesWork(t *testing.T) {
	lane := agent.NewLane("scout-1")
	defer lane.Close()

	var mu sync.Mutex
	var order []int
	var running, peak atomic.Int32

	var wg sync.WaitGroup
	for i := range 3 {
		time.Sleep(5 * time.Millisecond)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lane.Submit(context.Background(), func(context.Context) error {
				cur := running.Add(1)
				if cur > peak.Load() {
					peak.Store(cur)
				}
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order, "work runs in submission order")
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, lane.Pending())
}

func TestLane_CancelledBeforeStartDoesNotRun(t *testing.T) {
	lane := agent.NewLane("analyst-1")
	defer lane.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := lane.Submit(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
		assert.NoError(t, err)
	}()
	<-started
	assert.Equal(t, 1, lane.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := lane.Submit(ctx, func(context.Context) error {
		t.Error("cancelled work must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	wg.Wait()
}

func TestLane_DeadlineWhileRunningReturnsEarly(t *testing.T) {
	lane := agent.NewLane("verifier-1")
	defer lane.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := lane.Submit(ctx, func(context.Context) error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, lane.Pending(), "the stuck item still occupies the lane")

	close(release)
	require.Eventually(t, func() bool { return lane.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLane_RecoversPanics(t *testing.T) {
	lane := agent.NewLane("executor-1")
	defer lane.Close()

	err := lane.Submit(context.Background(), func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, sorcerr.IsExecutionFailed(err))

	assert.NoError(t, lane.Submit(context.Background(), func(context.Context) error { return nil }))
}

func TestLane_ClosedRejectsWork(t *testing.T) {
	lane := agent.NewLane("memory-1")
	lane.Close()
	lane.Close()

	err := lane.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, sorcerr.IsExecutionFailed(err))
}
