package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu    sync.Mutex
	up    bool
	calls int
}

func (f *fakePinger) Ping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.up {
		return nil
	}
	return errors.New("connection refused")
}

func (f *fakePinger) set(up bool) {
	f.mu.Lock()
	f.up = up
	f.mu.Unlock()
}

// TestMonitor_Check verifies only transitions are reported.
func TestMonitor_Check(t *testing.T) {
	pinger := &fakePinger{}
	var changes []bool
	m := New(pinger, "/health", time.Second, func(online bool) { changes = append(changes, online) })

	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.Check(context.Background()))
	pinger.set(true)
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.Check(context.Background()))
	pinger.set(false)
	assert.False(t, m.Check(context.Background()))

	assert.Equal(t, []bool{false, true, false}, changes)
	assert.False(t, m.Online())
}

// TestMonitor_StartStop verifies the check loop runs and stops.
func TestMonitor_StartStop(t *testing.T) {
	pinger := &fakePinger{up: true}
	changed := make(chan bool, 4)
	m := New(pinger, "/health", 10*time.Millisecond, func(online bool) { changed <- online })

	m.Start(context.Background())
	m.Start(context.Background())

	select {
	case online := <-changed:
		assert.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("expected initial check")
	}

	require.Eventually(t, func() bool {
		pinger.mu.Lock()
		defer pinger.mu.Unlock()
		return pinger.calls >= 3
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.True(t, m.Online())
}
