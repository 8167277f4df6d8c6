// Package scheduler tests for sync orchestration.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
	"github.com/eodiceanne-star/heard-app-beta/internal/store"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

// stubTransport is a deliver function whose behaviour tests control.
type stubTransport struct {
	mu      sync.Mutex
	calls   map[string]int
	order   []string
	fail    bool
	gate    chan struct{} // when non-nil, deliveries wait on it
	entered chan struct{}
}

func newStub() *stubTransport {
	return &stubTransport{calls: make(map[string]int), entered: make(chan struct{}, 100)}
}

func (s *stubTransport) deliver(ctx context.Context, op queue.Operation) error {
	s.entered <- struct{}{}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op.ID]++
	s.order = append(s.order, op.Endpoint)
	if s.fail {
		return errors.New("503")
	}
	return nil
}

func (s *stubTransport) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func testLogger() *logging.Logger {
	return logging.New(&bytes.Buffer{}, logging.LevelDebug)
}

func createTestScheduler(t *testing.T, stub *stubTransport, config *SchedulerConfig, opts ...Option) (*queue.Queue, *Scheduler) {
	t.Helper()
	logger := testLogger()
	q := queue.New(store.New(store.NewMemory(), store.WithLogger(logger)), queue.WithLogger(logger))
	if config == nil {
		config = &SchedulerConfig{SettleDelay: 10 * time.Millisecond, DrainTimeout: 5 * time.Second}
	}
	opts = append([]Option{WithLogger(logger)}, opts...)
	s := NewScheduler(q, stub.deliver, config, opts...)
	t.Cleanup(func() {
		s.Stop()
	})
	return q, s
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.IsSyncing() }, 3*time.Second, 2*time.Millisecond)
}

// statusRecorder collects published statuses.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) listen(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *statusRecorder) snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

// =====================================================
// Configuration Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	assert.Equal(t, 30*time.Second, config.SyncInterval)
	assert.Equal(t, time.Second, config.SettleDelay)
	assert.Equal(t, 5*time.Minute, config.DrainTimeout)
}

// TestNewScheduler_defaults verifies initial state.
func TestNewScheduler_defaults(t *testing.T) {
	_, s := createTestScheduler(t, newStub(), nil)

	status := s.Status()
	assert.True(t, status.Online)
	assert.Equal(t, 0, status.QueueDepth)
	assert.Nil(t, status.LastSyncAt)
	assert.False(t, status.SyncInProgress)
	assert.False(t, s.IsRunning())
}

// =====================================================
// Drain Trigger Tests
// =====================================================

// TestScheduler_statusRoundTrip verifies subscribers see depth 1 to 0 and
// syncInProgress true to false around a drain.
func TestScheduler_statusRoundTrip(t *testing.T) {
	stub := newStub()
	q, s := createTestScheduler(t, stub, nil)
	rec := &statusRecorder{}
	s.Subscribe(rec.listen)

	_, err := q.Enqueue(queue.KindCreate, "/symptoms", map[string]int{"painLevel": 7})
	require.NoError(t, err)
	s.QueueChanged()
	require.Eventually(t, func() bool {
		statuses := rec.snapshot()
		last := statuses[len(statuses)-1]
		return last.QueueDepth == 0 && !last.SyncInProgress
	}, 3*time.Second, 2*time.Millisecond)

	statuses := rec.snapshot()
	require.GreaterOrEqual(t, len(statuses), 3)

	first := statuses[0]
	assert.Equal(t, 1, first.QueueDepth)
	assert.False(t, first.SyncInProgress)

	var sawInProgress bool
	for _, st := range statuses {
		if st.SyncInProgress {
			sawInProgress = true
			assert.Equal(t, 1, st.QueueDepth)
		}
	}
	assert.True(t, sawInProgress)

	last := statuses[len(statuses)-1]
	assert.Equal(t, 0, last.QueueDepth)
	assert.False(t, last.SyncInProgress)
	assert.NotNil(t, last.LastSyncAt)
}

// TestScheduler_noConcurrentDrains verifies a second request during a drain is a no-op.
func TestScheduler_noConcurrentDrains(t *testing.T) {
	stub := newStub()
	stub.gate = make(chan struct{})
	q, s := createTestScheduler(t, stub, nil)

	for _, ep := range []string{"/a", "/b", "/c"} {
		_, err := q.Enqueue(queue.KindCreate, ep, nil)
		require.NoError(t, err)
	}

	assert.True(t, s.RequestSync())
	assert.False(t, s.RequestSync())
	assert.True(t, s.IsSyncing())

	close(stub.gate)
	waitIdle(t, s)

	assert.Equal(t, 3, stub.total())
	for id, n := range stub.calls {
		assert.Equal(t, 1, n, "operation %s delivered more than once", id)
	}
	assert.Equal(t, []string{"/a", "/b", "/c"}, stub.order)
	assert.Equal(t, 0, q.Size())
}

// TestScheduler_SyncNowJoinsInFlight verifies a manual sync waits for the running drain.
func TestScheduler_SyncNowJoinsInFlight(t *testing.T) {
	stub := newStub()
	stub.gate = make(chan struct{})
	q, s := createTestScheduler(t, stub, nil)

	_, err := q.Enqueue(queue.KindUpdate, "/profile", map[string]string{"bio": "hi"})
	require.NoError(t, err)
	require.True(t, s.RequestSync())
	<-stub.entered

	done := make(chan *queue.DrainResult, 1)
	go func() {
		result, err := s.SyncNow(context.Background())
		assert.NoError(t, err)
		done <- result
	}()

	close(stub.gate)
	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Len(t, result.Delivered, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("SyncNow did not return")
	}
	assert.Equal(t, 1, stub.total())
}

// TestScheduler_SyncNow_emptyQueue verifies a forced sync runs with nothing queued.
func TestScheduler_SyncNow_emptyQueue(t *testing.T) {
	_, s := createTestScheduler(t, newStub(), nil)

	assert.False(t, s.RequestSync())

	result, err := s.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Delivered)
	assert.NotNil(t, s.LastSyncTime())
}

// TestScheduler_SyncNow_offline verifies manual sync is refused offline.
func TestScheduler_SyncNow_offline(t *testing.T) {
	_, s := createTestScheduler(t, newStub(), nil, WithInitialOnline(false))

	_, err := s.SyncNow(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrOffline))
}

// TestScheduler_offlineThenReconnect verifies triggers are ignored offline and
// reconnecting drains after the settle delay.
func TestScheduler_offlineThenReconnect(t *testing.T) {
	stub := newStub()
	q, s := createTestScheduler(t, stub, nil, WithInitialOnline(false))

	_, err := q.Enqueue(queue.KindCreate, "/symptoms", nil)
	require.NoError(t, err)
	s.QueueChanged()
	assert.False(t, s.RequestSync())
	assert.Equal(t, 0, stub.total())

	s.SetOnlineStatus(true)
	require.Eventually(t, func() bool { return q.Size() == 0 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, stub.total())
}

// TestScheduler_offlineCancelsSettle verifies going offline within the settle delay prevents the drain.
func TestScheduler_offlineCancelsSettle(t *testing.T) {
	stub := newStub()
	q, s := createTestScheduler(t, stub, &SchedulerConfig{SettleDelay: 50 * time.Millisecond}, WithInitialOnline(false))

	_, err := q.Enqueue(queue.KindCreate, "/symptoms", nil)
	require.NoError(t, err)

	s.SetOnlineStatus(true)
	s.SetOnlineStatus(false)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 0, stub.total())
	assert.Equal(t, 1, q.Size())
}

// TestScheduler_foreground verifies returning to the foreground requests a drain.
func TestScheduler_foreground(t *testing.T) {
	stub := newStub()
	q, s := createTestScheduler(t, stub, nil)

	s.SetForeground(false)
	_, err := q.Enqueue(queue.KindCreate, "/music", nil)
	require.NoError(t, err)

	s.SetForeground(true)
	require.Eventually(t, func() bool { return q.Size() == 0 }, 3*time.Second, 5*time.Millisecond)
}

// TestScheduler_periodic verifies the ticker drains queued operations.
func TestScheduler_periodic(t *testing.T) {
	stub := newStub()
	q, s := createTestScheduler(t, stub, &SchedulerConfig{SyncInterval: 20 * time.Millisecond})

	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	_, err := q.Enqueue(queue.KindDelete, "/doctors/1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Size() == 0 }, 3*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
}

// TestScheduler_retryExhaustion verifies a failing operation is dropped and
// lastSyncAt still advances.
func TestScheduler_retryExhaustion(t *testing.T) {
	stub := newStub()
	stub.fail = true
	q, s := createTestScheduler(t, stub, nil)

	_, err := q.Enqueue(queue.KindCreate, "/reviews", nil)
	require.NoError(t, err)

	for i := 0; i < queue.DefaultMaxRetries; i++ {
		_, err := s.SyncNow(context.Background())
		require.NoError(t, err)
	}

	details := s.QueueDetails()
	assert.Equal(t, 0, details.Count)
	assert.Empty(t, details.Requests)
	assert.Equal(t, queue.DefaultMaxRetries, stub.total())
	assert.NotNil(t, s.LastSyncTime())
}

// TestScheduler_ackHandler verifies settled targets are reported.
func TestScheduler_ackHandler(t *testing.T) {
	var acked []queue.Target
	var mu sync.Mutex
	stub := newStub()
	q, s := createTestScheduler(t, stub, nil, WithAckHandler(func(targets []queue.Target) {
		mu.Lock()
		acked = append(acked, targets...)
		mu.Unlock()
	}))

	target := queue.Target{Collection: "symptomEntries", RecordID: "e1"}
	_, err := q.EnqueueFor(target, queue.KindCreate, "/symptoms", nil)
	require.NoError(t, err)

	_, err = s.SyncNow(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []queue.Target{target}, acked)
}

// TestScheduler_ackHandlerPanic verifies a panicking ack handler does not wedge the scheduler.
func TestScheduler_ackHandlerPanic(t *testing.T) {
	q, s := createTestScheduler(t, newStub(), nil, WithAckHandler(func([]queue.Target) {
		panic("boom")
	}))
	_, err := q.EnqueueFor(queue.Target{Collection: "c", RecordID: "r"}, queue.KindCreate, "/c", nil)
	require.NoError(t, err)

	_, err = s.SyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, s.IsSyncing())
}

// TestScheduler_Stop verifies an in-flight drain is cancelled and waited for.
func TestScheduler_Stop(t *testing.T) {
	stub := newStub()
	stub.gate = make(chan struct{})
	q, s := createTestScheduler(t, stub, nil)
	s.Start(context.Background())

	_, err := q.Enqueue(queue.KindCreate, "/a", nil)
	require.NoError(t, err)
	require.True(t, s.RequestSync())
	<-stub.entered

	s.Stop()
	assert.False(t, s.IsSyncing())
	assert.False(t, s.RequestSync())
}

// TestScheduler_StopDuringRequests verifies no drain starts once Stop has begun.
func TestScheduler_StopDuringRequests(t *testing.T) {
	stub := newStub()
	q, s := createTestScheduler(t, stub, nil)
	s.Start(context.Background())
	_, err := q.Enqueue(queue.KindCreate, "/a", nil)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.RequestSync()
					_, _ = s.SyncNow(context.Background())
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	s.Stop()
	assert.False(t, s.IsSyncing())
	after := stub.total()
	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, after, stub.total(), "no deliveries after Stop")
	assert.False(t, s.RequestSync())
}

// =====================================================
// Subscription Tests
// =====================================================

// TestScheduler_listenerPanic verifies a panicking listener does not stop others.
func TestScheduler_listenerPanic(t *testing.T) {
	_, s := createTestScheduler(t, newStub(), nil)

	var calls int32
	s.Subscribe(func(Status) { panic("listener bug") })
	s.Subscribe(func(Status) { atomic.AddInt32(&calls, 1) })

	s.SetOnlineStatus(false)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestScheduler_unsubscribeDuringNotify verifies unsubscribing inside a callback is safe.
func TestScheduler_unsubscribeDuringNotify(t *testing.T) {
	_, s := createTestScheduler(t, newStub(), nil)

	var first, second int
	var unsubscribe func()
	unsubscribe = s.Subscribe(func(Status) {
		first++
		unsubscribe()
	})
	s.Subscribe(func(Status) { second++ })

	s.SetOnlineStatus(false)
	s.SetOnlineStatus(true)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	unsubscribe()
}

// TestScheduler_Refresh verifies unchanged status is not republished.
func TestScheduler_Refresh(t *testing.T) {
	q, s := createTestScheduler(t, newStub(), nil, WithInitialOnline(false))
	rec := &statusRecorder{}
	s.Subscribe(rec.listen)

	s.Refresh()
	s.Refresh()
	require.Len(t, rec.snapshot(), 1)

	_, err := q.Enqueue(queue.KindCreate, "/a", nil)
	require.NoError(t, err)
	s.Refresh()

	statuses := rec.snapshot()
	require.Len(t, statuses, 2)
	assert.Equal(t, 1, statuses[1].QueueDepth)
}

// TestScheduler_ClearQueue verifies clearing publishes an empty queue.
func TestScheduler_ClearQueue(t *testing.T) {
	q, s := createTestScheduler(t, newStub(), nil, WithInitialOnline(false))
	rec := &statusRecorder{}
	s.Subscribe(rec.listen)

	_, err := q.Enqueue(queue.KindCreate, "/a", nil)
	require.NoError(t, err)
	require.NoError(t, s.ClearQueue())

	statuses := rec.snapshot()
	require.NotEmpty(t, statuses)
	assert.Equal(t, 0, statuses[len(statuses)-1].QueueDepth)
	assert.Equal(t, 0, s.Status().QueueDepth)
}
