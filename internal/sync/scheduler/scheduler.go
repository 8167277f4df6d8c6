// Package scheduler provides the sync orchestrator: it decides when the
// mutation queue is drained, owns the live sync status and fans status
// changes out to subscribers.
package scheduler

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/singleflight"

	"github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/queue"
)

// Queue is the mutation queue the scheduler drains.
type Queue interface {
	Drain(ctx context.Context, deliver queue.DeliverFunc) (*queue.DrainResult, error)
	Size() int
	List() []queue.Operation
	Clear() error
}

// Status is a snapshot of the sync state.
type Status struct {
	Online         bool       `json:"online"`
	QueueDepth     int        `json:"queueDepth"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	SyncInProgress bool       `json:"syncInProgress"`
}

// QueueDetails is the diagnostic view of the queue.
type QueueDetails struct {
	Count    int               `json:"count"`
	Requests []queue.Operation `json:"requests"`
}

// Listener receives every status change.
type Listener func(Status)

// AckHandler is told which records had their last queued operation
// acknowledged in a drain.
type AckHandler func(settled []queue.Target)

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // periodic drain while online; zero disables
	SettleDelay  time.Duration // wait after reconnecting before draining
	DrainTimeout time.Duration // bound on one drain pass
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 30 * time.Second,
		SettleDelay:  1 * time.Second,
		DrainTimeout: 5 * time.Minute,
	}
}

type subscriber struct {
	id int
	fn Listener
}

// Scheduler manages when the queue is drained.
type Scheduler struct {
	queue   Queue
	deliver queue.DeliverFunc
	onAck   AckHandler
	logger  *logging.Logger
	now     func() time.Time

	syncInterval time.Duration
	settleDelay  time.Duration
	drainTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	stopCh  chan struct{}
	wg      sync.WaitGroup
	drainWG sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	isForeground   bool
	syncInProgress bool
	lastSyncTime   time.Time
	generation     int
	settleTimer    *time.Timer
	lastPublished  *Status

	subMu       sync.Mutex
	subscribers []subscriber
	nextSubID   int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAckHandler sets the handler for acknowledged records.
func WithAckHandler(h AckHandler) Option {
	return func(s *Scheduler) {
		s.onAck = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithClock sets the time source for lastSyncAt.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithInitialOnline sets the connectivity assumed before the first report.
func WithInitialOnline(online bool) Option {
	return func(s *Scheduler) {
		s.isOnline = online
	}
}

// NewScheduler creates a Scheduler that drains q through deliver.
func NewScheduler(q Queue, deliver queue.DeliverFunc, config *SchedulerConfig, opts ...Option) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	defaults := DefaultSchedulerConfig()
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		queue:        q,
		deliver:      deliver,
		now:          time.Now,
		syncInterval: config.SyncInterval,
		settleDelay:  config.SettleDelay,
		drainTimeout: config.DrainTimeout,
		ctx:          ctx,
		cancel:       cancel,
		stopCh:       make(chan struct{}),
		isOnline:     true, // Assume online until connectivity reports otherwise
		isForeground: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Get()
	}
	return s
}

// Start starts the periodic drain loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.syncInterval > 0 {
		s.wg.Add(1)
		go s.periodicSyncLoop(ctx)
	}

	s.logger.Info("Sync scheduler started", map[string]interface{}{
		"interval_seconds": s.syncInterval.Seconds(),
	})
}

// Stop stops the loop, cancels any in-flight drain and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	// Cancelled under mu so begin, which checks ctx under mu, cannot add to
	// drainWG once the wait below has started.
	s.cancel()
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.drainWG.Wait()

	s.logger.Info("Sync scheduler stopped")
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.RequestSync() {
				s.logger.Debug("Periodic drain skipped")
			}
		}
	}
}

// SetOnlineStatus records a connectivity change. Coming back online
// schedules a drain after the settle delay; going offline cancels it.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline

	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	if isOnline && !wasOnline {
		s.settleTimer = time.AfterFunc(s.settleDelay, func() {
			s.RequestSync()
		})
	}
	s.mu.Unlock()

	if wasOnline != isOnline {
		s.logger.Info("Online status changed", map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})
		s.publish(true)
	}
}

// SetForeground records whether the app is visible. Becoming visible while
// online requests a drain.
func (s *Scheduler) SetForeground(visible bool) {
	s.mu.Lock()
	was := s.isForeground
	s.isForeground = visible
	s.mu.Unlock()

	if visible && !was {
		s.RequestSync()
	}
}

// QueueChanged tells the scheduler operations were added or removed. It
// publishes the new status and requests a drain.
func (s *Scheduler) QueueChanged() {
	s.publish(true)
	s.RequestSync()
}

// RequestSync starts a background drain if online, idle and the queue is
// non-empty. It reports whether a drain was started.
func (s *Scheduler) RequestSync() bool {
	if s.queue.Size() == 0 {
		return false
	}
	_, started := s.begin(false)
	return started
}

// SyncNow drains immediately and waits for the result, even if the queue is
// empty. If a drain is already running it waits for that one instead.
func (s *Scheduler) SyncNow(ctx context.Context) (*queue.DrainResult, error) {
	ch, _ := s.begin(true)
	if ch == nil {
		return nil, errors.New(errors.ErrOffline, "cannot sync while offline")
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*queue.DrainResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// begin starts a drain, or with join attaches to the running one. It
// returns a nil channel when no drain was started or joined.
func (s *Scheduler) begin(join bool) (<-chan singleflight.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncInProgress {
		if !join {
			return nil, false
		}
		// The running call stays registered under this key until after
		// syncInProgress is cleared.
		return s.group.DoChan(strconv.Itoa(s.generation), s.runDrain), false
	}
	if !s.isOnline || s.ctx.Err() != nil {
		return nil, false
	}

	s.syncInProgress = true
	s.generation++
	s.drainWG.Add(1)
	return s.group.DoChan(strconv.Itoa(s.generation), s.runDrain), true
}

// runDrain performs one pass. Only begin calls it, with syncInProgress set.
func (s *Scheduler) runDrain() (interface{}, error) {
	defer s.drainWG.Done()

	s.publish(true)

	ctx, cancel := context.WithTimeout(s.ctx, s.drainTimeout)
	defer cancel()

	start := s.now()
	result, err := s.queue.Drain(ctx, s.deliver)
	if err == nil && s.onAck != nil && len(result.Settled) > 0 {
		s.safeAck(result.Settled)
	}

	s.mu.Lock()
	s.syncInProgress = false
	if err == nil {
		s.lastSyncTime = s.now()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.ErrorWithCode("Drain failed", string(errors.ErrSyncFailed), err)
	} else {
		s.logger.Info("Drain completed", map[string]interface{}{
			"delivered":   len(result.Delivered),
			"failed":      len(result.Failed),
			"dropped":     len(result.Dropped),
			"remaining":   result.Remaining,
			"duration_ms": s.now().Sub(start).Milliseconds(),
		})
	}

	s.publish(true)
	return result, err
}

func (s *Scheduler) safeAck(settled []queue.Target) {
	var pc panics.Catcher
	pc.Try(func() { s.onAck(settled) })
	if r := pc.Recovered(); r != nil {
		s.logger.Error("Ack handler panicked", r.AsError())
	}
}

// Status returns the current status.
func (s *Scheduler) Status() Status {
	depth := s.queue.Size()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Online:         s.isOnline,
		QueueDepth:     depth,
		SyncInProgress: s.syncInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncAt = &t
	}
	return status
}

// IsOnline returns whether the scheduler believes the remote is reachable.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsSyncing returns whether a drain is in progress.
func (s *Scheduler) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncInProgress
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// LastSyncTime returns when the last drain completed, or nil.
func (s *Scheduler) LastSyncTime() *time.Time {
	return s.Status().LastSyncAt
}

// QueueDetails returns a read-only copy of the queued operations.
func (s *Scheduler) QueueDetails() QueueDetails {
	ops := s.queue.List()
	return QueueDetails{Count: len(ops), Requests: ops}
}

// ClearQueue empties the queue and publishes the new status.
func (s *Scheduler) ClearQueue() error {
	if err := s.queue.Clear(); err != nil {
		return err
	}
	s.publish(true)
	return nil
}

// Refresh re-reads the queue and publishes only if the status changed.
func (s *Scheduler) Refresh() {
	s.publish(false)
}

// Subscribe registers fn for status changes and returns a function that
// removes it. Unsubscribing more than once is harmless.
func (s *Scheduler) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// publish sends the current status to every subscriber. Without force it
// does nothing when the status equals the last one published.
func (s *Scheduler) publish(force bool) {
	status := s.Status()

	s.mu.Lock()
	if !force && s.lastPublished != nil && sameStatus(*s.lastPublished, status) {
		s.mu.Unlock()
		return
	}
	s.lastPublished = &status
	s.mu.Unlock()

	s.subMu.Lock()
	subs := make([]subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, sub := range subs {
		var pc panics.Catcher
		pc.Try(func() { sub.fn(status) })
		if r := pc.Recovered(); r != nil {
			s.logger.Error("Status listener panicked", r.AsError(), map[string]interface{}{
				"subscriber": sub.id,
			})
		}
	}
}

func sameStatus(a, b Status) bool {
	if a.Online != b.Online || a.QueueDepth != b.QueueDepth || a.SyncInProgress != b.SyncInProgress {
		return false
	}
	if (a.LastSyncAt == nil) != (b.LastSyncAt == nil) {
		return false
	}
	return a.LastSyncAt == nil || a.LastSyncAt.Equal(*b.LastSyncAt)
}
