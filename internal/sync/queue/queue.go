// Package queue provides the durable mutation queue: create, update and
// delete operations awaiting delivery to the remote API, replayed in
// enqueue order with bounded retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
	"github.com/eodiceanne-star/heard-app-beta/internal/store"
	"github.com/eodiceanne-star/heard-app-beta/internal/uuid"
)

// DefaultMaxRetries is the number of failed deliveries after which an
// operation is dropped.
const DefaultMaxRetries = 3

// Kind is the type of mutation an operation carries.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Method returns the HTTP verb used to deliver the kind.
func (k Kind) Method() string {
	switch k {
	case KindCreate:
		return http.MethodPost
	case KindUpdate:
		return http.MethodPut
	case KindDelete:
		return http.MethodDelete
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k.Method() != ""
}

// Target names the local record an operation was produced for.
type Target struct {
	Collection string `json:"collection,omitempty"` // store key
	RecordID   string `json:"recordId,omitempty"`
}

// IsZero reports whether the target names no record.
func (t Target) IsZero() bool {
	return t.Collection == "" && t.RecordID == ""
}

// Operation is one queued mutation.
type Operation struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	Target
}

// DeliverFunc delivers one operation. A nil error means the remote
// acknowledged it.
type DeliverFunc func(ctx context.Context, op Operation) error

// DrainResult summarizes one pass over the queue.
type DrainResult struct {
	Delivered []Operation
	Failed    []Operation // kept for retry
	Dropped   []Operation // exhausted retries
	// Settled lists targets whose last queued operation was delivered in
	// this pass and that have nothing further queued.
	Settled   []Target
	Remaining int
}

// Queue is the persisted, ordered list of pending operations.
type Queue struct {
	mu         sync.Mutex
	drainMu    sync.Mutex
	store      *store.Store
	key        string
	maxRetries int
	newID      uuid.Generator
	now        func() time.Time
	logger     *logging.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries sets the retry limit.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithIDGenerator sets the operation id generator.
func WithIDGenerator(gen uuid.Generator) Option {
	return func(q *Queue) {
		q.newID = gen
	}
}

// WithClock sets the time source for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates a Queue persisted in s under the queuedRequests key.
func New(s *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:      s,
		key:        models.KeyQueue,
		maxRetries: DefaultMaxRetries,
		newID:      uuid.NewTimeOrdered,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logging.Get()
	}
	return q
}

// MaxRetries returns the retry limit.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue appends an operation and returns its id. It does not deliver.
func (q *Queue) Enqueue(kind Kind, endpoint string, payload interface{}) (string, error) {
	return q.EnqueueFor(Target{}, kind, endpoint, payload)
}

// EnqueueFor is Enqueue for an operation produced by a local record, so its
// acknowledgment can be traced back to that record.
func (q *Queue) EnqueueFor(target Target, kind Kind, endpoint string, payload interface{}) (string, error) {
	if !kind.Valid() {
		return "", apperrors.Newf(apperrors.ErrInvalid, "unknown operation kind %q", kind)
	}
	if !strings.HasPrefix(endpoint, "/") {
		return "", apperrors.Newf(apperrors.ErrInvalid, "endpoint must start with /: %q", endpoint)
	}

	op := Operation{
		ID:         q.newID(),
		Kind:       kind,
		Endpoint:   endpoint,
		EnqueuedAt: q.now(),
		Target:     target,
	}
	if kind != KindDelete && payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrSerialization, "failed to serialize payload", err)
		}
		op.Payload = data
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load()
	if err != nil {
		return "", err
	}
	ops = append(ops, op)
	if err := q.save(ops); err != nil {
		return "", err
	}

	q.logger.Debug("Enqueued operation", map[string]interface{}{
		"op_id":    op.ID,
		"kind":     string(op.Kind),
		"endpoint": op.Endpoint,
		"depth":    len(ops),
	})
	return op.ID, nil
}

// Drain attempts every queued operation in enqueue order. Delivered
// operations are removed; failed ones have Attempts incremented and stay
// queued until Attempts reaches the retry limit, when they are dropped and
// logged. A panicking deliver counts as a failure. Operations enqueued while
// the drain runs are kept for the next pass. If ctx ends, undelivered
// operations are left untouched.
func (q *Queue) Drain(ctx context.Context, deliver DeliverFunc) (*DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batch, err := q.load()
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	outcome := make(map[string]*Operation, len(batch))

	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		op := batch[i]

		deliverErr := safeDeliver(ctx, deliver, op)
		if deliverErr == nil {
			result.Delivered = append(result.Delivered, op)
			outcome[op.ID] = nil
			continue
		}
		if ctx.Err() != nil {
			// Interrupted, not failed: leave the operation as it was.
			break
		}

		op.Attempts++
		op.LastError = deliverErr.Error()
		fields := map[string]interface{}{
			"op_id":    op.ID,
			"kind":     string(op.Kind),
			"endpoint": op.Endpoint,
			"attempts": op.Attempts,
		}
		if op.Attempts >= q.maxRetries {
			q.logger.ErrorWithCode("Operation dropped after exhausting retries",
				string(apperrors.ErrRetryExhausted), deliverErr, fields)
			result.Dropped = append(result.Dropped, op)
			outcome[op.ID] = nil
			continue
		}
		q.logger.Warn("Delivery failed, will retry", fields, map[string]interface{}{"error": deliverErr.Error()})
		result.Failed = append(result.Failed, op)
		updated := op
		outcome[op.ID] = &updated
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load()
	if err != nil {
		return nil, err
	}

	merged := make([]Operation, 0, len(current))
	for _, op := range current {
		updated, seen := outcome[op.ID]
		switch {
		case !seen:
			merged = append(merged, op)
		case updated != nil:
			merged = append(merged, *updated)
		}
	}
	if err := q.save(merged); err != nil {
		return nil, err
	}

	result.Remaining = len(merged)
	result.Settled = settled(result.Delivered, merged)
	return result, nil
}

// safeDeliver calls deliver, converting a panic into an error.
func safeDeliver(ctx context.Context, deliver DeliverFunc, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return deliver(ctx, op)
}

// settled returns the targets of delivered operations that have no
// operation left in remaining.
func settled(delivered, remaining []Operation) []Target {
	pending := make(map[Target]bool, len(remaining))
	for _, op := range remaining {
		pending[op.Target] = true
	}

	var targets []Target
	seen := make(map[Target]bool)
	for _, op := range delivered {
		t := op.Target
		if t.IsZero() || pending[t] || seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets
}

// Size returns the number of queued operations.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load()
	if err != nil {
		q.logger.Error("Failed to read queue", err)
		return 0
	}
	return len(ops)
}

// List returns a copy of the queued operations in delivery order.
func (q *Queue) List() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load()
	if err != nil {
		q.logger.Error("Failed to read queue", err)
		return []Operation{}
	}
	return ops
}

// HasPending reports whether any queued operation targets t.
func (q *Queue) HasPending(t Target) bool {
	for _, op := range q.List() {
		if op.Target == t {
			return true
		}
	}
	return false
}

// Clear removes every queued operation.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.save([]Operation{}); err != nil {
		return err
	}
	q.logger.Info("Queue cleared")
	return nil
}

// load reads the persisted queue. Malformed data reads as empty.
func (q *Queue) load() ([]Operation, error) {
	var ops []Operation
	if _, err := q.store.Read(q.key, &ops); err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []Operation{}
	}
	return ops, nil
}

func (q *Queue) save(ops []Operation) error {
	return q.store.Write(q.key, ops)
}
