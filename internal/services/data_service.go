// Package services provides the entity data service: the only write path
// into local collections. Every change is stored locally first and then
// queued for delivery to the remote API.
package services

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
	"github.com/eodiceanne-star/heard-app-beta/internal/store"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/queue"
	"github.com/eodiceanne-star/heard-app-beta/internal/uuid"
)

// ErrNotFound is wrapped by errors for records that do not exist.
var ErrNotFound = errors.New("record not found")

// Notifier is told when the queue gained operations.
type Notifier interface {
	QueueChanged()
}

// collection is the type-erased view of a Collection used for status,
// acknowledgment and backup.
type collection interface {
	Info() models.Collection
	markSynced(ids map[string]bool) (int, error)
	counts() (total, synced int)
}

// DataService owns the local collections and the profile.
type DataService struct {
	// Collections
	Symptoms     *Collection[models.SymptomEntry, *models.SymptomEntry]
	Appointments *Collection[models.Appointment, *models.Appointment]
	Doctors      *Collection[models.Doctor, *models.Doctor]
	Reviews      *Collection[models.Review, *models.Review]
	Forum        *Collection[models.ForumThread, *models.ForumThread]
	Music        *Collection[models.MusicTrack, *models.MusicTrack]
	Questions    *Collection[models.CustomQuestion, *models.CustomQuestion]

	store    *store.Store
	queue    *queue.Queue
	notifier Notifier
	newID    uuid.Generator
	now      func() time.Time
	logger   *logging.Logger

	registry []collection

	// mu serializes read-modify-write cycles on collection keys.
	mu sync.Mutex
}

// Option configures a DataService.
type Option func(*DataService)

// WithIDGenerator sets the record id generator.
func WithIDGenerator(gen uuid.Generator) Option {
	return func(s *DataService) {
		s.newID = gen
	}
}

// WithClock sets the time source for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *DataService) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *DataService) {
		s.logger = l
	}
}

// NewDataService creates a DataService over st, queueing changes on q.
func NewDataService(st *store.Store, q *queue.Queue, opts ...Option) *DataService {
	s := &DataService{
		store: st,
		queue: q,
		newID: uuid.New,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Get()
	}

	s.Symptoms = newCollection[models.SymptomEntry](s, models.Symptoms)
	s.Appointments = newCollection[models.Appointment](s, models.Appointments)
	s.Doctors = newCollection[models.Doctor](s, models.Doctors)
	s.Reviews = newCollection[models.Review](s, models.Reviews)
	s.Forum = newCollection[models.ForumThread](s, models.Forum)
	s.Music = newCollection[models.MusicTrack](s, models.Music)
	s.Questions = newCollection[models.CustomQuestion](s, models.Questions)
	return s
}

// SetNotifier sets the component told about new queue entries, usually the
// sync scheduler.
func (s *DataService) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *DataService) register(c collection) {
	s.registry = append(s.registry, c)
}

func (s *DataService) queueChanged() {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.QueueChanged()
	}
}

// restore puts back the raw value a key held before a failed change.
// Callers hold s.mu.
func (s *DataService) restore(key string, before json.RawMessage) {
	var err error
	if before == nil {
		err = s.store.Remove(key)
	} else {
		err = s.store.WriteRaw(key, before)
	}
	if err != nil {
		s.logger.Error("Failed to roll back local write", err, map[string]interface{}{"key": key})
	}
}

// GetProfile returns the stored profile, or nil when none is stored.
func (s *DataService) GetProfile() *models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p models.Profile
	ok, err := s.store.Read(models.KeyProfile, &p)
	if err != nil {
		s.logger.Error("Failed to read profile", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &p
}

// UpdateProfile stores p as unsynced and queues an update of the remote
// profile.
func (s *DataService) UpdateProfile(p models.Profile) (*models.Profile, error) {
	p.Synced = false

	s.mu.Lock()
	before, err := s.store.ReadRaw(models.KeyProfile)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.store.Write(models.KeyProfile, p); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	target := queue.Target{Collection: models.KeyProfile}
	if _, err := s.queue.EnqueueFor(target, queue.KindUpdate, models.ProfileEndpoint, p); err != nil {
		s.restore(models.KeyProfile, before)
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.queueChanged()
	return &p, nil
}

// AddReview creates review for the doctor and embeds it at the head of the
// doctor's reviews, recomputing the rating. Both changes are queued. If the
// doctor cannot be updated the review is removed again, which queues its
// deletion after its creation.
func (s *DataService) AddReview(doctorID string, review models.Review) (*models.Review, error) {
	if _, err := s.Doctors.Get(doctorID); err != nil {
		return nil, err
	}
	if review.Rating < 1 || review.Rating > 5 {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "rating must be between 1 and 5, got %v", review.Rating)
	}

	review.DoctorID = doctorID
	created, err := s.Reviews.Create(review)
	if err != nil {
		return nil, err
	}

	_, err = s.Doctors.Update(doctorID, func(d *models.Doctor) {
		d.Reviews = append([]models.Review{*created}, d.Reviews...)
		d.RecomputeRating()
	})
	if err != nil {
		if rmErr := s.Reviews.Remove(created.ID); rmErr != nil {
			s.logger.Error("Failed to remove review of unchanged doctor", rmErr, map[string]interface{}{
				"review_id": created.ID,
				"doctor_id": doctorID,
			})
		}
		return nil, err
	}
	return created, nil
}

// AddComment appends comment to the thread and queues the thread update.
func (s *DataService) AddComment(threadID string, comment models.ForumComment) (*models.ForumComment, error) {
	comment.SetRecordID(s.newID())
	comment.SetSynced(false)
	comment.ThreadID = threadID
	comment.Stamp(s.now())

	_, err := s.Forum.Update(threadID, func(t *models.ForumThread) {
		t.Comments = append(t.Comments, comment)
		t.CommentCount = len(t.Comments)
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// RemoveDoctor deletes the doctor and every review of it in the reviews
// collection. Each removal is queued separately.
func (s *DataService) RemoveDoctor(id string) error {
	if err := s.Doctors.Remove(id); err != nil {
		return err
	}
	for _, r := range s.Reviews.List() {
		if r.DoctorID != id {
			continue
		}
		if err := s.Reviews.Remove(r.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// MarkSynced sets synced on the records named by targets. It is the
// scheduler's acknowledgment handler. A target that gained a queued
// operation after the drain settled it is left unsynced.
func (s *DataService) MarkSynced(targets []queue.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checked under s.mu: every enqueue from this service happens while
	// holding it, so no edit can land between the check and the write.
	byKey := make(map[string]map[string]bool)
	for _, t := range targets {
		if s.queue.HasPending(t) {
			s.logger.Debug("Record changed since delivery, leaving unsynced", map[string]interface{}{
				"key":       t.Collection,
				"record_id": t.RecordID,
			})
			continue
		}
		if byKey[t.Collection] == nil {
			byKey[t.Collection] = make(map[string]bool)
		}
		byKey[t.Collection][t.RecordID] = true
	}

	if _, ok := byKey[models.KeyProfile]; ok {
		s.markProfileSynced()
	}
	for _, c := range s.registry {
		ids, ok := byKey[c.Info().Key]
		if !ok {
			continue
		}
		n, err := c.markSynced(ids)
		if err != nil {
			s.logger.Error("Failed to mark records synced", err, map[string]interface{}{"key": c.Info().Key})
			continue
		}
		if n > 0 {
			s.logger.Debug("Marked records synced", map[string]interface{}{"key": c.Info().Key, "count": n})
		}
	}
}

// markProfileSynced flips the profile's synced flag. Callers hold s.mu.
func (s *DataService) markProfileSynced() {
	var p models.Profile
	ok, err := s.store.Read(models.KeyProfile, &p)
	if err != nil || !ok || p.Synced {
		return
	}
	p.Synced = true
	if err := s.store.Write(models.KeyProfile, p); err != nil {
		s.logger.Error("Failed to mark profile synced", err)
	}
}

// CollectionStatus counts records per collection.
type CollectionStatus struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Pending int `json:"pending"`
}

// CollectionStatus returns per-collection counts keyed by collection name.
func (s *DataService) CollectionStatus() map[string]CollectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]CollectionStatus, len(s.registry))
	for _, c := range s.registry {
		total, synced := c.counts()
		status[c.Info().Name] = CollectionStatus{Total: total, Synced: synced, Pending: total - synced}
	}
	return status
}

// CollectionNames returns the registered collection names sorted.
func (s *DataService) CollectionNames() []string {
	names := make([]string, 0, len(s.registry))
	for _, c := range s.registry {
		names = append(names, c.Info().Name)
	}
	sort.Strings(names)
	return names
}

// ClearAllData removes every collection and the profile. The queue and the
// session are kept.
func (s *DataService) ClearAllData() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.registry {
		if err := s.store.Remove(c.Info().Key); err != nil {
			return err
		}
	}
	if err := s.store.Remove(models.KeyProfile); err != nil {
		return err
	}
	s.logger.Info("Local data cleared")
	return nil
}
