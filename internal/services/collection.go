package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/queue"
)

// Collection is the read/write path for one named local collection of T.
// Every write lands in the store before its operation is queued.
type Collection[T any, PT interface {
	*T
	models.Syncable
}] struct {
	svc  *DataService
	info models.Collection
}

func newCollection[T any, PT interface {
	*T
	models.Syncable
}](svc *DataService, info models.Collection) *Collection[T, PT] {
	c := &Collection[T, PT]{svc: svc, info: info}
	svc.register(c)
	return c
}

// Info returns the collection's name, store key and endpoint.
func (c *Collection[T, PT]) Info() models.Collection {
	return c.info
}

// List returns the collection most-recent-first. Unreadable data reads as
// an empty collection.
func (c *Collection[T, PT]) List() []T {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	return c.load()
}

// Get returns the record with id.
func (c *Collection[T, PT]) Get(id string) (*T, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	items := c.load()
	if i := indexOf[T, PT](items, id); i >= 0 {
		item := items[i]
		return &item, nil
	}
	return nil, c.notFound(id)
}

// Create assigns an id, marks the record unsynced, stores it at the head of
// the collection and queues its creation.
func (c *Collection[T, PT]) Create(record T) (*T, error) {
	p := PT(&record)
	p.SetRecordID(c.svc.newID())
	p.SetSynced(false)
	if st, ok := any(p).(models.Stamper); ok {
		st.Stamp(c.svc.now())
	}

	err := c.mutate(func(items []T) ([]T, error) {
		return append([]T{record}, items...), nil
	}, queue.KindCreate, c.info.Endpoint, p.RecordID(), record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Update applies fn to the record with id, marks it unsynced, stores it and
// queues the update. fn cannot change the id.
func (c *Collection[T, PT]) Update(id string, fn func(*T)) (*T, error) {
	return c.update(id, func(item *T) error {
		fn(item)
		return nil
	})
}

// Patch merges the JSON fields in patch into the record with id. The id and
// synced fields cannot be patched.
func (c *Collection[T, PT]) Patch(id string, patch map[string]interface{}) (*T, error) {
	return c.PatchChecked(id, patch, nil)
}

// PatchChecked is Patch with check run on the merged record before it is
// stored. A check error leaves the record unchanged and queues nothing.
func (c *Collection[T, PT]) PatchChecked(id string, patch map[string]interface{}, check func(*T) error) (*T, error) {
	return c.update(id, func(item *T) error {
		merged, err := mergeFields(item, patch)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(merged); err != nil {
				return err
			}
		}
		*item = *merged
		return nil
	})
}

// Remove deletes the record with id and queues its deletion.
func (c *Collection[T, PT]) Remove(id string) error {
	return c.mutate(func(items []T) ([]T, error) {
		i := indexOf[T, PT](items, id)
		if i < 0 {
			return nil, c.notFound(id)
		}
		return append(items[:i:i], items[i+1:]...), nil
	}, queue.KindDelete, c.info.Endpoint+"/"+id, id, nil)
}

func (c *Collection[T, PT]) update(id string, fn func(*T) error) (*T, error) {
	var updated T
	err := c.mutate(func(items []T) ([]T, error) {
		i := indexOf[T, PT](items, id)
		if i < 0 {
			return nil, c.notFound(id)
		}
		item := items[i]
		if err := fn(&item); err != nil {
			return nil, err
		}
		p := PT(&item)
		p.SetRecordID(id)
		p.SetSynced(false)
		items[i] = item
		updated = item
		return items, nil
	}, queue.KindUpdate, c.info.Endpoint+"/"+id, id, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// mutate runs a read-modify-write of the collection, then queues one
// operation. If queueing fails the collection is restored.
func (c *Collection[T, PT]) mutate(change func([]T) ([]T, error), kind queue.Kind, endpoint, recordID string, payload interface{}) error {
	c.svc.mu.Lock()

	before, err := c.svc.store.ReadRaw(c.info.Key)
	if err != nil {
		c.svc.mu.Unlock()
		return err
	}
	items, err := change(c.load())
	if err != nil {
		c.svc.mu.Unlock()
		return err
	}
	if err := c.svc.store.Write(c.info.Key, items); err != nil {
		c.svc.mu.Unlock()
		return err
	}

	target := queue.Target{Collection: c.info.Key, RecordID: recordID}
	if _, err := c.svc.queue.EnqueueFor(target, kind, endpoint, payload); err != nil {
		c.svc.restore(c.info.Key, before)
		c.svc.mu.Unlock()
		return err
	}
	c.svc.mu.Unlock()

	c.svc.queueChanged()
	return nil
}

// load reads the collection. Callers hold svc.mu.
func (c *Collection[T, PT]) load() []T {
	var items []T
	if _, err := c.svc.store.Read(c.info.Key, &items); err != nil {
		c.svc.logger.Error("Failed to read collection", err, map[string]interface{}{"key": c.info.Key})
	}
	if items == nil {
		items = []T{}
	}
	return items
}

func (c *Collection[T, PT]) notFound(id string) error {
	return apperrors.Wrap(apperrors.ErrNotFound, fmt.Sprintf("%s record %s", c.info.Name, id), ErrNotFound)
}

// markSynced flips synced on the records in ids. Callers hold svc.mu.
func (c *Collection[T, PT]) markSynced(ids map[string]bool) (int, error) {
	items := c.load()
	marked := 0
	for i := range items {
		p := PT(&items[i])
		if ids[p.RecordID()] && !p.IsSynced() {
			p.SetSynced(true)
			marked++
		}
	}
	if marked == 0 {
		return 0, nil
	}
	return marked, c.svc.store.Write(c.info.Key, items)
}

// counts returns the total and synced record counts. Callers hold svc.mu.
func (c *Collection[T, PT]) counts() (int, int) {
	items := c.load()
	synced := 0
	for i := range items {
		if PT(&items[i]).IsSynced() {
			synced++
		}
	}
	return len(items), synced
}

func indexOf[T any, PT interface {
	*T
	models.Syncable
}](items []T, id string) int {
	for i := range items {
		if PT(&items[i]).RecordID() == id {
			return i
		}
	}
	return -1
}

// mergeFields overlays patch onto the JSON form of item.
func mergeFields[T any](item *T, patch map[string]interface{}) (*T, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSerialization, "failed to serialize record", err)
	}
	for field, value := range patch {
		if field == "id" || field == "synced" {
			continue
		}
		data, err = sjson.SetBytes(data, escapePath(field), value)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "cannot patch field "+field, err)
		}
	}
	var merged T
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "patch does not fit record", err)
	}
	return &merged, nil
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

// escapePath makes a field name a literal sjson path.
func escapePath(field string) string {
	return pathEscaper.Replace(field)
}
