package handlers

import (
	"net/http"
)

// RecordStore is the surface of one local collection.
type RecordStore[T any] interface {
	List() []T
	Get(id string) (*T, error)
	Create(record T) (*T, error)
	PatchChecked(id string, patch map[string]interface{}, check func(*T) error) (*T, error)
	Remove(id string) error
}

// CollectionHandler exposes one local collection as a REST resource.
type CollectionHandler[T any] struct {
	records  RecordStore[T]
	validate func(*T) error
	remove   func(id string) error
}

// CollectionOption configures a CollectionHandler.
type CollectionOption[T any] func(*CollectionHandler[T])

// WithValidator checks records on create and after a patch is merged.
func WithValidator[T any](fn func(*T) error) CollectionOption[T] {
	return func(h *CollectionHandler[T]) {
		h.validate = fn
	}
}

// WithRemover replaces the delete path, for collections whose removal
// cascades.
func WithRemover[T any](fn func(id string) error) CollectionOption[T] {
	return func(h *CollectionHandler[T]) {
		h.remove = fn
	}
}

// NewCollectionHandler creates a new CollectionHandler.
func NewCollectionHandler[T any](records RecordStore[T], opts ...CollectionOption[T]) *CollectionHandler[T] {
	h := &CollectionHandler[T]{records: records, remove: records.Remove}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers the resource under prefix:
// GET|POST prefix and GET|PUT|DELETE prefix/{id}.
func (h *CollectionHandler[T]) Mount(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix, h.List)
	mux.HandleFunc("POST "+prefix, h.Create)
	mux.HandleFunc("GET "+prefix+"/{id}", h.Get)
	mux.HandleFunc("PUT "+prefix+"/{id}", h.Update)
	mux.HandleFunc("DELETE "+prefix+"/{id}", h.Delete)
}

// List handles GET on the collection.
func (h *CollectionHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items := h.records.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// Create handles POST on the collection.
func (h *CollectionHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var record T
	if err := decodeBody(w, r, &record); err != nil {
		writeError(w, err)
		return
	}
	if h.validate != nil {
		if err := h.validate(&record); err != nil {
			writeError(w, err)
			return
		}
	}

	created, err := h.records.Create(record)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Get handles GET on one record.
func (h *CollectionHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	record, err := h.records.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Update handles PUT on one record. The body holds the fields to change;
// the merged record is validated before it is stored.
func (h *CollectionHandler[T]) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}

	var patch map[string]interface{}
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	record, err := h.records.PatchChecked(r.PathValue("id"), patch, h.validate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Delete handles DELETE on one record.
func (h *CollectionHandler[T]) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}

	if err := h.remove(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
