// Package store is the persistent key/value store that domain collections,
// the profile, the session and the mutation queue are written to. Each key
// holds one JSON document.
package store

import (
	"encoding/json"
	"reflect"
	"unicode/utf8"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
)

// Backend is the raw storage beneath a Store.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Keys() ([]string, error)
}

// sizer is implemented by backends that can report their usage, which is
// required for quota enforcement.
type sizer interface {
	TotalSize(exclude string) (int64, error)
}

// Store serializes values to JSON and keeps them in a Backend.
type Store struct {
	backend Backend
	quota   int64
	logger  *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithQuota limits the total characters held by the backend. Writes that
// would exceed it fail with a STORAGE_ERROR. Zero disables the limit.
func WithQuota(chars int64) Option {
	return func(s *Store) {
		s.quota = chars
	}
}

// WithLogger sets the logger used to report malformed data.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Get()
	}
	return s
}

// Write serializes value and stores it under key, replacing any prior value.
func (s *Store) Write(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "failed to serialize "+key, err)
	}
	return s.WriteRaw(key, data)
}

// WriteRaw stores an already serialized JSON document under key.
func (s *Store) WriteRaw(key string, data []byte) error {
	if !json.Valid(data) {
		return apperrors.New(apperrors.ErrSerialization, "invalid JSON for "+key)
	}

	if s.quota > 0 {
		if sz, ok := s.backend.(sizer); ok {
			used, err := sz.TotalSize(key)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, "failed to check quota", err)
			}
			if used+int64(utf8.RuneCountInString(key)+utf8.RuneCount(data)) > s.quota {
				return apperrors.Newf(apperrors.ErrStorage, "quota exceeded writing %s (limit %d)", key, s.quota)
			}
		}
	}

	if err := s.backend.Set(key, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to write "+key, err)
	}
	return nil
}

// Read decodes the value under key into dst, which must be a non-nil
// pointer. It reports false when the key is absent or its data is malformed;
// malformed data is logged and left in place, and dst is not touched. Only
// backend failures and a bad dst are returned as errors.
func (s *Store) Read(key string, dst interface{}) (bool, error) {
	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return false, apperrors.Newf(apperrors.ErrInvalid, "cannot decode %s into %T", key, dst)
	}

	raw, ok, err := s.backend.Get(key)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "failed to read "+key, err)
	}
	if !ok {
		return false, nil
	}

	// Decode into a fresh value: a type mismatch part way through would
	// otherwise leave dst half filled.
	fresh := reflect.New(target.Elem().Type())
	if err := json.Unmarshal([]byte(raw), fresh.Interface()); err != nil {
		s.logger.Warn("Malformed data in local store, treating as absent", map[string]interface{}{
			"key":        key,
			"error":      err.Error(),
			"error_code": string(apperrors.ErrCorruptedData),
		})
		return false, nil
	}
	target.Elem().Set(fresh.Elem())
	return true, nil
}

// ReadRaw returns the stored JSON document for key, or nil when absent or
// not valid JSON.
func (s *Store) ReadRaw(key string) (json.RawMessage, error) {
	var raw json.RawMessage
	ok, err := s.Read(key, &raw)
	if err != nil || !ok {
		return nil, err
	}
	return raw, nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) error {
	if err := s.backend.Delete(key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to remove "+key, err)
	}
	return nil
}

// Keys lists the stored keys.
func (s *Store) Keys() ([]string, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list keys", err)
	}
	return keys, nil
}
