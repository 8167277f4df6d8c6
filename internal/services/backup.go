package services

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
)

// Backup is the exported form of all local data.
type Backup struct {
	ExportedAt  time.Time                  `json:"exportedAt"`
	Collections map[string]json.RawMessage `json:"collections"`
	Profile     json.RawMessage            `json:"profile,omitempty"`
}

// ImportResult lists the collections an import wrote and the names it
// ignored.
type ImportResult struct {
	Imported []string `json:"imported"`
	Skipped  []string `json:"skipped"`
	Profile  bool     `json:"profile"`
}

// Export returns every collection and the profile as one JSON document.
func (s *DataService) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := Backup{
		ExportedAt:  s.now().UTC(),
		Collections: make(map[string]json.RawMessage, len(s.registry)),
	}
	for _, c := range s.registry {
		raw, err := s.store.ReadRaw(c.Info().Key)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			raw = json.RawMessage("[]")
		}
		b.Collections[c.Info().Name] = raw
	}
	raw, err := s.store.ReadRaw(models.KeyProfile)
	if err != nil {
		return nil, err
	}
	b.Profile = raw

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSerialization, "failed to serialize export", err)
	}
	return data, nil
}

// Import overwrites the collections named in an exported document. Nothing
// is queued. Unknown collection names are skipped with a warning.
func (s *DataService) Import(data []byte) (*ImportResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, apperrors.New(apperrors.ErrImportFailed, "import data is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	collections := doc.Get("collections")
	if !collections.IsObject() {
		return nil, apperrors.New(apperrors.ErrImportFailed, "import data has no collections object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &ImportResult{Imported: []string{}, Skipped: []string{}}
	var importErr error
	collections.ForEach(func(name, value gjson.Result) bool {
		c, ok := models.CollectionByName(name.String())
		if !ok {
			s.logger.Warn("Skipping unknown collection in import", map[string]interface{}{"collection": name.String()})
			result.Skipped = append(result.Skipped, name.String())
			return true
		}
		if !value.IsArray() {
			importErr = apperrors.Newf(apperrors.ErrImportFailed, "collection %s is not an array", c.Name)
			return false
		}
		if err := s.store.WriteRaw(c.Key, []byte(value.Raw)); err != nil {
			importErr = apperrors.Wrap(apperrors.ErrImportFailed, "failed to import "+c.Name, err)
			return false
		}
		result.Imported = append(result.Imported, c.Name)
		return true
	})
	if importErr != nil {
		return result, importErr
	}

	if profile := doc.Get("profile"); profile.IsObject() {
		if err := s.store.WriteRaw(models.KeyProfile, []byte(profile.Raw)); err != nil {
			return result, apperrors.Wrap(apperrors.ErrImportFailed, "failed to import profile", err)
		}
		result.Profile = true
	}

	s.logger.Info("Import completed", map[string]interface{}{
		"imported": len(result.Imported),
		"skipped":  len(result.Skipped),
	})
	return result, nil
}
