package handlers

import (
	"io"
	"net/http"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/services"
)

// DataService is the backup and status surface of the data service.
type DataService interface {
	CollectionStatus() map[string]services.CollectionStatus
	Export() ([]byte, error)
	Import(data []byte) (*services.ImportResult, error)
}

// DataHandler handles per-collection status and backups.
type DataHandler struct {
	data     DataService
	onImport func(*services.ImportResult)
}

// NewDataHandler creates a new DataHandler.
func NewDataHandler(data DataService) *DataHandler {
	return &DataHandler{data: data}
}

// OnImport sets a function called after every successful import.
func (h *DataHandler) OnImport(fn func(*services.ImportResult)) {
	h.onImport = fn
}

// GetStatus handles GET /api/data/status
func (h *DataHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.data.CollectionStatus())
}

// Export handles GET /api/data/export
func (h *DataHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	data, err := h.data.Export()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="heard-backup.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import handles POST /api/data/import
// The body is a document produced by Export.
func (h *DataHandler) Import(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrImportFailed, "failed to read import body", err))
		return
	}
	result, err := h.data.Import(data)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.onImport != nil {
		h.onImport(result)
	}
	writeJSON(w, http.StatusOK, result)
}
