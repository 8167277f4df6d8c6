package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/eodiceanne-star/heard-app-beta/internal/sync/queue"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/scheduler"
)

// SyncController is the scheduler surface the sync endpoints use.
type SyncController interface {
	Status() scheduler.Status
	SyncNow(ctx context.Context) (*queue.DrainResult, error)
	QueueDetails() scheduler.QueueDetails
	ClearQueue() error
	SetForeground(visible bool)
}

// SyncHandler handles sync status and operations.
type SyncHandler struct {
	sync    SyncController
	timeout time.Duration // bound on a manual sync request
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(sync SyncController, timeout time.Duration) *SyncHandler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &SyncHandler{sync: sync, timeout: timeout}
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.sync.Status())
}

// SyncNow handles POST /api/sync/now
// Runs a drain (or joins the running one) and returns its outcome.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.sync.SyncNow(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": len(result.Delivered),
		"failed":    len(result.Failed),
		"dropped":   len(result.Dropped),
		"remaining": result.Remaining,
		"status":    h.sync.Status(),
	})
}

// Queue handles GET and DELETE /api/sync/queue
func (h *SyncHandler) Queue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.sync.QueueDetails())
	case http.MethodDelete:
		if err := h.sync.ClearQueue(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.sync.Status())
	default:
		methodNotAllowed(w)
	}
}

// Foreground handles POST /api/sync/foreground
// Body: {"visible": true}
func (h *SyncHandler) Foreground(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var request struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, err)
		return
	}
	if request.Visible == nil {
		http.Error(w, "visible is required", http.StatusBadRequest)
		return
	}

	h.sync.SetForeground(*request.Visible)
	writeJSON(w, http.StatusOK, h.sync.Status())
}
