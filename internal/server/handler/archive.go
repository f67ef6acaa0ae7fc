package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// ArchiveHandler triggers and lists price history archives. It is only
// mounted in full mode.
type ArchiveHandler struct {
	trigger chan<- struct{}
	lister  domain.BlobLister
	prefix  string
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. Sending on trigger must make
// the archive loop run once.
func NewArchiveHandler(trigger chan<- struct{}, lister domain.BlobLister, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{trigger: trigger, lister: lister, prefix: prefix, logger: logHandler(logger, "archive")}
}

// Trigger enqueues one archive run. A run already pending absorbs the request.
// POST /api/v3/sandbox/archive
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	queued := false
	select {
	case h.trigger <- struct{}{}:
		queued = true
	default:
	}
	h.logger.InfoContext(r.Context(), "archive run requested", slog.Bool("queued", queued))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// List returns archived objects.
// GET /api/v3/sandbox/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	infos, err := h.lister.List(ctx, h.prefix)
	if err != nil {
		writeDomainError(w, r, h.logger, "list archives", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}
