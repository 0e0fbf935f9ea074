package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// AuditReader lists audit log entries.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListForOrder(ctx context.Context, orderID string) ([]domain.AuditEntry, error)
}

// AuditHandler serves the order lifecycle audit log.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// ListAudit returns audit entries, newest first, or the lifecycle of one
// order, oldest first, when order_id is given.
// GET /api/audit?limit=50&offset=0
// GET /api/audit?order_id=...
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	var entries []domain.AuditEntry
	var err error
	if orderID := r.URL.Query().Get("order_id"); orderID != "" {
		entries, err = h.audit.ListForOrder(r.Context(), orderID)
	} else {
		entries, err = h.audit.List(r.Context(), parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	views := make([]auditView, len(entries))
	for i, e := range entries {
		views[i] = auditView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}
