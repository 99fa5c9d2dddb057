package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pricetrail.io/internal/audit"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func auditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{PerformedBy: q.Get("performed_by")}
	if raw := q.Get("action"); raw != "" {
		action, err := audit.ParseAction(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.Action = action
	}
	return filter, nil
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	filter, err := auditFilter(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	if r.URL.Query().Get("group") == "performer" {
		grouped, err := a.svc.Trail.ByPerformer(r.Context(), filter)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": grouped})
		return
	}

	records, err := a.svc.Trail.List(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (a *API) handleAuditPerformers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	names, err := a.svc.Trail.Performers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": names})
}

func (a *API) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	filter, err := auditFilter(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	// Buffer so a failed export still gets a JSON error.
	var buf bytes.Buffer
	if err := a.svc.Trail.Export(r.Context(), filter, &buf); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "audit.export", map[string]any{
		"actor":        identity.ID,
		"performed_by": filter.PerformedBy,
		"action":       string(filter.Action),
	})

	name := fmt.Sprintf("product-audit-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
