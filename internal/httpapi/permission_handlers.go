package httpapi

import (
	"net/http"
	"strings"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/permissions"
)

type createPermissionRequest struct {
	UserName string `json:"user_name" validate:"required,max=120"`
	permissions.Flags
}

type updatePermissionRequest struct {
	permissions.Flags
}

type myPermissionsResponse struct {
	Record       permissions.Record       `json:"record"`
	Capabilities []permissions.Capability `json:"capabilities"`
}

func (a *API) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	rec, err := a.svc.Permissions.Resolve(r.Context(), identity)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, myPermissionsResponse{
		Record:       rec,
		Capabilities: permissions.CapabilitiesOf(&rec).Granted(),
	})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		records, err := a.svc.Admin.List(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records})
	case http.MethodPost:
		var req createPermissionRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		rec, err := a.svc.Admin.Create(r.Context(), req.UserName, req.Flags)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permissions.create", map[string]any{
			"actor":     identity.ID,
			"record_id": rec.ID,
			"user_name": rec.UserName,
		})
		writeJSON(w, http.StatusCreated, rec)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/permissions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	identity, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req updatePermissionRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		rec, err := a.svc.Admin.Update(r.Context(), id, req.Flags)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permissions.update", map[string]any{
			"actor":     identity.ID,
			"record_id": rec.ID,
			"flags":     rec.Flags,
		})
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := a.svc.Admin.Delete(r.Context(), id); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permissions.delete", map[string]any{
			"actor":     identity.ID,
			"record_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

// requireAdmin returns the caller when it holds is_admin, or writes the error.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := a.identity(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if err := a.svc.Permissions.Require(r.Context(), identity, permissions.IsAdmin); err != nil {
		a.writeServiceError(w, r, err)
		return auth.Identity{}, false
	}
	return identity, true
}
