package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/catalog"
	"pricetrail.io/internal/permissions"
)

// writeServiceError maps domain sentinels to HTTP status codes.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, catalog.ErrInvalidInput),
		errors.Is(err, permissions.ErrInvalidInput),
		errors.Is(err, audit.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, permissions.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "you do not have permission to perform this action")
	case errors.Is(err, auth.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, permissions.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, catalog.ErrNotDeleted):
		writeError(w, r, http.StatusConflict, "product is not deleted")
	case errors.Is(err, catalog.ErrDeleted):
		writeError(w, r, http.StatusConflict, "product is already deleted")
	case errors.Is(err, auth.ErrConflict),
		errors.Is(err, catalog.ErrConflict),
		errors.Is(err, permissions.ErrConflict):
		writeError(w, r, http.StatusConflict, publicMessage(err))
	default:
		a.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

var wrappedSentinels = []error{
	auth.ErrInvalidInput, auth.ErrConflict,
	catalog.ErrInvalidInput, catalog.ErrConflict,
	permissions.ErrInvalidInput, permissions.ErrConflict,
	audit.ErrInvalidInput,
}

// publicMessage drops the sentinel prefix from a wrapped error, or the
// package prefix from a bare sentinel.
func publicMessage(err error) string {
	msg := err.Error()
	for _, s := range wrappedSentinels {
		if !errors.Is(err, s) {
			continue
		}
		if rest, ok := strings.CutPrefix(msg, s.Error()+": "); ok {
			return rest
		}
		if msg == s.Error() {
			if _, rest, ok := strings.Cut(msg, ": "); ok {
				return rest
			}
		}
	}
	return msg
}

// decodeBody decodes a JSON body into dst and validates its struct tags.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
