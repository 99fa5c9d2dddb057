package httpapi

import (
	"net/http"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/stream"
)

type signUpRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Name        string `json:"name" validate:"max=120"`
	AccountType string `json:"account_type" validate:"omitempty,oneof=user admin"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type updateProfileRequest struct {
	Name  *string `json:"name" validate:"omitempty,max=120"`
	Email *string `json:"email" validate:"omitempty,email,max=254"`
}

type sessionResponse struct {
	User    auth.Identity  `json:"user"`
	Session auth.TokenPair `json:"session"`
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signUpRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	account, pair, err := a.svc.Auth.SignUp(r.Context(), auth.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.Name,
		AccountType: req.AccountType,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"account_id": account.ID,
		"email":      account.Email,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{User: account.Identity(), Session: pair})
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signInRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	account, pair, err := a.svc.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.signin.failed", map[string]any{
			"email": req.Email,
		})
		a.writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.signin", map[string]any{
		"account_id": account.ID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{User: account.Identity(), Session: pair})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if !a.decodeBody(w, r, &req) {
		return
	}
	account, pair, err := a.svc.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: account.Identity(), Session: pair})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.svc.Auth.SignOut(r.Context(), identity); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.signout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, identity)
	case http.MethodPatch:
		var req updateProfileRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		account, err := a.svc.Auth.UpdateProfile(r.Context(), identity, auth.ProfileUpdate{
			DisplayName: req.Name,
			Email:       req.Email,
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.profile.update", map[string]any{
			"account_id": account.ID,
		})
		writeJSON(w, http.StatusOK, account.Identity())
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

// handleAuthEvents streams the caller's own session changes.
func (a *API) handleAuthEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	a.serveEvents(w, r, []stream.Topic{stream.TopicAuth}, func(evt stream.Event) bool {
		return evt.Subject == identity.ID
	})
}
