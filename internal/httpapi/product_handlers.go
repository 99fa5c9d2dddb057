package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricetrail.io/internal/catalog"
	"pricetrail.io/internal/permissions"
)

type newProductRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	Description string `json:"description" validate:"required,max=200"`
	Unit        string `json:"unit" validate:"required,max=32"`
}

type editProductRequest struct {
	Description string `json:"description" validate:"required,max=200"`
	Unit        string `json:"unit" validate:"required,max=32"`
}

type priceRequest struct {
	UnitPrice     decimal.Decimal `json:"unit_price"`
	EffectiveDate string          `json:"effective_date" validate:"required"`
}

// Actions rendered next to a product. A missing action is not offered.
const (
	actionEdit        = "edit"
	actionDelete      = "delete"
	actionRecover     = "recover"
	actionAddPrice    = "add_price"
	actionEditPrice   = "edit_price"
	actionDeletePrice = "delete_price"
)

type productDetail struct {
	catalog.Listing
	Actions []string `json:"actions"`
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		filter := catalog.ListFilter{Query: r.URL.Query().Get("q")}
		switch r.URL.Query().Get("deleted") {
		case "", "exclude":
		case "include":
			filter.IncludeDeleted = true
		case "only":
			filter.OnlyDeleted = true
		default:
			writeError(w, r, http.StatusBadRequest, "deleted must be one of exclude, include, only")
			return
		}
		items, err := a.svc.Catalog.List(r.Context(), filter)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req newProductRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		product, err := a.svc.Catalog.Add(r.Context(), identity, catalog.NewProduct{
			Code:        req.Code,
			Description: req.Description,
			Unit:        req.Unit,
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, product)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleProductResource routes /v1/products/{code}[/recover|/prices[/{date}]].
func (a *API) handleProductResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/products/"), "/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(rest, "/")
	code := parts[0]

	switch {
	case len(parts) == 1:
		a.handleProduct(w, r, code)
	case len(parts) == 2 && parts[1] == "recover":
		a.handleRecover(w, r, code)
	case len(parts) == 2 && parts[1] == "prices":
		a.handlePrices(w, r, code)
	case len(parts) == 3 && parts[1] == "prices":
		a.handlePrice(w, r, code, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request, code string) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		listing, err := a.svc.Catalog.Get(r.Context(), code)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		caps, err := a.svc.Permissions.Capabilities(r.Context(), identity)
		if err != nil {
			// Capabilities already deny everything on failure.
			a.logger.Warn("capabilities unavailable",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.Error(err))
		}
		writeJSON(w, http.StatusOK, productDetail{Listing: listing, Actions: actionsFor(caps, listing.Product)})
	case http.MethodPatch:
		var req editProductRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		product, err := a.svc.Catalog.Edit(r.Context(), identity, code, catalog.ProductPatch{
			Description: req.Description,
			Unit:        req.Unit,
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case http.MethodDelete:
		product, err := a.svc.Catalog.SoftDelete(r.Context(), identity, code)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRecover(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	product, err := a.svc.Catalog.Recover(r.Context(), identity, code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handlePrices(w http.ResponseWriter, r *http.Request, code string) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		rng, err := catalog.ParseRange(r.URL.Query().Get("range"))
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		points, err := a.svc.Catalog.History(r.Context(), code, rng)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"product_code": code,
			"range":        rng,
			"items":        points,
		})
	case http.MethodPost:
		var req priceRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		point, err := a.svc.Catalog.AddPrice(r.Context(), identity, code, catalog.PriceInput{
			UnitPrice:     req.UnitPrice,
			EffectiveDate: req.EffectiveDate,
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, point)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePrice(w http.ResponseWriter, r *http.Request, code, date string) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req priceRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		point, err := a.svc.Catalog.EditPrice(r.Context(), identity, code, date, catalog.PriceInput{
			UnitPrice:     req.UnitPrice,
			EffectiveDate: req.EffectiveDate,
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, point)
	case http.MethodDelete:
		if err := a.svc.Catalog.DeletePrice(r.Context(), identity, code, date); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.identity(w, r); !ok {
		return
	}
	summary, err := a.svc.Catalog.Summary(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// actionsFor lists the controls the caller may use on p.
func actionsFor(caps permissions.Capabilities, p catalog.Product) []string {
	actions := []string{}
	if p.Deleted {
		if caps.Allows(permissions.IsAdmin) {
			actions = append(actions, actionRecover)
		}
		return actions
	}
	gated := []struct {
		capability permissions.Capability
		action     string
	}{
		{permissions.EditProduct, actionEdit},
		{permissions.DeleteProduct, actionDelete},
		{permissions.AddPriceHistory, actionAddPrice},
		{permissions.EditPriceHistory, actionEditPrice},
		{permissions.DeletePriceHistory, actionDeletePrice},
	}
	for _, g := range gated {
		if caps.Allows(g.capability) {
			actions = append(actions, g.action)
		}
	}
	return actions
}
