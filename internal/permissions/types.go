package permissions

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("permissions: not found")
	ErrInvalidInput = errors.New("permissions: invalid input")
	ErrConflict     = errors.New("permissions: already exists")
	ErrForbidden    = errors.New("permissions: forbidden")
)

// Capability names one gated action.
type Capability string

const (
	EditProduct        Capability = "edit_product"
	DeleteProduct      Capability = "delete_product"
	AddProduct         Capability = "add_product"
	EditPriceHistory   Capability = "edit_price_history"
	DeletePriceHistory Capability = "delete_price_history"
	AddPriceHistory    Capability = "add_price_history"
	IsAdmin            Capability = "admin"
)

// Flags is the mutable part of a permission record.
type Flags struct {
	IsAdmin            bool `json:"is_admin"`
	EditProduct        bool `json:"edit_product"`
	DeleteProduct      bool `json:"delete_product"`
	AddProduct         bool `json:"add_product"`
	EditPriceHistory   bool `json:"edit_price_history"`
	DeletePriceHistory bool `json:"delete_price_history"`
	AddPriceHistory    bool `json:"add_price_history"`
}

// AllFlags is every flag set.
func AllFlags() Flags {
	return Flags{
		IsAdmin:            true,
		EditProduct:        true,
		DeleteProduct:      true,
		AddProduct:         true,
		EditPriceHistory:   true,
		DeletePriceHistory: true,
		AddPriceHistory:    true,
	}
}

// Record is one row of user_permissions. UserID stays empty until the
// record is linked to an identity.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
	Flags
}

// Outcome tells how Resolve found its record.
type Outcome string

const (
	OutcomeFound   Outcome = "found"
	OutcomeLinked  Outcome = "linked"
	OutcomeCreated Outcome = "created"
)

// Capabilities is the evaluated view of a record. The zero value denies everything.
type Capabilities struct {
	flags Flags
}

// CapabilitiesOf evaluates rec; a nil record (failed or missing lookup) denies all.
func CapabilitiesOf(rec *Record) Capabilities {
	if rec == nil {
		return Capabilities{}
	}
	return Capabilities{flags: rec.Flags}
}

// Allows reports whether capability c is granted.
func (c Capabilities) Allows(capability Capability) bool {
	switch capability {
	case EditProduct:
		return c.flags.EditProduct
	case DeleteProduct:
		return c.flags.DeleteProduct
	case AddProduct:
		return c.flags.AddProduct
	case EditPriceHistory:
		return c.flags.EditPriceHistory
	case DeletePriceHistory:
		return c.flags.DeletePriceHistory
	case AddPriceHistory:
		return c.flags.AddPriceHistory
	case IsAdmin:
		return c.flags.IsAdmin
	default:
		return false
	}
}

// Granted lists the granted capabilities in a stable order.
func (c Capabilities) Granted() []Capability {
	all := []Capability{AddProduct, EditProduct, DeleteProduct, AddPriceHistory, EditPriceHistory, DeletePriceHistory, IsAdmin}
	out := make([]Capability, 0, len(all))
	for _, capability := range all {
		if c.Allows(capability) {
			out = append(out, capability)
		}
	}
	return out
}
