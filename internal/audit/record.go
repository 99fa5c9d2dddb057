package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("audit: invalid input")
)

// Action is a product lifecycle step.
type Action string

const (
	ActionAdded     Action = "ADDED"
	ActionEdited    Action = "EDITED"
	ActionDeleted   Action = "DELETED"
	ActionRecovered Action = "RECOVERED"
)

// ParseAction accepts any casing of a known action.
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(raw))); a {
	case ActionAdded, ActionEdited, ActionDeleted, ActionRecovered:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, raw)
	}
}

// Record is one immutable row of product_audit.
type Record struct {
	ID          string    `json:"id"`
	ProductCode string    `json:"product_code"`
	ProductName string    `json:"product_name"`
	Action      Action    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// Filter narrows List; zero fields match everything.
type Filter struct {
	PerformedBy string
	Action      Action
}

// Store appends and reads audit records. There is no update or delete.
type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, filter Filter) ([]Record, error)
	Performers(ctx context.Context) ([]string, error)
}
