package audit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Audit"

// Trail is the read side of the product audit log.
type Trail struct {
	store Store
}

// NewTrail builds a Trail over store.
func NewTrail(store Store) *Trail {
	return &Trail{store: store}
}

// List returns matching records, newest first.
func (t *Trail) List(ctx context.Context, filter Filter) ([]Record, error) {
	filter.PerformedBy = strings.TrimSpace(filter.PerformedBy)
	return t.store.List(ctx, filter)
}

// Performers returns the distinct performed_by values, sorted.
func (t *Trail) Performers(ctx context.Context) ([]string, error) {
	return t.store.Performers(ctx)
}

// ByPerformer groups matching records by who performed them.
func (t *Trail) ByPerformer(ctx context.Context, filter Filter) (map[string][]Record, error) {
	records, err := t.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]Record)
	for _, rec := range records {
		grouped[rec.PerformedBy] = append(grouped[rec.PerformedBy], rec)
	}
	return grouped, nil
}

// Export writes matching records to w as an XLSX workbook.
func (t *Trail) Export(ctx context.Context, filter Filter, w io.Writer) error {
	records, err := t.List(ctx, filter)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return err
	}
	header := []any{"Timestamp", "Product code", "Product name", "Action", "Performed by"}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return err
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.ProductCode,
			rec.ProductName,
			string(rec.Action),
			rec.PerformedBy,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(exportSheet, "A", "E", 22); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
