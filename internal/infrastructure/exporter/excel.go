// Package exporter renders stored invoices into spreadsheet reports.
package exporter

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
)

const (
	purchaseSheet = "Purchase Invoices"
	soldSheet     = "Sold Invoices"
	dateFormat    = "2006-01-02"
)

// ExcelExporter builds an .xlsx workbook with one sheet of purchase
// invoices and one of sold invoices.
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// Export renders both invoice sets into a workbook and returns the file
// bytes.
func (e *ExcelExporter) Export(purchase []*port.StoredInvoice, sold []*entity.InvoiceSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", purchaseSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(soldSheet); err != nil {
		return nil, fmt.Errorf("create sold sheet: %w", err)
	}

	if err := e.fillPurchaseSheet(f, purchase); err != nil {
		return nil, err
	}
	if err := e.fillSoldSheet(f, sold); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	e.logger.Info("Workbook exported",
		zap.Int("purchase_rows", len(purchase)),
		zap.Int("sold_rows", len(sold)))
	return buf.Bytes(), nil
}

func (e *ExcelExporter) fillPurchaseSheet(f *excelize.File, invoices []*port.StoredInvoice) error {
	header := []any{
		"Invoice Number", "Notation", "Seller Tax Code", "Seller Name",
		"Creation Date", "Type", "Status", "Risk", "Parsed",
	}
	if err := f.SetSheetRow(purchaseSheet, "A1", &header); err != nil {
		return fmt.Errorf("write purchase header: %w", err)
	}

	for i, inv := range invoices {
		created := ""
		if inv.Summary.CreationDate != nil {
			created = inv.Summary.CreationDate.Format(dateFormat)
		}
		row := []any{
			inv.Summary.InvoiceNumber,
			inv.Summary.InvoiceNotation,
			inv.Summary.SellerTaxCode,
			inv.Summary.SellerName,
			created,
			entity.TypeName(inv.Summary.TypeCode),
			entity.StatusName(inv.Summary.StatusCode),
			inv.Risk,
			inv.Parsed,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("purchase row %d: %w", i, err)
		}
		if err := f.SetSheetRow(purchaseSheet, cell, &row); err != nil {
			return fmt.Errorf("write purchase row %d: %w", i, err)
		}
	}
	return nil
}

func (e *ExcelExporter) fillSoldSheet(f *excelize.File, invoices []*entity.InvoiceSummary) error {
	header := []any{
		"Invoice Number", "Notation", "Buyer Tax Code", "Buyer Name",
		"Creation Date", "Status",
	}
	if err := f.SetSheetRow(soldSheet, "A1", &header); err != nil {
		return fmt.Errorf("write sold header: %w", err)
	}

	for i, inv := range invoices {
		created := ""
		if inv.CreationDate != nil {
			created = inv.CreationDate.Format(dateFormat)
		}
		row := []any{
			inv.InvoiceNumber,
			inv.InvoiceNotation,
			inv.BuyerTaxCode,
			inv.BuyerName,
			created,
			entity.StatusName(inv.StatusCode),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("sold row %d: %w", i, err)
		}
		if err := f.SetSheetRow(soldSheet, cell, &row); err != nil {
			return fmt.Errorf("write sold row %d: %w", i, err)
		}
	}
	return nil
}
