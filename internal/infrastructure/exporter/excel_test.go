package exporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
)

func TestExcelExporter_Export(t *testing.T) {
	created := time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)
	purchase := []*port.StoredInvoice{
		{
			Summary: entity.InvoiceSummary{
				InvoiceNumber:   "142",
				InvoiceNotation: "C24TAB",
				SellerTaxCode:   "0309999999",
				SellerName:      "Seller Co",
				TypeCode:        entity.TypeCoded,
				StatusCode:      entity.StatusNew,
				CreationDate:    &created,
			},
			Risk:   true,
			Parsed: true,
		},
	}
	sold := []*entity.InvoiceSummary{
		{
			InvoiceNumber:   "77",
			InvoiceNotation: "K24TXY",
			BuyerTaxCode:    "0101234567",
			BuyerName:       "Buyer Ltd",
			StatusCode:      entity.StatusCancelled,
		},
	}

	data, err := NewExcelExporter(zap.NewNop()).Export(purchase, sold)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Purchase Invoices", "Sold Invoices"}, f.GetSheetList())

	number, err := f.GetCellValue("Purchase Invoices", "A2")
	require.NoError(t, err)
	assert.Equal(t, "142", number)

	date, err := f.GetCellValue("Purchase Invoices", "E2")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-25", date)

	risk, err := f.GetCellValue("Purchase Invoices", "H2")
	require.NoError(t, err)
	assert.Equal(t, "TRUE", risk)

	buyer, err := f.GetCellValue("Sold Invoices", "C2")
	require.NoError(t, err)
	assert.Equal(t, "0101234567", buyer)

	status, err := f.GetCellValue("Sold Invoices", "F2")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status)
}

func TestExcelExporter_EmptySets(t *testing.T) {
	data, err := NewExcelExporter(zap.NewNop()).Export(nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("Purchase Invoices", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice Number", header)
}
