package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run())
	return db
}

func makeDetail(buyer, id, seller string, created time.Time) *entity.InvoiceDetail {
	return &entity.InvoiceDetail{
		InvoiceSummary: entity.InvoiceSummary{
			ID:            id,
			BuyerTaxCode:  buyer,
			SellerTaxCode: seller,
			SellerName:    "Seller " + seller,
			InvoiceNumber: "100",
			TypeCode:      entity.TypeCoded,
			StatusCode:    entity.StatusNew,
			CreationDate:  &created,
		},
		GrandTotal: 1100000,
	}
}

func TestPurchaseInvoiceRepository_InsertIsIdempotent(t *testing.T) {
	repo := NewPurchaseInvoiceRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()
	created := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	batch := []*entity.InvoiceDetail{
		makeDetail("0101", "inv-1", "0301", created),
		makeDetail("0101", "inv-2", "0302", created),
	}

	inserted, err := repo.InsertMany(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// retrying the same batch is a no-op
	inserted, err = repo.InsertMany(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	// the same id under a different buyer is a distinct invoice
	inserted, err = repo.InsertMany(ctx, []*entity.InvoiceDetail{
		makeDetail("0202", "inv-1", "0301", created),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestPurchaseInvoiceRepository_GetExistingIDs(t *testing.T) {
	repo := NewPurchaseInvoiceRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()
	created := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := repo.InsertMany(ctx, []*entity.InvoiceDetail{
		makeDetail("0101", "A", "0301", created),
		makeDetail("0101", "B", "0301", created),
	})
	require.NoError(t, err)

	existing, err := repo.GetExistingIDs(ctx, "0101", []string{"A", "C"})
	require.NoError(t, err)
	assert.Contains(t, existing, "A")
	assert.NotContains(t, existing, "C")

	// scoped to the buyer
	existing, err = repo.GetExistingIDs(ctx, "0202", []string{"A", "B"})
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestPurchaseInvoiceRepository_RawFallbackLifecycle(t *testing.T) {
	repo := NewPurchaseInvoiceRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	raw := &entity.RawInvoice{
		Summary: entity.InvoiceSummary{ID: "inv-9", BuyerTaxCode: "0101", SellerTaxCode: "0309"},
		Body:    `{"mangled": true}`,
	}
	inserted, err := repo.InsertRawMany(ctx, []*entity.RawInvoice{raw})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	unparsed, err := repo.GetRawUnparsed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unparsed, 1)
	assert.False(t, unparsed[0].Parsed)
	assert.Equal(t, `{"mangled": true}`, unparsed[0].Payload)

	// a raw row blocks re-insertion of the same invoice
	dup, err := repo.InsertRawMany(ctx, []*entity.RawInvoice{raw})
	require.NoError(t, err)
	assert.Zero(t, dup)

	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	detail := makeDetail("0101", "inv-9", "0309", created)
	require.NoError(t, repo.PromoteParsed(ctx, detail))

	unparsed, err = repo.GetRawUnparsed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unparsed)

	stored, err := repo.FindOne(ctx, "0101", "inv-9")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Parsed)
	assert.Equal(t, "Seller 0309", stored.Summary.SellerName)
}

func TestPurchaseInvoiceRepository_UpdateStatus(t *testing.T) {
	repo := NewPurchaseInvoiceRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()
	created := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := repo.InsertMany(ctx, []*entity.InvoiceDetail{makeDetail("0101", "inv-1", "0301", created)})
	require.NoError(t, err)

	affected, err := repo.UpdateStatus(ctx, "0101", "inv-1", entity.StatusCancelled)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	// unchanged status does not count
	affected, err = repo.UpdateStatus(ctx, "0101", "inv-1", entity.StatusCancelled)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestPurchaseInvoiceRepository_Find(t *testing.T) {
	repo := NewPurchaseInvoiceRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	riskDetail := makeDetail("0101", "inv-2", "0302", feb)
	riskDetail.Risk = true

	_, err := repo.InsertMany(ctx, []*entity.InvoiceDetail{
		makeDetail("0101", "inv-1", "0301", jan),
		riskDetail,
	})
	require.NoError(t, err)

	found, total, err := repo.Find(ctx, "0101", port.InvoiceQuery{Page: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, found, 2)
	// newest first
	assert.Equal(t, "inv-2", found[0].Summary.ID)

	risky := true
	found, total, err = repo.Find(ctx, "0101", port.InvoiceQuery{Risk: &risky})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, "inv-2", found[0].Summary.ID)

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	found, total, err = repo.Find(ctx, "0101", port.InvoiceQuery{From: &from})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, "inv-2", found[0].Summary.ID)
}

func TestRiskCompanyRepository(t *testing.T) {
	repo := NewRiskCompanyRepository(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	count, err := repo.CreateMany(ctx, []*entity.RiskCompany{
		{TaxCode: "0301", Name: "Shady Co"},
		{TaxCode: "0302", Name: "Dodgy Ltd"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	risky, err := repo.Exists(ctx, "0301")
	require.NoError(t, err)
	assert.True(t, risky)

	risky, err = repo.Exists(ctx, "0399")
	require.NoError(t, err)
	assert.False(t, risky)

	companies, total, err := repo.List(ctx, "Shady", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, companies, 1)

	require.NoError(t, repo.SoftDelete(ctx, companies[0].ID))
	risky, err = repo.Exists(ctx, "0301")
	require.NoError(t, err)
	assert.False(t, risky)

	// re-adding revives the soft-deleted row
	_, err = repo.CreateMany(ctx, []*entity.RiskCompany{{TaxCode: "0301", Name: "Shady Co"}})
	require.NoError(t, err)
	risky, err = repo.Exists(ctx, "0301")
	require.NoError(t, err)
	assert.True(t, risky)
}
