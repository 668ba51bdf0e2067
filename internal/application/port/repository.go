package port

import (
	"context"
	"time"

	"github.com/minhlq/invoicesync/internal/domain/entity"
)

// InvoiceQuery filters local lookups over stored invoices.
type InvoiceQuery struct {
	From          *time.Time
	To            *time.Time
	InvoiceNumber string
	NameKeyword   string
	Risk          *bool
	StatusCode    *int
	TypeCode      *int
	Page          int
	Size          int
}

// StoredInvoice is one purchase invoice row as persisted: either a
// parsed document or a raw fallback awaiting reparse.
type StoredInvoice struct {
	Summary   entity.InvoiceSummary
	Risk      bool
	Parsed    bool
	Payload   string
	CreatedAt time.Time
}

// PurchaseInvoiceRepository defines persistence operations for purchase
// invoices. Inserts are insert-if-absent keyed on (buyer, invoice id),
// so retrying a whole batch after a partial failure is safe.
type PurchaseInvoiceRepository interface {
	// InsertMany writes parsed invoice documents, skipping rows whose
	// (buyer, id) already exists. Returns the number actually inserted.
	InsertMany(ctx context.Context, invoices []*entity.InvoiceDetail) (int, error)

	// InsertRawMany writes raw-fallback documents the same way.
	InsertRawMany(ctx context.Context, raws []*entity.RawInvoice) (int, error)

	// GetExistingIDs returns which of candidateIDs are already stored
	// for the buyer.
	GetExistingIDs(ctx context.Context, buyerTaxCode string, candidateIDs []string) (map[string]struct{}, error)

	// UpdateStatus sets the legal status of one stored invoice. Returns
	// the number of rows changed (0 when the status already matched).
	UpdateStatus(ctx context.Context, buyerTaxCode, id string, statusCode int) (int64, error)

	// Find pages through stored invoices for a buyer.
	Find(ctx context.Context, buyerTaxCode string, q InvoiceQuery) ([]*StoredInvoice, int, error)

	// FindOne fetches a single stored invoice by id within a buyer's ledger.
	FindOne(ctx context.Context, buyerTaxCode, id string) (*StoredInvoice, error)

	// GetRawUnparsed returns up to limit raw-fallback rows for the
	// reparse worker.
	GetRawUnparsed(ctx context.Context, limit int) ([]*StoredInvoice, error)

	// PromoteParsed replaces a raw-fallback row with its parsed form.
	PromoteParsed(ctx context.Context, detail *entity.InvoiceDetail) error
}

// SoldInvoiceRepository defines persistence operations for sold-invoice
// summaries, keyed on (seller, invoice id).
type SoldInvoiceRepository interface {
	InsertMany(ctx context.Context, invoices []*entity.InvoiceSummary, payloads []string) (int, error)
	Find(ctx context.Context, sellerTaxCode string, q InvoiceQuery) ([]*entity.InvoiceSummary, int, error)
}

// RiskCompanyRepository defines persistence operations for the
// known-risky-seller set.
type RiskCompanyRepository interface {
	Exists(ctx context.Context, taxCode string) (bool, error)
	List(ctx context.Context, keyword string, page, size int) ([]*entity.RiskCompany, int, error)
	CreateMany(ctx context.Context, companies []*entity.RiskCompany) (int, error)
	SoftDelete(ctx context.Context, id int64) error
}
