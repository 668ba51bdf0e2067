package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/database"
)

// SQLite caps bound parameters per statement; stay well under it.
const idChunkSize = 500

// PurchaseInvoiceRepository implements port.PurchaseInvoiceRepository on
// SQLite. Each row is a document: indexed columns for querying plus the
// full JSON payload (or the verbatim portal body for raw fallbacks).
type PurchaseInvoiceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewPurchaseInvoiceRepository creates a new purchase invoice repository
func NewPurchaseInvoiceRepository(db *database.DB, logger *zap.Logger) port.PurchaseInvoiceRepository {
	return &PurchaseInvoiceRepository{
		db:     db,
		logger: logger,
	}
}

const insertInvoiceQuery = `
	INSERT OR IGNORE INTO purchase_invoices (
		invoice_id, buyer_tax_code, seller_tax_code, seller_name,
		invoice_number, invoice_notation, invoice_group_notation,
		type_code, status_code, creation_date, risk, parsed, payload
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertMany writes parsed invoice documents in one transaction. Rows
// whose (buyer, id) already exists are skipped, so retrying a batch
// after a partial failure never duplicates.
func (r *PurchaseInvoiceRepository) InsertMany(ctx context.Context, invoices []*entity.InvoiceDetail) (int, error) {
	if len(invoices) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertInvoiceQuery)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, inv := range invoices {
			payload, err := json.Marshal(inv)
			if err != nil {
				return fmt.Errorf("encode invoice %s: %w", inv.ID, err)
			}
			result, err := stmt.ExecContext(ctx,
				inv.ID, inv.BuyerTaxCode, inv.SellerTaxCode, inv.SellerName,
				inv.InvoiceNumber, inv.InvoiceNotation, inv.InvoiceGroupNotation,
				inv.TypeCode, inv.StatusCode, inv.CreationDate,
				inv.Risk, true, string(payload),
			)
			if err != nil {
				return fmt.Errorf("insert invoice %s: %w", inv.ID, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(affected)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to insert parsed invoices", zap.Error(err))
		return 0, err
	}
	return inserted, nil
}

// InsertRawMany writes raw-fallback documents the same way. The summary
// that triggered the detail fetch supplies the indexed columns; parsed
// is left false so the reparse worker can find the row later.
func (r *PurchaseInvoiceRepository) InsertRawMany(ctx context.Context, raws []*entity.RawInvoice) (int, error) {
	if len(raws) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertInvoiceQuery)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, raw := range raws {
			s := raw.Summary
			result, err := stmt.ExecContext(ctx,
				s.ID, s.BuyerTaxCode, s.SellerTaxCode, s.SellerName,
				s.InvoiceNumber, s.InvoiceNotation, s.InvoiceGroupNotation,
				s.TypeCode, s.StatusCode, s.CreationDate,
				false, false, raw.Body,
			)
			if err != nil {
				return fmt.Errorf("insert raw invoice %s: %w", s.ID, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(affected)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to insert raw fallback invoices", zap.Error(err))
		return 0, err
	}
	return inserted, nil
}

// GetExistingIDs returns which of candidateIDs are already stored for
// the buyer. Candidates are checked in chunks to respect the statement
// parameter cap.
func (r *PurchaseInvoiceRepository) GetExistingIDs(ctx context.Context, buyerTaxCode string, candidateIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for start := 0; start < len(candidateIDs); start += idChunkSize {
		end := start + idChunkSize
		if end > len(candidateIDs) {
			end = len(candidateIDs)
		}
		chunk := candidateIDs[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		query := fmt.Sprintf(
			`SELECT invoice_id FROM purchase_invoices WHERE buyer_tax_code = ? AND invoice_id IN (%s)`,
			placeholders[:len(placeholders)-1])

		args := make([]any, 0, len(chunk)+1)
		args = append(args, buyerTaxCode)
		for _, id := range chunk {
			args = append(args, id)
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			r.logger.Error("Failed to query existing invoice ids", zap.Error(err))
			return nil, fmt.Errorf("query existing ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan invoice id: %w", err)
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate invoice ids: %w", err)
		}
		rows.Close()
	}
	return existing, nil
}

// UpdateStatus sets the legal status of one stored invoice. A row whose
// status already matches is not counted as changed.
func (r *PurchaseInvoiceRepository) UpdateStatus(ctx context.Context, buyerTaxCode, id string, statusCode int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE purchase_invoices SET status_code = ?
		 WHERE buyer_tax_code = ? AND invoice_id = ? AND status_code <> ?`,
		statusCode, buyerTaxCode, id, statusCode)
	if err != nil {
		r.logger.Error("Failed to update invoice status",
			zap.String("invoice_id", id), zap.Error(err))
		return 0, fmt.Errorf("update status: %w", err)
	}
	return result.RowsAffected()
}

const storedInvoiceColumns = `
	invoice_id, buyer_tax_code, seller_tax_code, seller_name,
	invoice_number, invoice_notation, invoice_group_notation,
	type_code, status_code, creation_date, risk, parsed, payload, created_at
`

// Find pages through stored invoices for a buyer, newest first.
func (r *PurchaseInvoiceRepository) Find(ctx context.Context, buyerTaxCode string, q port.InvoiceQuery) ([]*port.StoredInvoice, int, error) {
	where := []string{"buyer_tax_code = ?"}
	args := []any{buyerTaxCode}

	if q.From != nil {
		where = append(where, "creation_date >= ?")
		args = append(args, *q.From)
	}
	if q.To != nil {
		where = append(where, "creation_date <= ?")
		args = append(args, *q.To)
	}
	if q.InvoiceNumber != "" {
		where = append(where, "invoice_number = ?")
		args = append(args, q.InvoiceNumber)
	}
	if q.NameKeyword != "" {
		where = append(where, "seller_name LIKE ?")
		args = append(args, "%"+q.NameKeyword+"%")
	}
	if q.Risk != nil {
		where = append(where, "risk = ?")
		args = append(args, *q.Risk)
	}
	if q.StatusCode != nil {
		where = append(where, "status_code = ?")
		args = append(args, *q.StatusCode)
	}
	if q.TypeCode != nil {
		where = append(where, "type_code = ?")
		args = append(args, *q.TypeCode)
	}
	condition := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM purchase_invoices WHERE " + condition
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count invoices", zap.Error(err))
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.Size
	if size < 1 {
		size = 50
	}

	query := fmt.Sprintf(
		`SELECT %s FROM purchase_invoices WHERE %s
		 ORDER BY creation_date DESC, invoice_id DESC LIMIT ? OFFSET ?`,
		storedInvoiceColumns, condition)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query invoices", zap.Error(err))
		return nil, 0, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var found []*port.StoredInvoice
	for rows.Next() {
		inv, err := scanStoredInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		found = append(found, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invoices: %w", err)
	}
	return found, total, nil
}

// FindOne fetches a single stored invoice within a buyer's ledger.
// Returns nil when absent.
func (r *PurchaseInvoiceRepository) FindOne(ctx context.Context, buyerTaxCode, id string) (*port.StoredInvoice, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM purchase_invoices WHERE buyer_tax_code = ? AND invoice_id = ?`,
		storedInvoiceColumns)

	row := r.db.QueryRowContext(ctx, query, buyerTaxCode, id)
	inv, err := scanStoredInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice",
			zap.String("invoice_id", id), zap.Error(err))
		return nil, err
	}
	return inv, nil
}

// GetRawUnparsed returns up to limit raw-fallback rows, oldest first, so
// the reparse worker can re-attempt decoding them.
func (r *PurchaseInvoiceRepository) GetRawUnparsed(ctx context.Context, limit int) ([]*port.StoredInvoice, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM purchase_invoices WHERE parsed = 0 ORDER BY created_at ASC LIMIT ?`,
		storedInvoiceColumns)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to query unparsed invoices", zap.Error(err))
		return nil, fmt.Errorf("query unparsed invoices: %w", err)
	}
	defer rows.Close()

	var found []*port.StoredInvoice
	for rows.Next() {
		inv, err := scanStoredInvoice(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unparsed invoices: %w", err)
	}
	return found, nil
}

// PromoteParsed replaces a raw-fallback row with its parsed form,
// refreshing the indexed columns from the decoded document.
func (r *PurchaseInvoiceRepository) PromoteParsed(ctx context.Context, detail *entity.InvoiceDetail) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode invoice %s: %w", detail.ID, err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE purchase_invoices SET
			seller_tax_code = ?, seller_name = ?, invoice_number = ?,
			invoice_notation = ?, invoice_group_notation = ?, type_code = ?,
			status_code = ?, creation_date = ?, risk = ?, parsed = 1, payload = ?
		 WHERE buyer_tax_code = ? AND invoice_id = ?`,
		detail.SellerTaxCode, detail.SellerName, detail.InvoiceNumber,
		detail.InvoiceNotation, detail.InvoiceGroupNotation, detail.TypeCode,
		detail.StatusCode, detail.CreationDate, detail.Risk, string(payload),
		detail.BuyerTaxCode, detail.ID)
	if err != nil {
		r.logger.Error("Failed to promote parsed invoice",
			zap.String("invoice_id", detail.ID), zap.Error(err))
		return fmt.Errorf("promote invoice %s: %w", detail.ID, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStoredInvoice(s scanner) (*port.StoredInvoice, error) {
	var inv port.StoredInvoice
	var creationDate sql.NullTime
	var groupNotation, typeCode, statusCode sql.NullInt64

	err := s.Scan(
		&inv.Summary.ID,
		&inv.Summary.BuyerTaxCode,
		&inv.Summary.SellerTaxCode,
		&inv.Summary.SellerName,
		&inv.Summary.InvoiceNumber,
		&inv.Summary.InvoiceNotation,
		&groupNotation,
		&typeCode,
		&statusCode,
		&creationDate,
		&inv.Risk,
		&inv.Parsed,
		&inv.Payload,
		&inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}

	if groupNotation.Valid {
		inv.Summary.InvoiceGroupNotation = int(groupNotation.Int64)
	}
	if typeCode.Valid {
		inv.Summary.TypeCode = int(typeCode.Int64)
	}
	if statusCode.Valid {
		inv.Summary.StatusCode = int(statusCode.Int64)
	}
	if creationDate.Valid {
		inv.Summary.CreationDate = &creationDate.Time
	}
	return &inv, nil
}
