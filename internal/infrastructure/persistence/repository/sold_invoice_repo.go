package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/database"
)

// SoldInvoiceRepository implements port.SoldInvoiceRepository on SQLite.
// Sold invoices are stored as listing summaries; the portal exposes no
// detail endpoint worth hydrating for the seller's own invoices.
type SoldInvoiceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSoldInvoiceRepository creates a new sold invoice repository
func NewSoldInvoiceRepository(db *database.DB, logger *zap.Logger) port.SoldInvoiceRepository {
	return &SoldInvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// InsertMany writes sold-invoice summaries in one transaction, skipping
// rows whose (seller, id) already exists. payloads[i] is the stored JSON
// document for invoices[i].
func (r *SoldInvoiceRepository) InsertMany(ctx context.Context, invoices []*entity.InvoiceSummary, payloads []string) (int, error) {
	if len(invoices) == 0 {
		return 0, nil
	}
	if len(invoices) != len(payloads) {
		return 0, fmt.Errorf("invoices and payloads length mismatch: %d vs %d", len(invoices), len(payloads))
	}

	inserted := 0
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO sold_invoices (
				invoice_id, seller_tax_code, buyer_tax_code, buyer_name,
				invoice_number, invoice_notation, invoice_group_notation,
				status_code, creation_date, payload
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, inv := range invoices {
			result, err := stmt.ExecContext(ctx,
				inv.ID, inv.SellerTaxCode, inv.BuyerTaxCode, inv.BuyerName,
				inv.InvoiceNumber, inv.InvoiceNotation, inv.InvoiceGroupNotation,
				inv.StatusCode, inv.CreationDate, payloads[i],
			)
			if err != nil {
				return fmt.Errorf("insert sold invoice %s: %w", inv.ID, err)
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
		r.logger.Error("Failed to insert sold invoices", zap.Error(err))
		return 0, err
	}
	return inserted, nil
}

// Find pages through stored sold invoices for a seller, newest first.
func (r *SoldInvoiceRepository) Find(ctx context.Context, sellerTaxCode string, q port.InvoiceQuery) ([]*entity.InvoiceSummary, int, error) {
	where := []string{"seller_tax_code = ?"}
	args := []any{sellerTaxCode}

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
		where = append(where, "buyer_name LIKE ?")
		args = append(args, "%"+q.NameKeyword+"%")
	}
	if q.StatusCode != nil {
		where = append(where, "status_code = ?")
		args = append(args, *q.StatusCode)
	}
	condition := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sold_invoices WHERE "+condition, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count sold invoices", zap.Error(err))
		return nil, 0, fmt.Errorf("count sold invoices: %w", err)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.Size
	if size < 1 {
		size = 50
	}

	query := `
		SELECT invoice_id, seller_tax_code, buyer_tax_code, buyer_name,
			invoice_number, invoice_notation, invoice_group_notation,
			status_code, creation_date
		FROM sold_invoices WHERE ` + condition + `
		ORDER BY creation_date DESC, invoice_id DESC LIMIT ? OFFSET ?`
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query sold invoices", zap.Error(err))
		return nil, 0, fmt.Errorf("query sold invoices: %w", err)
	}
	defer rows.Close()

	var found []*entity.InvoiceSummary
	for rows.Next() {
		var inv entity.InvoiceSummary
		var creationDate sql.NullTime
		var groupNotation, statusCode sql.NullInt64

		if err := rows.Scan(
			&inv.ID, &inv.SellerTaxCode, &inv.BuyerTaxCode, &inv.BuyerName,
			&inv.InvoiceNumber, &inv.InvoiceNotation, &groupNotation,
			&statusCode, &creationDate,
		); err != nil {
			return nil, 0, fmt.Errorf("scan sold invoice: %w", err)
		}

		if groupNotation.Valid {
			inv.InvoiceGroupNotation = int(groupNotation.Int64)
		}
		if statusCode.Valid {
			inv.StatusCode = int(statusCode.Int64)
		}
		if creationDate.Valid {
			inv.CreationDate = &creationDate.Time
		}
		found = append(found, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sold invoices: %w", err)
	}
	return found, total, nil
}
