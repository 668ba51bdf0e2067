package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/database"
)

// RiskCompanyRepository implements port.RiskCompanyRepository on SQLite.
type RiskCompanyRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRiskCompanyRepository creates a new risk company repository
func NewRiskCompanyRepository(db *database.DB, logger *zap.Logger) port.RiskCompanyRepository {
	return &RiskCompanyRepository{
		db:     db,
		logger: logger,
	}
}

// Exists reports whether the tax code is on the active risk list.
func (r *RiskCompanyRepository) Exists(ctx context.Context, taxCode string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM risk_companies WHERE tax_code = ? AND deleted = 0`,
		taxCode).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to check risk company", zap.String("tax_code", taxCode), zap.Error(err))
		return false, fmt.Errorf("check risk company: %w", err)
	}
	return true, nil
}

// List pages through active risk companies, optionally filtered by a
// keyword matched against tax code or name.
func (r *RiskCompanyRepository) List(ctx context.Context, keyword string, page, size int) ([]*entity.RiskCompany, int, error) {
	condition := "deleted = 0"
	args := []any{}
	if keyword != "" {
		condition += " AND (tax_code LIKE ? OR name LIKE ?)"
		like := "%" + keyword + "%"
		args = append(args, like, like)
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM risk_companies WHERE "+condition, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count risk companies", zap.Error(err))
		return nil, 0, fmt.Errorf("count risk companies: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tax_code, name, deleted, created_at FROM risk_companies
		 WHERE `+condition+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		r.logger.Error("Failed to query risk companies", zap.Error(err))
		return nil, 0, fmt.Errorf("query risk companies: %w", err)
	}
	defer rows.Close()

	var found []*entity.RiskCompany
	for rows.Next() {
		var c entity.RiskCompany
		if err := rows.Scan(&c.ID, &c.TaxCode, &c.Name, &c.Deleted, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan risk company: %w", err)
		}
		found = append(found, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate risk companies: %w", err)
	}
	return found, total, nil
}

// CreateMany inserts risk companies, reviving soft-deleted rows that
// share a tax code. Returns the number of codes now active.
func (r *RiskCompanyRepository) CreateMany(ctx context.Context, companies []*entity.RiskCompany) (int, error) {
	if len(companies) == 0 {
		return 0, nil
	}

	count := 0
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO risk_companies (tax_code, name) VALUES (?, ?)
			ON CONFLICT(tax_code) DO UPDATE SET name = excluded.name, deleted = 0
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range companies {
			if c.TaxCode == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, c.TaxCode, c.Name); err != nil {
				return fmt.Errorf("insert risk company %s: %w", c.TaxCode, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to create risk companies", zap.Error(err))
		return 0, err
	}
	return count, nil
}

// SoftDelete hides a risk company without losing its history.
func (r *RiskCompanyRepository) SoftDelete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE risk_companies SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete risk company", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("delete risk company: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("risk company %d not found", id)
	}
	return nil
}
