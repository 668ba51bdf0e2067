package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
)

// RiskService manages the known-risky-seller set and answers the
// per-invoice risk lookup used during sync.
type RiskService interface {
	// IsRisky reports whether the seller tax code is on the risk list.
	// Lookup failures are logged and treated as not risky; annotation is
	// best effort and must never fail a sync run.
	IsRisky(ctx context.Context, sellerTaxCode string) bool

	List(ctx context.Context, keyword string, page, size int) ([]*entity.RiskCompany, int, error)
	Add(ctx context.Context, companies []*entity.RiskCompany) (int, error)
	Remove(ctx context.Context, id int64) error
}

type riskServiceImpl struct {
	repo   port.RiskCompanyRepository
	logger *zap.Logger
}

// NewRiskService creates a RiskService.
func NewRiskService(repo port.RiskCompanyRepository, logger *zap.Logger) RiskService {
	return &riskServiceImpl{repo: repo, logger: logger}
}

func (s *riskServiceImpl) IsRisky(ctx context.Context, sellerTaxCode string) bool {
	if sellerTaxCode == "" {
		return false
	}
	risky, err := s.repo.Exists(ctx, sellerTaxCode)
	if err != nil {
		s.logger.Warn("Risk lookup failed, treating seller as not risky",
			zap.String("seller_tax_code", sellerTaxCode),
			zap.Error(err))
		return false
	}
	return risky
}

func (s *riskServiceImpl) List(ctx context.Context, keyword string, page, size int) ([]*entity.RiskCompany, int, error) {
	return s.repo.List(ctx, keyword, page, size)
}

func (s *riskServiceImpl) Add(ctx context.Context, companies []*entity.RiskCompany) (int, error) {
	return s.repo.CreateMany(ctx, companies)
}

func (s *riskServiceImpl) Remove(ctx context.Context, id int64) error {
	return s.repo.SoftDelete(ctx, id)
}
