package service

import (
	"context"
	"fmt"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
)

// dedupCandidates drops candidates already stored for the buyer. Invoice
// IDs are unique only within one buyer's ledger, so the existence check
// is keyed on the (buyer tax code, invoice id) pair. Filtering happens
// before any detail fetch, which is what makes re-running a date range
// cost extra list calls but no duplicate detail calls or writes.
func dedupCandidates(ctx context.Context, repo port.PurchaseInvoiceRepository, buyerTaxCode string, candidates []entity.InvoiceSummary) ([]entity.InvoiceSummary, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	existing, err := repo.GetExistingIDs(ctx, buyerTaxCode, ids)
	if err != nil {
		return nil, fmt.Errorf("query existing invoice ids: %w", err)
	}

	var fresh []entity.InvoiceSummary
	for _, c := range candidates {
		if _, ok := existing[c.ID]; ok {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, nil
}
