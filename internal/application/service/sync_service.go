package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/application/throttle"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/utils"
)

// User-facing run messages.
const (
	msgNoInvoices    = "No new invoices found"
	msgAlreadySynced = "Already synced, no new invoices found"
	msgRateLimited   = "Some invoices could not be synced right now because the portal has hit its rate limit."
)

// SyncResult is what one sync run reports back: the persistence outcome
// plus whether the run was cut short by retry exhaustion. Exhausted with
// zero candidates means the portal throttled the run before anything
// could even be listed.
type SyncResult struct {
	Outcome   entity.SyncOutcome `json:"outcome"`
	Message   string             `json:"message"`
	Exhausted bool               `json:"exhausted"`
}

// RecheckResult reports a status-recheck run: how many stored invoices
// actually changed status, and which ones.
type RecheckResult struct {
	Updated  int                     `json:"updated"`
	Invoices []entity.InvoiceSummary `json:"invoices"`
}

// SyncService drives the invoice synchronization pipeline.
type SyncService interface {
	// SyncPurchaseInvoices pulls purchase invoices for the buyer over
	// [from, to], hydrates new ones and persists the results. Per-item
	// fetch failures are dropped and tallied; only validation, auth and
	// persistence failures surface as errors.
	SyncPurchaseInvoices(ctx context.Context, token, buyerTaxCode, userID string, from, to time.Time) (*SyncResult, error)

	// SyncSoldInvoices pulls sold-invoice summaries for the seller over
	// [from, to] and persists them. No detail hydration; the listing
	// record is the document.
	SyncSoldInvoices(ctx context.Context, token, sellerTaxCode, userID string, from, to time.Time) (*SyncResult, error)

	// RecheckInvoiceStatuses re-lists the range and updates the legal
	// status of already-stored invoices in place.
	RecheckInvoiceStatuses(ctx context.Context, token, buyerTaxCode string, from, to time.Time) (*RecheckResult, error)

	FindInvoices(ctx context.Context, buyerTaxCode string, q port.InvoiceQuery) ([]*port.StoredInvoice, int, error)
	FindInvoice(ctx context.Context, buyerTaxCode, id string) (*port.StoredInvoice, error)
	FindSoldInvoices(ctx context.Context, sellerTaxCode string, q port.InvoiceQuery) ([]*entity.InvoiceSummary, int, error)
}

type syncServiceImpl struct {
	gateway      port.PortalGateway
	purchaseRepo port.PurchaseInvoiceRepository
	soldRepo     port.SoldInvoiceRepository
	risk         RiskService
	notifier     port.Notifier
	throttleCfg  throttle.Config
	logger       *zap.Logger
}

// NewSyncService creates a SyncService.
func NewSyncService(
	gateway port.PortalGateway,
	purchaseRepo port.PurchaseInvoiceRepository,
	soldRepo port.SoldInvoiceRepository,
	risk RiskService,
	notifier port.Notifier,
	throttleCfg throttle.Config,
	logger *zap.Logger,
) SyncService {
	return &syncServiceImpl{
		gateway:      gateway,
		purchaseRepo: purchaseRepo,
		soldRepo:     soldRepo,
		risk:         risk,
		notifier:     notifier,
		throttleCfg:  throttleCfg,
		logger:       logger,
	}
}

// newController builds a per-run throttle controller whose retry
// callback feeds the user's progress channel.
func (s *syncServiceImpl) newController(userID string) *throttle.Controller {
	tc := throttle.New(s.throttleCfg, s.logger)
	tc.OnRetry(func(attempt, max int, backoff time.Duration) {
		s.notifier.Publish(userID, port.TopicRateLimit,
			fmt.Sprintf("Too many requests. Retry %d/%d after %s...", attempt, max, backoff))
	})
	return tc
}

func (s *syncServiceImpl) SyncPurchaseInvoices(ctx context.Context, token, buyerTaxCode, userID string, from, to time.Time) (*SyncResult, error) {
	ranges, err := utils.SplitDateRange(from, to)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Starting purchase invoice sync",
		zap.String("buyer", buyerTaxCode),
		zap.Time("from", from),
		zap.Time("to", to))

	tc := s.newController(userID)
	candidates, stopped := s.listPurchases(ctx, tc, token, userID, ranges)

	if len(candidates) == 0 {
		if stopped {
			s.notifier.Publish(userID, port.TopicRateLimit, msgRateLimited)
			return &SyncResult{Outcome: entity.NewSyncOutcome(0, 0, 0), Message: msgRateLimited, Exhausted: true}, nil
		}
		s.notifier.Publish(userID, port.TopicPurchaseInvoice, msgNoInvoices)
		return &SyncResult{Outcome: entity.NewSyncOutcome(0, 0, 0), Message: msgNoInvoices}, nil
	}

	fresh, err := dedupCandidates(ctx, s.purchaseRepo, buyerTaxCode, candidates)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Reconciled candidates against store",
		zap.Int("listed", len(candidates)),
		zap.Int("new", len(fresh)))

	if len(fresh) == 0 {
		if stopped {
			s.notifier.Publish(userID, port.TopicRateLimit, msgRateLimited)
			return &SyncResult{Outcome: entity.NewSyncOutcome(0, 0, 0), Message: msgRateLimited, Exhausted: true}, nil
		}
		s.notifier.Publish(userID, port.TopicPurchaseInvoice, msgAlreadySynced)
		return &SyncResult{Outcome: entity.NewSyncOutcome(0, 0, 0), Message: msgAlreadySynced}, nil
	}

	// A stop during listing means no further portal calls; the fresh
	// candidates are counted but none can be hydrated this run.
	var parsed []*entity.InvoiceDetail
	var raws []*entity.RawInvoice
	if !stopped {
		parsed, raws, stopped = s.hydrateDetails(ctx, tc, token, buyerTaxCode, userID, fresh)
	}

	insertedParsed, err := s.purchaseRepo.InsertMany(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("persist parsed invoices: %w", err)
	}
	insertedRaw, err := s.purchaseRepo.InsertRawMany(ctx, raws)
	if err != nil {
		return nil, fmt.Errorf("persist raw fallback invoices: %w", err)
	}

	outcome := entity.NewSyncOutcome(len(fresh), insertedParsed, insertedRaw)
	result := &SyncResult{Outcome: outcome, Exhausted: stopped}
	if outcome.Complete() {
		result.Message = fmt.Sprintf("All %d invoices saved successfully", outcome.TotalCandidates)
	} else {
		result.Message = fmt.Sprintf("%d/%d invoices saved successfully. Please try again later to sync the remaining invoices.",
			insertedParsed+insertedRaw, outcome.TotalCandidates)
	}

	s.logger.Info("Purchase invoice sync finished",
		zap.String("buyer", buyerTaxCode),
		zap.Int("total", outcome.TotalCandidates),
		zap.Int("parsed", insertedParsed),
		zap.Int("raw_fallback", insertedRaw),
		zap.Int("remaining", outcome.Remaining),
		zap.String("code", outcome.StatusCode))
	return result, nil
}

// listPurchases walks every (type, month range) listing and accumulates
// candidate summaries. A true stopped return means the portal throttled
// the run out of its retry budget (or the context was cancelled) and no
// further calls may be issued.
func (s *syncServiceImpl) listPurchases(ctx context.Context, tc *throttle.Controller, token, userID string, ranges []utils.DateRange) ([]entity.InvoiceSummary, bool) {
	var candidates []entity.InvoiceSummary
	for _, typeCode := range entity.PurchaseInvoiceTypes {
		for _, dr := range ranges {
			if err := tc.Pace(ctx); err != nil {
				return candidates, true
			}

			summaries, stopped, err := walkPages(ctx, tc, func(page, fetched int) {
				s.notifier.Publish(userID, port.TopicPurchaseInvoice,
					fmt.Sprintf("Listing %s (%s), page %d", entity.TypeName(typeCode), dr, page))
			}, func(ctx context.Context, cursor string) (*port.InvoicePage, error) {
				return s.gateway.ListPurchaseInvoices(ctx, token, dr, typeCode, cursor)
			})

			candidates = append(candidates, summaries...)
			if stopped {
				return candidates, true
			}
			if err != nil {
				// One bad window is not fatal to the run.
				s.logger.Warn("Listing failed for range, skipping",
					zap.Int("type", typeCode),
					zap.String("range", dr.String()),
					zap.Error(err))
			}
		}
	}
	return candidates, false
}

// hydrateDetails fetches the detail of each new candidate in sequence,
// pacing before every call. Exhaustion or cancellation stops the loop
// and returns whatever is buffered; per-item failures drop only that
// candidate.
func (s *syncServiceImpl) hydrateDetails(ctx context.Context, tc *throttle.Controller, token, buyerTaxCode, userID string, fresh []entity.InvoiceSummary) (parsed []*entity.InvoiceDetail, raws []*entity.RawInvoice, stopped bool) {
	for i, summary := range fresh {
		if err := tc.Pace(ctx); err != nil {
			return parsed, raws, true
		}

		var result *port.DetailResult
		err := tc.Do(ctx, func(ctx context.Context) error {
			r, err := s.gateway.FetchDetail(ctx, token, summary)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if throttle.ShouldStop(err) {
			s.logger.Warn("Detail fetching stopped, flushing buffered invoices",
				zap.Int("buffered", len(parsed)+len(raws)),
				zap.Int("total", len(fresh)))
			s.notifier.Publish(userID, port.TopicRateLimit, msgRateLimited)
			return parsed, raws, true
		}
		if err != nil {
			s.logger.Warn("Detail fetch failed, dropping candidate",
				zap.String("invoice_id", summary.ID),
				zap.String("seller", summary.SellerTaxCode),
				zap.Error(err))
			s.notifier.Publish(userID, port.TopicPurchaseInvoice,
				fmt.Sprintf("Failed to save invoice %s of %s", summary.InvoiceNumber, summary.SellerTaxCode))
			continue
		}

		if result.Detail != nil {
			detail := result.Detail
			if detail.BuyerTaxCode == "" {
				detail.BuyerTaxCode = buyerTaxCode
			}
			detail.Risk = s.risk.IsRisky(ctx, detail.SellerTaxCode)
			parsed = append(parsed, detail)
		} else {
			raws = append(raws, &entity.RawInvoice{Summary: summary, Body: result.Raw})
		}

		s.notifier.Publish(userID, port.TopicPurchaseInvoice,
			fmt.Sprintf("Download: %d/%d - %.2f%% completed", i+1, len(fresh), float64(i+1)/float64(len(fresh))*100))
	}
	return parsed, raws, false
}

func (s *syncServiceImpl) SyncSoldInvoices(ctx context.Context, token, sellerTaxCode, userID string, from, to time.Time) (*SyncResult, error) {
	ranges, err := utils.SplitDateRange(from, to)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Starting sold invoice sync",
		zap.String("seller", sellerTaxCode),
		zap.Time("from", from),
		zap.Time("to", to))

	tc := s.newController(userID)

	var collected []entity.InvoiceSummary
	stopped := false
	for _, dr := range ranges {
		if err := tc.Pace(ctx); err != nil {
			stopped = true
			break
		}
		summaries, walkStopped, err := walkPages(ctx, tc, func(page, fetched int) {
			s.notifier.Publish(userID, port.TopicSoldInvoice,
				fmt.Sprintf("Listing sold invoices (%s), page %d", dr, page))
		}, func(ctx context.Context, cursor string) (*port.InvoicePage, error) {
			return s.gateway.ListSoldInvoices(ctx, token, dr, cursor)
		})
		collected = append(collected, summaries...)
		if walkStopped {
			stopped = true
			break
		}
		if err != nil {
			s.logger.Warn("Sold listing failed for range, skipping",
				zap.String("range", dr.String()),
				zap.Error(err))
		}
	}

	if len(collected) == 0 {
		msg := msgNoInvoices
		if stopped {
			msg = msgRateLimited
		}
		s.notifier.Publish(userID, port.TopicSoldInvoice, msg)
		return &SyncResult{Outcome: entity.NewSyncOutcome(0, 0, 0), Message: msg, Exhausted: stopped}, nil
	}

	summaries := make([]*entity.InvoiceSummary, 0, len(collected))
	payloads := make([]string, 0, len(collected))
	for i := range collected {
		if collected[i].SellerTaxCode == "" {
			collected[i].SellerTaxCode = sellerTaxCode
		}
		body, err := json.Marshal(collected[i])
		if err != nil {
			return nil, fmt.Errorf("encode sold invoice %s: %w", collected[i].ID, err)
		}
		summaries = append(summaries, &collected[i])
		payloads = append(payloads, string(body))
	}

	inserted, err := s.soldRepo.InsertMany(ctx, summaries, payloads)
	if err != nil {
		return nil, fmt.Errorf("persist sold invoices: %w", err)
	}

	// Duplicates skipped by insert-if-absent are synced, not remaining,
	// so the outcome is partial only when the listing itself was cut off.
	outcome := entity.SyncOutcome{
		TotalCandidates: len(collected),
		InsertedParsed:  inserted,
		StatusCode:      entity.CodeOK,
	}
	msg := fmt.Sprintf("%d sold invoices saved (%d already stored)", inserted, len(collected)-inserted)
	if stopped {
		outcome.StatusCode = entity.CodePartial
		msg = fmt.Sprintf("%d sold invoices saved before the portal rate limit hit. Please try again later.", inserted)
	}

	s.logger.Info("Sold invoice sync finished",
		zap.String("seller", sellerTaxCode),
		zap.Int("listed", len(collected)),
		zap.Int("inserted", inserted),
		zap.String("code", outcome.StatusCode))
	return &SyncResult{Outcome: outcome, Message: msg, Exhausted: stopped}, nil
}

func (s *syncServiceImpl) RecheckInvoiceStatuses(ctx context.Context, token, buyerTaxCode string, from, to time.Time) (*RecheckResult, error) {
	ranges, err := utils.SplitDateRange(from, to)
	if err != nil {
		return nil, err
	}

	tc := s.newController(buyerTaxCode)
	listed, _ := s.listPurchases(ctx, tc, token, buyerTaxCode, ranges)

	result := &RecheckResult{}
	for _, summary := range listed {
		affected, err := s.purchaseRepo.UpdateStatus(ctx, buyerTaxCode, summary.ID, summary.StatusCode)
		if err != nil {
			s.logger.Warn("Status update failed",
				zap.String("invoice_id", summary.ID),
				zap.Error(err))
			continue
		}
		if affected > 0 {
			result.Updated++
			result.Invoices = append(result.Invoices, summary)
		}
	}

	s.logger.Info("Status recheck finished",
		zap.String("buyer", buyerTaxCode),
		zap.Int("listed", len(listed)),
		zap.Int("updated", result.Updated))
	return result, nil
}

func (s *syncServiceImpl) FindInvoices(ctx context.Context, buyerTaxCode string, q port.InvoiceQuery) ([]*port.StoredInvoice, int, error) {
	return s.purchaseRepo.Find(ctx, buyerTaxCode, q)
}

func (s *syncServiceImpl) FindInvoice(ctx context.Context, buyerTaxCode, id string) (*port.StoredInvoice, error) {
	return s.purchaseRepo.FindOne(ctx, buyerTaxCode, id)
}

func (s *syncServiceImpl) FindSoldInvoices(ctx context.Context, sellerTaxCode string, q port.InvoiceQuery) ([]*entity.InvoiceSummary, int, error) {
	return s.soldRepo.Find(ctx, sellerTaxCode, q)
}
