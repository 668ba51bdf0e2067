package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/application/service"
	"github.com/minhlq/invoicesync/internal/domain/entity"
)

// DetailParser re-attempts decoding a stored portal body.
type DetailParser func(body []byte) (*entity.InvoiceDetail, error)

// ReparseWorkerConfig holds configuration for the reparse worker
type ReparseWorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultReparseWorkerConfig returns default configuration
func DefaultReparseWorkerConfig() ReparseWorkerConfig {
	return ReparseWorkerConfig{
		Interval:  30 * time.Minute,
		BatchSize: 100,
	}
}

// ReparseWorker periodically revisits raw-fallback invoice rows and
// promotes the ones that now decode. Portal schema drift is usually
// fixed on our side by updating the wire types, after which the stored
// bodies become parseable without refetching.
type ReparseWorker struct {
	config ReparseWorkerConfig
	repo   port.PurchaseInvoiceRepository
	risk   service.RiskService
	parse  DetailParser
	logger *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReparseWorker creates a new reparse worker
func NewReparseWorker(
	config ReparseWorkerConfig,
	repo port.PurchaseInvoiceRepository,
	risk service.RiskService,
	parse DetailParser,
	logger *zap.Logger,
) *ReparseWorker {
	return &ReparseWorker{
		config: config,
		repo:   repo,
		risk:   risk,
		parse:  parse,
		logger: logger,
	}
}

// Name implements Worker.
func (w *ReparseWorker) Name() string { return "reparse_worker" }

// Start begins the periodic reparse loop.
func (w *ReparseWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("reparse worker already running")
	}
	if w.config.Interval <= 0 {
		return fmt.Errorf("reparse worker disabled: non-positive interval")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	go w.loop(ctx)
	return nil
}

// Stop terminates the loop and waits for the in-flight pass to finish.
func (w *ReparseWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (w *ReparseWorker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce processes one batch of raw-fallback rows.
func (w *ReparseWorker) runOnce(ctx context.Context) {
	rows, err := w.repo.GetRawUnparsed(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("Failed to load raw fallback invoices", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	promoted := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}

		detail, err := w.parse([]byte(row.Payload))
		if err != nil {
			// Still not decodable; leave the row for a later pass.
			continue
		}

		if detail.BuyerTaxCode == "" {
			detail.BuyerTaxCode = row.Summary.BuyerTaxCode
		}
		detail.Risk = w.risk.IsRisky(ctx, detail.SellerTaxCode)

		if err := w.repo.PromoteParsed(ctx, detail); err != nil {
			w.logger.Error("Failed to promote reparsed invoice",
				zap.String("invoice_id", detail.ID),
				zap.Error(err))
			continue
		}
		promoted++
	}

	w.logger.Info("Reparse pass finished",
		zap.Int("candidates", len(rows)),
		zap.Int("promoted", promoted))
}
