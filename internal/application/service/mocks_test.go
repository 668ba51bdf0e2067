package service

import (
	"context"
	"sync"
	"time"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/utils"
)

type mockGateway struct {
	authenticateFunc  func(ctx context.Context, creds port.PortalCredentials) (string, error)
	fetchCaptchaFunc  func(ctx context.Context) (*port.Captcha, error)
	listPurchaseFunc  func(ctx context.Context, token string, dr utils.DateRange, typeCode int, cursor string) (*port.InvoicePage, error)
	listSoldFunc      func(ctx context.Context, token string, dr utils.DateRange, cursor string) (*port.InvoicePage, error)
	fetchDetailFunc   func(ctx context.Context, token string, summary entity.InvoiceSummary) (*port.DetailResult, error)
	detailCalls       int
	listPurchaseCalls int
}

func (m *mockGateway) Authenticate(ctx context.Context, creds port.PortalCredentials) (string, error) {
	if m.authenticateFunc != nil {
		return m.authenticateFunc(ctx, creds)
	}
	return "token", nil
}

func (m *mockGateway) FetchCaptcha(ctx context.Context) (*port.Captcha, error) {
	if m.fetchCaptchaFunc != nil {
		return m.fetchCaptchaFunc(ctx)
	}
	return &port.Captcha{Key: "k", Content: "<svg/>"}, nil
}

func (m *mockGateway) ListPurchaseInvoices(ctx context.Context, token string, dr utils.DateRange, typeCode int, cursor string) (*port.InvoicePage, error) {
	m.listPurchaseCalls++
	if m.listPurchaseFunc != nil {
		return m.listPurchaseFunc(ctx, token, dr, typeCode, cursor)
	}
	return &port.InvoicePage{}, nil
}

func (m *mockGateway) ListSoldInvoices(ctx context.Context, token string, dr utils.DateRange, cursor string) (*port.InvoicePage, error) {
	if m.listSoldFunc != nil {
		return m.listSoldFunc(ctx, token, dr, cursor)
	}
	return &port.InvoicePage{}, nil
}

func (m *mockGateway) FetchDetail(ctx context.Context, token string, summary entity.InvoiceSummary) (*port.DetailResult, error) {
	m.detailCalls++
	if m.fetchDetailFunc != nil {
		return m.fetchDetailFunc(ctx, token, summary)
	}
	return &port.DetailResult{Detail: &entity.InvoiceDetail{InvoiceSummary: summary}}, nil
}

type mockPurchaseRepo struct {
	existingIDs     map[string]struct{}
	insertedParsed  []*entity.InvoiceDetail
	insertedRaw     []*entity.RawInvoice
	insertManyErr   error
	updateStatusFn  func(ctx context.Context, buyerTaxCode, id string, statusCode int) (int64, error)
	findFunc        func(ctx context.Context, buyerTaxCode string, q port.InvoiceQuery) ([]*port.StoredInvoice, int, error)
	findOneFunc     func(ctx context.Context, buyerTaxCode, id string) (*port.StoredInvoice, error)
	rawUnparsedFunc func(ctx context.Context, limit int) ([]*port.StoredInvoice, error)
	promoted        []*entity.InvoiceDetail
}

func (m *mockPurchaseRepo) InsertMany(ctx context.Context, invoices []*entity.InvoiceDetail) (int, error) {
	if m.insertManyErr != nil {
		return 0, m.insertManyErr
	}
	m.insertedParsed = append(m.insertedParsed, invoices...)
	return len(invoices), nil
}

func (m *mockPurchaseRepo) InsertRawMany(ctx context.Context, raws []*entity.RawInvoice) (int, error) {
	m.insertedRaw = append(m.insertedRaw, raws...)
	return len(raws), nil
}

func (m *mockPurchaseRepo) GetExistingIDs(ctx context.Context, buyerTaxCode string, candidateIDs []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	for _, id := range candidateIDs {
		if _, ok := m.existingIDs[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (m *mockPurchaseRepo) UpdateStatus(ctx context.Context, buyerTaxCode, id string, statusCode int) (int64, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, buyerTaxCode, id, statusCode)
	}
	return 0, nil
}

func (m *mockPurchaseRepo) Find(ctx context.Context, buyerTaxCode string, q port.InvoiceQuery) ([]*port.StoredInvoice, int, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, buyerTaxCode, q)
	}
	return nil, 0, nil
}

func (m *mockPurchaseRepo) FindOne(ctx context.Context, buyerTaxCode, id string) (*port.StoredInvoice, error) {
	if m.findOneFunc != nil {
		return m.findOneFunc(ctx, buyerTaxCode, id)
	}
	return nil, nil
}

func (m *mockPurchaseRepo) GetRawUnparsed(ctx context.Context, limit int) ([]*port.StoredInvoice, error) {
	if m.rawUnparsedFunc != nil {
		return m.rawUnparsedFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockPurchaseRepo) PromoteParsed(ctx context.Context, detail *entity.InvoiceDetail) error {
	m.promoted = append(m.promoted, detail)
	return nil
}

type mockSoldRepo struct {
	inserted []*entity.InvoiceSummary
	findFunc func(ctx context.Context, sellerTaxCode string, q port.InvoiceQuery) ([]*entity.InvoiceSummary, int, error)
}

func (m *mockSoldRepo) InsertMany(ctx context.Context, invoices []*entity.InvoiceSummary, payloads []string) (int, error) {
	m.inserted = append(m.inserted, invoices...)
	return len(invoices), nil
}

func (m *mockSoldRepo) Find(ctx context.Context, sellerTaxCode string, q port.InvoiceQuery) ([]*entity.InvoiceSummary, int, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, sellerTaxCode, q)
	}
	return nil, 0, nil
}

type mockRiskRepo struct {
	riskyCodes map[string]struct{}
	existsErr  error
}

func (m *mockRiskRepo) Exists(ctx context.Context, taxCode string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.riskyCodes[taxCode]
	return ok, nil
}

func (m *mockRiskRepo) List(ctx context.Context, keyword string, page, size int) ([]*entity.RiskCompany, int, error) {
	return nil, 0, nil
}

func (m *mockRiskRepo) CreateMany(ctx context.Context, companies []*entity.RiskCompany) (int, error) {
	return len(companies), nil
}

func (m *mockRiskRepo) SoftDelete(ctx context.Context, id int64) error {
	return nil
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) Publish(userID, topic, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, topic+": "+message)
}

func (m *mockNotifier) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func mustParseDate(s string) time.Time {
	t, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}
