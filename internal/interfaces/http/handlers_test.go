package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/application/service"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/internal/infrastructure/exporter"
	"github.com/minhlq/invoicesync/internal/infrastructure/notifier"
	"github.com/minhlq/invoicesync/pkg/utils"
)

type stubSyncService struct {
	purchaseResult *service.SyncResult
	purchaseErr    error
	recheckResult  *service.RecheckResult
	findResult     []*port.StoredInvoice
	findOneResult  *port.StoredInvoice

	gotBuyer string
	gotUser  string
	gotFrom  time.Time
	gotTo    time.Time
}

func (s *stubSyncService) SyncPurchaseInvoices(ctx context.Context, token, buyerTaxCode, userID string, from, to time.Time) (*service.SyncResult, error) {
	s.gotBuyer, s.gotUser, s.gotFrom, s.gotTo = buyerTaxCode, userID, from, to
	return s.purchaseResult, s.purchaseErr
}

func (s *stubSyncService) SyncSoldInvoices(ctx context.Context, token, sellerTaxCode, userID string, from, to time.Time) (*service.SyncResult, error) {
	return s.purchaseResult, s.purchaseErr
}

func (s *stubSyncService) RecheckInvoiceStatuses(ctx context.Context, token, buyerTaxCode string, from, to time.Time) (*service.RecheckResult, error) {
	return s.recheckResult, nil
}

func (s *stubSyncService) FindInvoices(ctx context.Context, buyerTaxCode string, q port.InvoiceQuery) ([]*port.StoredInvoice, int, error) {
	return s.findResult, len(s.findResult), nil
}

func (s *stubSyncService) FindInvoice(ctx context.Context, buyerTaxCode, id string) (*port.StoredInvoice, error) {
	return s.findOneResult, nil
}

func (s *stubSyncService) FindSoldInvoices(ctx context.Context, sellerTaxCode string, q port.InvoiceQuery) ([]*entity.InvoiceSummary, int, error) {
	return nil, 0, nil
}

type stubRiskService struct {
	companies []*entity.RiskCompany
	added     int
}

func (s *stubRiskService) IsRisky(ctx context.Context, sellerTaxCode string) bool { return false }

func (s *stubRiskService) List(ctx context.Context, keyword string, page, size int) ([]*entity.RiskCompany, int, error) {
	return s.companies, len(s.companies), nil
}

func (s *stubRiskService) Add(ctx context.Context, companies []*entity.RiskCompany) (int, error) {
	s.added = len(companies)
	return s.added, nil
}

func (s *stubRiskService) Remove(ctx context.Context, id int64) error { return nil }

type stubGateway struct {
	token   string
	authErr error
	captcha *port.Captcha
}

func (g *stubGateway) Authenticate(ctx context.Context, creds port.PortalCredentials) (string, error) {
	return g.token, g.authErr
}

func (g *stubGateway) FetchCaptcha(ctx context.Context) (*port.Captcha, error) {
	return g.captcha, nil
}

func (g *stubGateway) ListPurchaseInvoices(ctx context.Context, token string, dr utils.DateRange, typeCode int, cursor string) (*port.InvoicePage, error) {
	return &port.InvoicePage{}, nil
}

func (g *stubGateway) ListSoldInvoices(ctx context.Context, token string, dr utils.DateRange, cursor string) (*port.InvoicePage, error) {
	return &port.InvoicePage{}, nil
}

func (g *stubGateway) FetchDetail(ctx context.Context, token string, summary entity.InvoiceSummary) (*port.DetailResult, error) {
	return &port.DetailResult{}, nil
}

type testServer struct {
	server *Server
	sync   *stubSyncService
	risk   *stubRiskService
	portal *stubGateway
	hub    *notifier.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	ts := &testServer{
		sync:   &stubSyncService{},
		risk:   &stubRiskService{},
		portal: &stubGateway{},
		hub:    notifier.NewHub(logger),
	}
	t.Cleanup(ts.hub.Close)
	ts.server = NewServer(ServerConfig{}, ts.sync, ts.risk, ts.portal,
		ts.hub, exporter.NewExcelExporter(logger), logger)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSyncPurchaseEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.sync.purchaseResult = &service.SyncResult{
		Outcome: entity.NewSyncOutcome(10, 6, 0),
		Message: "6/10 invoices saved successfully. Please try again later to sync the remaining invoices.",
	}

	w := ts.do(t, http.MethodPost, "/api/sync/purchase", gin.H{
		"token": "tok", "tax_code": "0101234567", "from": "2024-01-01", "to": "2024-01-31",
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "207", resp.Code)
	assert.Equal(t, "0101234567", ts.sync.gotBuyer)
	// user defaults to the tax code
	assert.Equal(t, "0101234567", ts.sync.gotUser)
	assert.Equal(t, mustDate(t, "2024-01-01"), ts.sync.gotFrom)
}

func TestSyncPurchaseEndpoint_ThrottledOutIs429(t *testing.T) {
	ts := newTestServer(t)
	ts.sync.purchaseResult = &service.SyncResult{
		Outcome:   entity.NewSyncOutcome(0, 0, 0),
		Exhausted: true,
	}

	w := ts.do(t, http.MethodPost, "/api/sync/purchase", gin.H{
		"token": "tok", "tax_code": "0101234567", "from": "2024-01-01", "to": "2024-01-31",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "429", decodeResponse(t, w).Code)
}

func TestSyncPurchaseEndpoint_Validation(t *testing.T) {
	ts := newTestServer(t)

	// missing fields
	w := ts.do(t, http.MethodPost, "/api/sync/purchase", gin.H{"token": "tok"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// malformed dates are rejected, not coerced
	w = ts.do(t, http.MethodPost, "/api/sync/purchase", gin.H{
		"token": "tok", "tax_code": "0101", "from": "01/02/2024", "to": "2024-01-31",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// inverted range surfaces the validation error
	ts.sync.purchaseErr = utils.ErrInvalidRange
	w = ts.do(t, http.MethodPost, "/api/sync/purchase", gin.H{
		"token": "tok", "tax_code": "0101", "from": "2024-02-01", "to": "2024-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecheckEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.sync.recheckResult = &service.RecheckResult{Updated: 2}

	w := ts.do(t, http.MethodPost, "/api/sync/recheck", gin.H{
		"token": "tok", "tax_code": "0101", "from": "2024-01-01", "to": "2024-01-31",
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "2 invoices updated.", resp.Message)
}

func TestGetInvoiceEndpoint_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/invoices/0101/detail/inv-404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetInvoiceEndpoint_Found(t *testing.T) {
	ts := newTestServer(t)
	ts.sync.findOneResult = &port.StoredInvoice{
		Summary: entity.InvoiceSummary{ID: "inv-1", BuyerTaxCode: "0101"},
		Parsed:  true,
	}

	w := ts.do(t, http.MethodGet, "/api/invoices/0101/detail/inv-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)
}

func TestExportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.sync.findResult = []*port.StoredInvoice{
		{Summary: entity.InvoiceSummary{ID: "inv-1", InvoiceNumber: "142"}, Parsed: true},
	}

	w := ts.do(t, http.MethodGet, "/api/invoices/0101/export?from=2024-01-01&to=2024-01-31", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "invoices_0101.xlsx")
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestLoginEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.portal.token = "jwt-token"

	w := ts.do(t, http.MethodPost, "/api/portal/login", gin.H{
		"username": "0101", "password": "secret", "ckey": "k", "cvalue": "v",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)

	w = ts.do(t, http.MethodPost, "/api/portal/login", gin.H{"username": "0101"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCaptchaEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.portal.captcha = &port.Captcha{Key: "k1", Content: "<svg/>"}

	w := ts.do(t, http.MethodGet, "/api/portal/captcha", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ts.portal.captcha = nil
	w = ts.do(t, http.MethodGet, "/api/portal/captcha", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRiskCompanyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/risk-companies", []gin.H{
		{"tax_code": "0301", "name": "Shady Co"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.risk.added)

	// a company without a tax code is rejected
	w = ts.do(t, http.MethodPost, "/api/risk-companies", []gin.H{{"name": "No Code"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/risk-companies?keyword=Shady", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/risk-companies/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := utils.ParseDate(s)
	require.NoError(t, err)
	return d
}
