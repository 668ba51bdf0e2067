package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/application/service"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/internal/infrastructure/exporter"
	"github.com/minhlq/invoicesync/internal/infrastructure/notifier"
	"github.com/minhlq/invoicesync/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	syncService service.SyncService
	riskService service.RiskService
	gateway     port.PortalGateway
	hub         *notifier.Hub
	excel       *exporter.ExcelExporter
	logger      *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	syncService service.SyncService,
	riskService service.RiskService,
	gateway port.PortalGateway,
	hub *notifier.Hub,
	excel *exporter.ExcelExporter,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		syncService: syncService,
		riskService: riskService,
		gateway:     gateway,
		hub:         hub,
		excel:       excel,
		logger:      logger,
	}
}

// Response is the standard JSON envelope. Code mirrors the sync outcome
// semantics: "200" complete, "207" partial, "429" stopped by upstream
// throttling before anything could be listed.
type Response struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SyncRequest is the command body for the sync and recheck endpoints.
// User identifies the progress channel; it defaults to the tax code.
type SyncRequest struct {
	Token   string `json:"token" binding:"required"`
	TaxCode string `json:"tax_code" binding:"required"`
	From    string `json:"from" binding:"required"`
	To      string `json:"to" binding:"required"`
	User    string `json:"user"`
}

func (r *SyncRequest) dates() (time.Time, time.Time, error) {
	from, err := utils.ParseDate(r.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := utils.ParseDate(r.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func (r *SyncRequest) userID() string {
	if r.User != "" {
		return r.User
	}
	return r.TaxCode
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Code: "400", Error: msg})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, Response{Success: false, Code: "500", Error: err.Error()})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// SyncPurchaseInvoices handles POST /api/sync/purchase
func (h *Handlers) SyncPurchaseInvoices(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token, tax_code, from and to are required")
		return
	}
	from, to, err := req.dates()
	if err != nil {
		badRequest(c, "dates must be YYYY-MM-DD")
		return
	}

	result, err := h.syncService.SyncPurchaseInvoices(c.Request.Context(), req.Token, req.TaxCode, req.userID(), from, to)
	if errors.Is(err, utils.ErrInvalidRange) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Purchase sync failed", zap.Error(err))
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, syncResponse(result))
}

// SyncSoldInvoices handles POST /api/sync/sold
func (h *Handlers) SyncSoldInvoices(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token, tax_code, from and to are required")
		return
	}
	from, to, err := req.dates()
	if err != nil {
		badRequest(c, "dates must be YYYY-MM-DD")
		return
	}

	result, err := h.syncService.SyncSoldInvoices(c.Request.Context(), req.Token, req.TaxCode, req.userID(), from, to)
	if errors.Is(err, utils.ErrInvalidRange) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Sold sync failed", zap.Error(err))
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, syncResponse(result))
}

// syncResponse maps a run result onto the envelope. A run throttled out
// before listing anything reports the terminal 429 code.
func syncResponse(result *service.SyncResult) Response {
	code := result.Outcome.StatusCode
	if result.Exhausted && result.Outcome.TotalCandidates == 0 {
		code = entity.CodeRateLimited
	}
	return Response{
		Success: true,
		Code:    code,
		Message: result.Message,
		Data:    result.Outcome,
	}
}

// RecheckInvoiceStatuses handles POST /api/sync/recheck
func (h *Handlers) RecheckInvoiceStatuses(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token, tax_code, from and to are required")
		return
	}
	from, to, err := req.dates()
	if err != nil {
		badRequest(c, "dates must be YYYY-MM-DD")
		return
	}

	result, err := h.syncService.RecheckInvoiceStatuses(c.Request.Context(), req.Token, req.TaxCode, from, to)
	if errors.Is(err, utils.ErrInvalidRange) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Status recheck failed", zap.Error(err))
		internalError(c, err)
		return
	}

	message := "Found no invoice need to be updated."
	if result.Updated > 0 {
		message = strconv.Itoa(result.Updated) + " invoices updated."
	}
	c.JSON(http.StatusOK, Response{Success: true, Code: "200", Message: message, Data: result})
}

// invoiceListQuery holds the filter parameters of the local listing
// endpoints.
type invoiceListQuery struct {
	From    string `form:"from"`
	To      string `form:"to"`
	Number  string `form:"number"`
	Keyword string `form:"keyword"`
	Risk    string `form:"risk"`
	Status  string `form:"status"`
	Type    string `form:"type"`
	Page    int    `form:"page"`
	Size    int    `form:"size"`
}

func (q *invoiceListQuery) toInvoiceQuery() (port.InvoiceQuery, error) {
	out := port.InvoiceQuery{Page: q.Page, Size: q.Size, InvoiceNumber: q.Number, NameKeyword: q.Keyword}

	if q.From != "" {
		from, err := utils.ParseDate(q.From)
		if err != nil {
			return out, err
		}
		out.From = &from
	}
	if q.To != "" {
		to, err := utils.ParseDate(q.To)
		if err != nil {
			return out, err
		}
		out.To = &to
	}
	if q.Risk != "" {
		risk, err := strconv.ParseBool(q.Risk)
		if err != nil {
			return out, err
		}
		out.Risk = &risk
	}
	if q.Status != "" {
		status, err := strconv.Atoi(q.Status)
		if err != nil {
			return out, err
		}
		out.StatusCode = &status
	}
	if q.Type != "" {
		typeCode, err := strconv.Atoi(q.Type)
		if err != nil {
			return out, err
		}
		out.TypeCode = &typeCode
	}
	return out, nil
}

// ListInvoices handles GET /api/invoices/:buyer
func (h *Handlers) ListInvoices(c *gin.Context) {
	var q invoiceListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	query, err := q.toInvoiceQuery()
	if err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	found, total, err := h.syncService.FindInvoices(c.Request.Context(), c.Param("buyer"), query)
	if err != nil {
		h.logger.Error("Invoice query failed", zap.Error(err))
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"total": total, "invoices": found}})
}

// GetInvoice handles GET /api/invoices/:buyer/detail/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	found, err := h.syncService.FindInvoice(c.Request.Context(), c.Param("buyer"), c.Param("id"))
	if err != nil {
		h.logger.Error("Invoice lookup failed", zap.Error(err))
		internalError(c, err)
		return
	}
	if found == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Code: "404", Error: "invoice not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: found})
}

// ListSoldInvoices handles GET /api/sold-invoices/:seller
func (h *Handlers) ListSoldInvoices(c *gin.Context) {
	var q invoiceListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	query, err := q.toInvoiceQuery()
	if err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	found, total, err := h.syncService.FindSoldInvoices(c.Request.Context(), c.Param("seller"), query)
	if err != nil {
		h.logger.Error("Sold invoice query failed", zap.Error(err))
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"total": total, "invoices": found}})
}

// ExportInvoices handles GET /api/invoices/:buyer/export
func (h *Handlers) ExportInvoices(c *gin.Context) {
	var q invoiceListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	query, err := q.toInvoiceQuery()
	if err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	// export is unpaged
	query.Page = 1
	query.Size = 1 << 20

	taxCode := c.Param("buyer")
	purchase, _, err := h.syncService.FindInvoices(c.Request.Context(), taxCode, query)
	if err != nil {
		h.logger.Error("Export purchase query failed", zap.Error(err))
		internalError(c, err)
		return
	}
	sold, _, err := h.syncService.FindSoldInvoices(c.Request.Context(), taxCode, query)
	if err != nil {
		h.logger.Error("Export sold query failed", zap.Error(err))
		internalError(c, err)
		return
	}

	data, err := h.excel.Export(purchase, sold)
	if err != nil {
		h.logger.Error("Workbook export failed", zap.Error(err))
		internalError(c, err)
		return
	}

	filename := "invoices_" + taxCode + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// GetCaptcha handles GET /api/portal/captcha
func (h *Handlers) GetCaptcha(c *gin.Context) {
	captcha, err := h.gateway.FetchCaptcha(c.Request.Context())
	if err != nil {
		h.logger.Error("Captcha fetch failed", zap.Error(err))
		internalError(c, err)
		return
	}
	if captcha == nil {
		c.JSON(http.StatusBadGateway, Response{Success: false, Code: "502", Error: "captcha unavailable"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: captcha})
}

// Login handles POST /api/portal/login
func (h *Handlers) Login(c *gin.Context) {
	var creds port.PortalCredentials
	if err := c.ShouldBindJSON(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		badRequest(c, "username and password are required")
		return
	}

	token, err := h.gateway.Authenticate(c.Request.Context(), creds)
	if err != nil {
		h.logger.Warn("Portal login failed", zap.String("username", creds.Username), zap.Error(err))
		c.JSON(http.StatusUnauthorized, Response{Success: false, Code: "401", Error: "authentication failed"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"token": token}})
}

// ListRiskCompanies handles GET /api/risk-companies
func (h *Handlers) ListRiskCompanies(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))

	companies, total, err := h.riskService.List(c.Request.Context(), c.Query("keyword"), page, size)
	if err != nil {
		h.logger.Error("Risk company query failed", zap.Error(err))
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"total": total, "companies": companies}})
}

// AddRiskCompanies handles POST /api/risk-companies
func (h *Handlers) AddRiskCompanies(c *gin.Context) {
	var companies []*entity.RiskCompany
	if err := c.ShouldBindJSON(&companies); err != nil || len(companies) == 0 {
		badRequest(c, "a non-empty array of companies is required")
		return
	}
	for _, company := range companies {
		if company.TaxCode == "" {
			badRequest(c, "every company needs a tax_code")
			return
		}
	}

	count, err := h.riskService.Add(c.Request.Context(), companies)
	if err != nil {
		h.logger.Error("Risk company insert failed", zap.Error(err))
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"added": count}})
}

// DeleteRiskCompany handles DELETE /api/risk-companies/:id
func (h *Handlers) DeleteRiskCompany(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "id must be numeric")
		return
	}
	if err := h.riskService.Remove(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Code: "404", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// StreamProgress handles GET /api/progress/:user as a server-sent event
// stream relaying the user's sync progress messages.
func (h *Handlers) StreamProgress(c *gin.Context) {
	events, cancel := h.hub.Subscribe(c.Param("user"))
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Topic, event.Message)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
