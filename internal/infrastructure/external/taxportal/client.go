// Package taxportal is the typed wrapper over the government tax
// portal's HTTP API. Every exported call is exactly one round trip;
// retrying on 429 is the throttle controller's job.
package taxportal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/minhlq/invoicesync/internal/application/port"
	"github.com/minhlq/invoicesync/internal/application/throttle"
	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/utils"
)

const listSortOrder = "tdlap:desc,khmshdon:asc,shdon:desc"

// Config holds gateway connection settings.
type Config struct {
	BaseURL    string
	Cookie     string
	AuthCookie string
	PageSize   int
}

// Client implements port.PortalGateway against the live portal.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a portal gateway client.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Authenticate exchanges credentials plus a captcha answer for a
// bearer token.
func (c *Client) Authenticate(ctx context.Context, creds port.PortalCredentials) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
		"cvalue":   creds.CaptchaValue,
		"ckey":     creds.CaptchaKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/security-taxpayer/authenticate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", c.cfg.AuthCookie)

	resp, respBody, err := c.do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("portal authentication failed: status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(respBody, &token); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if token.Token == "" {
		return "", fmt.Errorf("portal returned an empty token")
	}
	return token.Token, nil
}

// FetchCaptcha retrieves a login challenge. Returns nil when the portal
// has none to offer.
func (c *Client) FetchCaptcha(ctx context.Context) (*port.Captcha, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/captcha", nil)
	if err != nil {
		return nil, fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Cookie", c.cfg.Cookie)

	resp, respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Captcha fetch returned non-OK status", zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	var captcha captchaResponse
	if err := json.Unmarshal(respBody, &captcha); err != nil {
		return nil, fmt.Errorf("decode captcha response: %w", err)
	}
	return &port.Captcha{Key: captcha.Key, Content: captcha.Content}, nil
}

// ListPurchaseInvoices lists one page of purchase invoices. Cash
// register invoices (type 8) live under a separate endpoint prefix.
func (c *Client) ListPurchaseInvoices(ctx context.Context, token string, dr utils.DateRange, typeCode int, cursor string) (*port.InvoicePage, error) {
	endpoint := "/query/invoices/purchase"
	if typeCode == entity.TypeCashRegister {
		endpoint = "/sco-query/invoices/purchase"
	}
	search := fmt.Sprintf("tdlap=ge=%sT00:00:00;tdlap=le=%sT23:59:59;ttxly==%d",
		dr.FromString(), dr.ToString(), typeCode)
	return c.list(ctx, token, endpoint, search, cursor)
}

// ListSoldInvoices lists one page of sold invoices.
func (c *Client) ListSoldInvoices(ctx context.Context, token string, dr utils.DateRange, cursor string) (*port.InvoicePage, error) {
	search := fmt.Sprintf("tdlap=ge=%sT00:00:00;tdlap=le=%sT23:59:59",
		dr.FromString(), dr.ToString())
	return c.list(ctx, token, "/query/invoices/sold", search, cursor)
}

func (c *Client) list(ctx context.Context, token, endpoint, search, cursor string) (*port.InvoicePage, error) {
	query := url.Values{}
	query.Set("sort", listSortOrder)
	query.Set("size", strconv.Itoa(c.cfg.PageSize))
	query.Set("search", search)
	if cursor != "" {
		query.Set("state", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	c.setAuthHeaders(req, token)

	resp, respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, throttle.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal list call failed: status %d", resp.StatusCode)
	}

	var page listResponse
	if err := json.Unmarshal(respBody, &page); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	result := &port.InvoicePage{}
	for _, row := range page.Datas {
		result.Summaries = append(result.Summaries, row.toSummary())
	}
	if page.State != nil {
		result.NextCursor = *page.State
	}
	return result, nil
}

// FetchDetail hydrates one listed invoice. When the body cannot be
// decoded into the structured schema the verbatim body is returned as a
// raw fallback instead of an error; the upstream schema is not stable
// enough to treat that as fatal.
func (c *Client) FetchDetail(ctx context.Context, token string, summary entity.InvoiceSummary) (*port.DetailResult, error) {
	endpoint := "/query/invoices/detail"
	if summary.TypeCode == entity.TypeCashRegister {
		endpoint = "/sco-query/invoices/detail"
	}

	query := url.Values{}
	query.Set("nbmst", summary.SellerTaxCode)
	query.Set("khhdon", summary.InvoiceNotation)
	query.Set("shdon", summary.InvoiceNumber)
	query.Set("khmshdon", strconv.Itoa(summary.InvoiceGroupNotation))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build detail request: %w", err)
	}
	c.setAuthHeaders(req, token)

	resp, respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, throttle.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal detail call failed: status %d", resp.StatusCode)
	}

	detail, err := ParseDetail(respBody)
	if err != nil {
		c.logger.Warn("Detail payload not decodable, keeping raw body",
			zap.String("invoice_id", summary.ID),
			zap.String("seller", summary.SellerTaxCode),
			zap.Error(err))
		return &port.DetailResult{Raw: string(respBody)}, nil
	}

	return &port.DetailResult{Detail: detail}, nil
}

func (c *Client) setAuthHeaders(req *http.Request, token string) {
	req.Header.Set("Cookie", c.cfg.Cookie)
	req.Header.Set("Authorization", "Bearer "+token)
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("portal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read portal response: %w", err)
	}
	return resp, body, nil
}

// Verify interface compliance
var _ port.PortalGateway = (*Client)(nil)
