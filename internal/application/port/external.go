package port

import (
	"context"

	"github.com/minhlq/invoicesync/internal/domain/entity"
	"github.com/minhlq/invoicesync/pkg/utils"
)

// PortalCredentials authenticates against the tax portal. The captcha
// answer pairs the challenge key with the user's reading of it.
type PortalCredentials struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	CaptchaKey   string `json:"ckey"`
	CaptchaValue string `json:"cvalue"`
}

// Captcha is a login challenge fetched from the portal.
type Captcha struct {
	Key     string `json:"key"`
	Content string `json:"content"` // SVG body rendered client-side
}

// InvoicePage is one page of listing results. NextCursor is the opaque
// continuation token; empty means the listing is exhausted.
type InvoicePage struct {
	Summaries  []entity.InvoiceSummary
	NextCursor string
}

// DetailResult is the outcome of one detail fetch. Exactly one of
// Detail and Raw is set: Raw carries the verbatim response body when
// the payload could not be decoded into the structured schema.
type DetailResult struct {
	Detail *entity.InvoiceDetail
	Raw    string
}

// PortalGateway is the typed wrapper over the tax portal HTTP API.
// Every call is a single round trip; retry and backoff live in the
// throttle controller, never here. Rate limiting surfaces as
// throttle.ErrRateLimited from any call.
type PortalGateway interface {
	Authenticate(ctx context.Context, creds PortalCredentials) (token string, err error)
	FetchCaptcha(ctx context.Context) (*Captcha, error)

	// ListPurchaseInvoices lists one page of purchase invoices for the
	// range and type code. Pass an empty cursor for the first page.
	ListPurchaseInvoices(ctx context.Context, token string, dr utils.DateRange, typeCode int, cursor string) (*InvoicePage, error)

	// ListSoldInvoices lists one page of sold invoices for the range.
	ListSoldInvoices(ctx context.Context, token string, dr utils.DateRange, cursor string) (*InvoicePage, error)

	// FetchDetail hydrates one listed invoice.
	FetchDetail(ctx context.Context, token string, summary entity.InvoiceSummary) (*DetailResult, error)
}

// Notifier publishes progress messages to a user's live channel.
// Fire-and-forget: the pipeline never blocks on delivery.
type Notifier interface {
	Publish(userID, topic, message string)
}

// Progress topics.
const (
	TopicPurchaseInvoice = "purchase-invoice"
	TopicSoldInvoice     = "sold-invoice"
	TopicRateLimit       = "rate-limit"
	TopicExport          = "export"
)
