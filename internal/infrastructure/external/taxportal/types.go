package taxportal

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/minhlq/invoicesync/internal/domain/entity"
)

// The portal's JSON uses terse Vietnamese field names and does not keep
// its schema stable. Load-bearing fields are typed here; everything
// else lands in the Extra bag of the decoded detail.

// listResponse is one page of a listing endpoint. State is the opaque
// continuation token; null means the listing is exhausted.
type listResponse struct {
	Datas []invoiceWire `json:"datas"`
	State *string       `json:"state"`
	Total int           `json:"total"`
}

// invoiceWire is a listing row. Invoice numbers arrive as JSON numbers.
type invoiceWire struct {
	ID                   string      `json:"id"`
	SellerTaxCode        string      `json:"nbmst"`
	SellerName           string      `json:"nbten"`
	BuyerTaxCode         string      `json:"nmmst"`
	BuyerName            string      `json:"nmten"`
	InvoiceNumber        json.Number `json:"shdon"`
	InvoiceNotation      string      `json:"khhdon"`
	InvoiceGroupNotation int         `json:"khmshdon"`
	StatusCode           int         `json:"tthai"`
	TypeCode             int         `json:"ttxly"`
	CreationDate         *portalTime `json:"tdlap"`
}

// goodsWire is one line item inside a detail payload.
type goodsWire struct {
	Name         string  `json:"ten"`
	Unit         string  `json:"dvtinh"`
	UnitPrice    float64 `json:"dgia"`
	Quantity     float64 `json:"sluong"`
	TaxRate      float64 `json:"tsuat"`
	PreTaxAmount float64 `json:"thtien"`
	Discount     float64 `json:"stckhau"`
	TaxAmount    float64 `json:"tthue"`
}

// detailWire is a detail payload: the listing fields plus goods lines,
// totals and signing dates.
type detailWire struct {
	invoiceWire

	SigningDate *portalTime `json:"nky"`
	IssueDate   *portalTime `json:"ncma"`
	Goods       []goodsWire `json:"hdhhdvu"`
	PreTaxTotal float64     `json:"tgtcthue"`
	VATTotal    float64     `json:"tgtthue"`
	GrandTotal  float64     `json:"tgtttbso"`

	extra map[string]json.RawMessage
}

// detailKnownFields lists the keys the typed schema consumes; anything
// else is preserved in the extra bag.
var detailKnownFields = map[string]struct{}{
	"id": {}, "nbmst": {}, "nbten": {}, "nmmst": {}, "nmten": {},
	"shdon": {}, "khhdon": {}, "khmshdon": {}, "tthai": {}, "ttxly": {},
	"tdlap": {}, "nky": {}, "ncma": {}, "hdhhdvu": {},
	"tgtcthue": {}, "tgtthue": {}, "tgtttbso": {},
}

func (d *detailWire) UnmarshalJSON(data []byte) error {
	type alias detailWire
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range detailKnownFields {
		delete(raw, key)
	}

	*d = detailWire(a)
	if len(raw) > 0 {
		d.extra = raw
	}
	return nil
}

// portalTime tolerates the portal's shifting timestamp formats.
type portalTime struct {
	time.Time
}

var portalTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02",
}

func (t *portalTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	var lastErr error
	for _, layout := range portalTimeLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (w invoiceWire) toSummary() entity.InvoiceSummary {
	summary := entity.InvoiceSummary{
		ID:                   w.ID,
		SellerTaxCode:        w.SellerTaxCode,
		SellerName:           w.SellerName,
		BuyerTaxCode:         w.BuyerTaxCode,
		BuyerName:            w.BuyerName,
		InvoiceNumber:        w.InvoiceNumber.String(),
		InvoiceNotation:      w.InvoiceNotation,
		InvoiceGroupNotation: w.InvoiceGroupNotation,
		TypeCode:             w.TypeCode,
		StatusCode:           w.StatusCode,
	}
	if w.CreationDate != nil && !w.CreationDate.IsZero() {
		created := w.CreationDate.Time
		summary.CreationDate = &created
	}
	return summary
}

func (w detailWire) toDetail() *entity.InvoiceDetail {
	detail := &entity.InvoiceDetail{
		InvoiceSummary: w.toSummary(),
		PreTaxTotal:    w.PreTaxTotal,
		VATTotal:       w.VATTotal,
		GrandTotal:     w.GrandTotal,
		Extra:          w.extra,
	}
	if w.SigningDate != nil && !w.SigningDate.IsZero() {
		signed := w.SigningDate.Time
		detail.SigningDate = &signed
	}
	if w.IssueDate != nil && !w.IssueDate.IsZero() {
		issued := w.IssueDate.Time
		detail.IssueDate = &issued
	}
	for _, g := range w.Goods {
		// tsuat is a fraction (0.1 == 10%); the portal often omits the
		// per-line tax amount, so derive it when absent.
		taxAmount := g.TaxAmount
		if taxAmount == 0 && g.PreTaxAmount != 0 && g.TaxRate != 0 {
			taxAmount = roundHalf(g.PreTaxAmount * g.TaxRate)
		}
		detail.Goods = append(detail.Goods, entity.GoodsItem{
			Name:         g.Name,
			Unit:         g.Unit,
			UnitPrice:    g.UnitPrice,
			Quantity:     g.Quantity,
			TaxRate:      g.TaxRate,
			PreTaxAmount: g.PreTaxAmount,
			Discount:     g.Discount,
			TaxAmount:    taxAmount,
		})
	}
	return detail
}

func roundHalf(v float64) float64 {
	return math.Round(v)
}

// ParseDetail decodes a portal detail body into the structured schema.
// Used both on live responses and when re-attempting stored raw
// fallbacks. A body without an invoice id is not a detail document.
func ParseDetail(body []byte) (*entity.InvoiceDetail, error) {
	var wire detailWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	if wire.ID == "" {
		return nil, errors.New("detail payload missing invoice id")
	}
	return wire.toDetail(), nil
}

// tokenResponse is the authentication reply.
type tokenResponse struct {
	Token string `json:"token"`
}

// captchaResponse is the login challenge.
type captchaResponse struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}
