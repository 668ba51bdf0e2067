package entity

import (
	"encoding/json"
	"time"
)

// InvoiceSummary is the lightweight listing record the portal returns
// from its list endpoints. It identifies one invoice without goods lines.
// Invoice IDs are unique only within one buyer's ledger, so identity is
// always the (ID, BuyerTaxCode) pair.
type InvoiceSummary struct {
	ID                   string     `json:"id"`
	SellerTaxCode        string     `json:"seller_tax_code"`
	SellerName           string     `json:"seller_name"`
	BuyerTaxCode         string     `json:"buyer_tax_code"`
	BuyerName            string     `json:"buyer_name"`
	InvoiceNumber        string     `json:"invoice_number"`
	InvoiceNotation      string     `json:"invoice_notation"`
	InvoiceGroupNotation int        `json:"invoice_group_notation"`
	TypeCode             int        `json:"type_code"`
	StatusCode           int        `json:"status_code"`
	CreationDate         *time.Time `json:"creation_date,omitempty"`
}

// GoodsItem is one line item of a fully hydrated invoice.
type GoodsItem struct {
	Name         string  `json:"name"`
	Unit         string  `json:"unit"`
	UnitPrice    float64 `json:"unit_price"`
	Quantity     float64 `json:"quantity"`
	TaxRate      float64 `json:"tax_rate"`
	PreTaxAmount float64 `json:"pre_tax_amount"`
	Discount     float64 `json:"discount"`
	TaxAmount    float64 `json:"tax_amount"`
}

// InvoiceDetail is the fully hydrated invoice. Created once per new
// invoice during detail fetch; immutable after creation. Extra carries
// upstream fields the typed schema does not model, so schema drift on
// the portal side never breaks the core.
type InvoiceDetail struct {
	InvoiceSummary

	SigningDate *time.Time  `json:"signing_date,omitempty"`
	IssueDate   *time.Time  `json:"issue_date,omitempty"`
	Goods       []GoodsItem `json:"goods"`
	PreTaxTotal float64     `json:"pre_tax_total"`
	VATTotal    float64     `json:"vat_total"`
	GrandTotal  float64     `json:"grand_total"`
	Risk        bool        `json:"risk"`

	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// RawInvoice preserves a detail response body that could not be decoded
// into the structured schema. The identifying summary fields come from
// the listing record that triggered the fetch; Body is kept verbatim.
type RawInvoice struct {
	Summary InvoiceSummary `json:"summary"`
	Body    string         `json:"body"`
}

// RiskCompany is a known risky seller.
type RiskCompany struct {
	ID        int64     `json:"id"`
	TaxCode   string    `json:"tax_code"`
	Name      string    `json:"name"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}
