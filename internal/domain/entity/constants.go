package entity

// Invoice type codes used by the portal's list filters. Type 8 invoices
// live under a separate endpoint prefix.
const (
	TypeCoded        = 5 // invoice issued with a verification code
	TypeUncoded      = 6 // invoice issued without a verification code
	TypeCashRegister = 8 // invoice issued from a cash register
)

// PurchaseInvoiceTypes is the set of type codes a purchase sync walks,
// in query order.
var PurchaseInvoiceTypes = []int{TypeCoded, TypeUncoded, TypeCashRegister}

// Invoice legal status codes as reported by the portal.
const (
	StatusNew       = 1
	StatusReplacing = 2
	StatusReplaced  = 3
	StatusAdjusting = 4
	StatusAdjusted  = 5
	StatusCancelled = 6
)

// StatusName maps a status code to a short display label.
func StatusName(code int) string {
	switch code {
	case StatusNew:
		return "new"
	case StatusReplacing:
		return "replacing"
	case StatusReplaced:
		return "replaced"
	case StatusAdjusting:
		return "adjusting"
	case StatusAdjusted:
		return "adjusted"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TypeName maps a type code to a short display label.
func TypeName(code int) string {
	switch code {
	case TypeCoded:
		return "coded"
	case TypeUncoded:
		return "uncoded"
	case TypeCashRegister:
		return "cash-register"
	default:
		return "unknown"
	}
}
