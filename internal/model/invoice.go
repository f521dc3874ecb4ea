package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxCategory is the closed set of federal taxes a transfer can carry
type TaxCategory string

const (
	TaxISR     TaxCategory = "ISR"
	TaxIVA     TaxCategory = "IVA"
	TaxIEPS    TaxCategory = "IEPS"
	TaxUnknown TaxCategory = "Unknown"
)

// TaxCategoryFromCode maps the authority's 3-digit tax code to a category
func TaxCategoryFromCode(code string) TaxCategory {
	switch code {
	case "001":
		return TaxISR
	case "002":
		return TaxIVA
	case "003":
		return TaxIEPS
	default:
		return TaxUnknown
	}
}

// Custom field labels carried on every record
const (
	FieldDocumentID = "IdDocumento"
	FieldUsage      = "UsoCFDI"
)

// TaxKey identifies a TaxTotal inside one invoice
type TaxKey struct {
	Category TaxCategory     `json:"category" bson:"category"`
	Rate     decimal.Decimal `json:"rate" bson:"rate"`
}

// Label renders the key the way ledgers name taxes, e.g. "IVA (16%)"
func (k TaxKey) Label() string {
	return string(k.Category) + " (" + k.Rate.String() + "%)"
}

// Equal reports whether two keys refer to the same category and rate
func (k TaxKey) Equal(other TaxKey) bool {
	return k.Category == other.Category && k.Rate.Equal(other.Rate)
}

// TaxTotal is the accumulated amount for one category and rate
type TaxTotal struct {
	Category TaxCategory     `json:"category" bson:"category"`
	Rate     decimal.Decimal `json:"rate" bson:"rate"`
	Amount   decimal.Decimal `json:"amount" bson:"amount"`
}

// Key returns the identity of the total
func (t TaxTotal) Key() TaxKey {
	return TaxKey{Category: t.Category, Rate: t.Rate}
}

// LineItem is one concept line of an invoice
type LineItem struct {
	Description string          `json:"description" bson:"description"`
	Quantity    decimal.Decimal `json:"quantity" bson:"quantity"`
	Rate        decimal.Decimal `json:"rate" bson:"rate"`

	// Taxes lists every TaxTotal this line contributed to, in document order
	Taxes []TaxKey `json:"taxes,omitempty" bson:"taxes,omitempty"`
}

// PrimaryTax returns the last tax processed for the line.
// Ledgers that accept a single tax per line use this one.
func (l LineItem) PrimaryTax() (TaxKey, bool) {
	if len(l.Taxes) == 0 {
		return TaxKey{}, false
	}
	return l.Taxes[len(l.Taxes)-1], true
}

// CustomField is a label/value pair forwarded to the ledger
type CustomField struct {
	Label string `json:"label" bson:"label"`
	Value string `json:"value" bson:"value"`
}

// InvoiceRecord is the normalized form of one income fiscal document
type InvoiceRecord struct {
	VendorName   string          `json:"vendor_name" bson:"vendor_name"`
	VendorTaxID  string          `json:"rfc" bson:"rfc"`
	Folio        string          `json:"bill_number" bson:"bill_number"`
	Date         time.Time       `json:"date" bson:"date"`
	Total        decimal.Decimal `json:"total" bson:"total"`
	LineItems    []LineItem      `json:"line_items" bson:"line_items"`
	Taxes        []TaxTotal      `json:"taxes" bson:"taxes"`
	CustomFields []CustomField   `json:"custom_fields" bson:"custom_fields"`
}

// Field returns the value of a custom field, or "" when absent
func (r *InvoiceRecord) Field(label string) string {
	for _, f := range r.CustomFields {
		if f.Label == label {
			return f.Value
		}
	}
	return ""
}

// DocumentID returns the fiscal UUID of the source document
func (r *InvoiceRecord) DocumentID() string {
	return r.Field(FieldDocumentID)
}

// Amount is the figure used when matching against ledger bills.
// It sums line-item unit rates without multiplying by quantity.
func (r *InvoiceRecord) Amount() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.LineItems {
		sum = sum.Add(item.Rate)
	}
	return sum
}

// Subtotal sums quantity times rate across all lines
func (r *InvoiceRecord) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.LineItems {
		sum = sum.Add(item.Quantity.Mul(item.Rate))
	}
	return sum
}

// TaxAmount sums all accumulated tax totals
func (r *InvoiceRecord) TaxAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range r.Taxes {
		sum = sum.Add(t.Amount)
	}
	return sum
}

// TaxTotal looks up the total for a key
func (r *InvoiceRecord) TaxTotal(key TaxKey) (TaxTotal, bool) {
	for _, t := range r.Taxes {
		if t.Key().Equal(key) {
			return t, true
		}
	}
	return TaxTotal{}, false
}
