// Package fiscalsync provides a public API for reading Mexican CFDI documents
// and matching them against ledger bills.
//
// This package exposes the core record types together with the offline parts
// of the pipeline: document extraction and bill matching. Downloading from the
// authority and talking to Zoho Books stay behind the fiscal-sync command.
//
// Example usage:
//
//	parser := fiscalsync.NewParser()
//	inv, err := parser.ParseFile(ctx, "invoice.xml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(inv.Total)
package fiscalsync

import "github.com/rezonia/fiscal-sync/internal/model"

// Re-export core types for public API
type (
	InvoiceRecord = model.InvoiceRecord
	LineItem      = model.LineItem
	TaxTotal      = model.TaxTotal
	TaxKey        = model.TaxKey
	TaxCategory   = model.TaxCategory
	CustomField   = model.CustomField
	Bill          = model.Bill
	DateRange     = model.DateRange
	ExtractReport = model.ExtractReport
)

// Re-export tax categories
const (
	TaxISR     = model.TaxISR
	TaxIVA     = model.TaxIVA
	TaxIEPS    = model.TaxIEPS
	TaxUnknown = model.TaxUnknown
)

// Re-export custom field labels
const (
	FieldDocumentID = model.FieldDocumentID
	FieldUsage      = model.FieldUsage
)

// Re-export error types
type (
	ExtractError    = model.ExtractError
	ValidationError = model.ValidationError
)

// ErrMalformedDocument matches any document that could not be parsed
var ErrMalformedDocument = model.ErrMalformedDocument

// ParseDateRange parses inclusive YYYY-MM-DD bounds
func ParseDateRange(start, end string) (DateRange, error) {
	return model.ParseDateRange(start, end)
}
