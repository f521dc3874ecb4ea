package reconcile

import (
	"fmt"
	"strings"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// NamePolicy decides whether an invoice vendor and a bill vendor are the same
type NamePolicy func(invoiceVendor, billVendor string) bool

// ExactNames compares names byte for byte
func ExactNames(a, b string) bool {
	return a == b
}

// NormalizedNames ignores case and runs of whitespace
func NormalizedNames(a, b string) bool {
	return strings.EqualFold(collapse(a), collapse(b))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseNamePolicy resolves a policy by its configured name
func ParseNamePolicy(name string) (NamePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "normalized":
		return NormalizedNames, nil
	case "exact":
		return ExactNames, nil
	default:
		return nil, fmt.Errorf("unknown name policy %q", name)
	}
}

// MatchBill returns the first candidate matching the invoice on vendor name,
// amount and date within toleranceDays either side
func MatchBill(inv *model.InvoiceRecord, bills []model.Bill, toleranceDays int, names NamePolicy) (*model.Bill, bool) {
	if names == nil {
		names = NormalizedNames
	}
	amount := inv.Amount()
	for i := range bills {
		b := &bills[i]
		if !names(inv.VendorName, b.VendorName) {
			continue
		}
		if !b.Total.Equal(amount) {
			continue
		}
		if b.Date.IsZero() {
			continue
		}
		if model.DaysBetween(inv.Date, b.Date) <= toleranceDays {
			return b, true
		}
	}
	return nil, false
}

// Matches reports whether any candidate bill matches the invoice
func Matches(inv *model.InvoiceRecord, bills []model.Bill, toleranceDays int, names NamePolicy) bool {
	_, ok := MatchBill(inv, bills, toleranceDays, names)
	return ok
}
