package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bill is a payable already recorded in the downstream ledger
type Bill struct {
	ID         string          `json:"bill_id"`
	Number     string          `json:"bill_number"`
	VendorID   string          `json:"vendor_id"`
	VendorName string          `json:"vendor_name"`
	Date       time.Time       `json:"date"`
	Total      decimal.Decimal `json:"total"`
	Status     string          `json:"status"`
}

// BillFilter narrows a bill listing server-side
type BillFilter struct {
	VendorName string
	Total      *decimal.Decimal
}
