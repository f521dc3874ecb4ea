package model

import "time"

// BatchStatus is the lifecycle of one sync run's unit of work
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchExecuted BatchStatus = "executed"
)

// DeliveryStatus tracks whether a record reached the downstream ledger
type DeliveryStatus string

const (
	DeliveryNotSent DeliveryStatus = "not_sent"
	DeliverySent    DeliveryStatus = "sent"
)

// Batch is the persisted unit of work for one sync run
type Batch struct {
	ID        string          `json:"request_id"`
	Tenant    string          `json:"tenant"`
	Range     DateRange       `json:"range"`
	Status    BatchStatus     `json:"request_status"`
	CreatedAt time.Time       `json:"created_at"`
	Invoices  []InvoiceRecord `json:"invoices,omitempty"`
}

// BatchSummary is one row of the per-tenant batch listing
type BatchSummary struct {
	BatchID   string      `json:"request_id"`
	Tenant    string      `json:"tenant"`
	StartDate string      `json:"start_date"`
	EndDate   string      `json:"end_date"`
	Status    BatchStatus `json:"request_status"`
	CreatedAt time.Time   `json:"created_at"`
	Count     int         `json:"count"`
}
