package server

import (
	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/reconcile"
)

// SyncRequest is the body of the sync endpoint
type SyncRequest struct {
	RFC       string `json:"rfc" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// BatchListResponse lists a tenant's batches
type BatchListResponse struct {
	Tenant  string               `json:"tenant"`
	Batches []model.BatchSummary `json:"batches"`
}

// PendingListResponse lists placeholders that were never committed
type PendingListResponse struct {
	Tenant  string        `json:"tenant"`
	Pending []model.Batch `json:"pending"`
}

// ReconcileResponse is the per-invoice answer of the reconcile endpoint
type ReconcileResponse struct {
	BatchID string                  `json:"request_id"`
	Results []reconcile.CheckResult `json:"results"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
