package ledger

import (
	"context"
	"time"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// Record is one persisted row. A batch is either a single pending
// placeholder or one executed row per invoice.
type Record struct {
	BatchID       string               `json:"request_id" bson:"requestId"`
	Tenant        string               `json:"tenant" bson:"tenant"`
	RequestStatus model.BatchStatus    `json:"request_status" bson:"request_status"`
	Status        model.DeliveryStatus `json:"status,omitempty" bson:"status,omitempty"`
	StartDate     string               `json:"start_date" bson:"start_date"`
	EndDate       string               `json:"end_date" bson:"end_date"`
	DocumentID    string               `json:"document_id" bson:"document_id"`
	CreatedAt     time.Time            `json:"created_at" bson:"created_at"`
	Invoice       *model.InvoiceRecord `json:"invoice,omitempty" bson:"dataInvoice,omitempty"`
}

// Filter selects records; empty fields match anything
type Filter struct {
	BatchID       string
	Tenant        string
	RequestStatus model.BatchStatus
	Status        model.DeliveryStatus
	DocumentID    string
}

// Match reports whether r satisfies the filter
func (f Filter) Match(r Record) bool {
	return (f.BatchID == "" || r.BatchID == f.BatchID) &&
		(f.Tenant == "" || r.Tenant == f.Tenant) &&
		(f.RequestStatus == "" || r.RequestStatus == f.RequestStatus) &&
		(f.Status == "" || r.Status == f.Status) &&
		(f.DocumentID == "" || r.DocumentID == f.DocumentID)
}

// Store is the document store behind the ledger. Single writes are atomic;
// nothing spans calls. Inserting a row whose (batch, request status,
// document) already exists is a silent no-op.
type Store interface {
	Insert(ctx context.Context, r Record) error
	InsertMany(ctx context.Context, rs []Record) error
	Find(ctx context.Context, f Filter) ([]Record, error)
	Delete(ctx context.Context, f Filter) (int64, error)
	Count(ctx context.Context, f Filter) (int64, error)
	UpdateStatus(ctx context.Context, f Filter, status model.DeliveryStatus) (int64, error)
}
