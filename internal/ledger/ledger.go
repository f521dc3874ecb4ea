package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("ledger: not found")

// Ledger records each sync run as a batch with exactly-once semantics
type Ledger struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// Option configures the ledger
type Option func(*Ledger)

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(lg *Ledger) {
		lg.log = l
	}
}

// WithClock overrides the creation timestamp source
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		lg.now = now
	}
}

// New creates a ledger over a store
func New(store Store, opts ...Option) *Ledger {
	lg := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(lg)
	}
	lg.log = logger.OrDiscard(lg.log)
	return lg
}

func persistenceError(message string, err error) error {
	return model.NewStageError(model.StagePersistence, model.ErrPersistence, message, err)
}

// CreatePlaceholder inserts the pending marker for a batch
func (l *Ledger) CreatePlaceholder(ctx context.Context, batchID, tenant string, r model.DateRange) error {
	rec := Record{
		BatchID:       batchID,
		Tenant:        tenant,
		RequestStatus: model.BatchPending,
		StartDate:     r.Start.Format(model.DateLayout),
		EndDate:       r.End.Format(model.DateLayout),
		CreatedAt:     l.now().UTC(),
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return persistenceError("failed to create batch placeholder", err)
	}
	return nil
}

// Commit writes one executed row per invoice and then removes the pending
// placeholder. A failed write leaves the placeholder so the batch shows as
// stuck. Committing an already executed batch writes nothing.
func (l *Ledger) Commit(ctx context.Context, batchID, tenant string, r model.DateRange, invoices []model.InvoiceRecord) (int, error) {
	log := l.log.WithFields(logrus.Fields{"batch_id": batchID, "tenant": tenant})

	existing, err := l.store.Count(ctx, Filter{BatchID: batchID, RequestStatus: model.BatchExecuted})
	if err != nil {
		return 0, persistenceError("failed to check batch state", err)
	}

	written := 0
	if existing > 0 {
		log.WithField("records", existing).Info("batch already committed")
	} else if len(invoices) > 0 {
		created := l.now().UTC()
		records := make([]Record, 0, len(invoices))
		for i := range invoices {
			inv := invoices[i]
			records = append(records, Record{
				BatchID:       batchID,
				Tenant:        tenant,
				RequestStatus: model.BatchExecuted,
				Status:        model.DeliveryNotSent,
				StartDate:     r.Start.Format(model.DateLayout),
				EndDate:       r.End.Format(model.DateLayout),
				DocumentID:    inv.DocumentID(),
				CreatedAt:     created,
				Invoice:       &inv,
			})
		}
		if err := l.store.InsertMany(ctx, records); err != nil {
			return 0, persistenceError("failed to write batch records", err)
		}
		written = len(records)
	}

	if _, err := l.store.Delete(ctx, Filter{BatchID: batchID, RequestStatus: model.BatchPending}); err != nil {
		return written, persistenceError("failed to remove batch placeholder", err)
	}

	log.WithField("records", written).Info("batch committed")
	return written, nil
}

// Records returns the executed rows of a batch
func (l *Ledger) Records(ctx context.Context, batchID string) ([]Record, error) {
	rs, err := l.store.Find(ctx, Filter{BatchID: batchID, RequestStatus: model.BatchExecuted})
	if err != nil {
		return nil, persistenceError("failed to read batch", err)
	}
	return rs, nil
}

// ListByBatch returns the invoices persisted for a batch
func (l *Ledger) ListByBatch(ctx context.Context, batchID string) ([]model.InvoiceRecord, error) {
	rs, err := l.Records(ctx, batchID)
	if err != nil {
		return nil, err
	}
	out := make([]model.InvoiceRecord, 0, len(rs))
	for _, r := range rs {
		if r.Invoice != nil {
			out = append(out, *r.Invoice)
		}
	}
	return out, nil
}

// Get returns a batch with its invoices, pending or executed
func (l *Ledger) Get(ctx context.Context, batchID string) (*model.Batch, error) {
	rs, err := l.store.Find(ctx, Filter{BatchID: batchID})
	if err != nil {
		return nil, persistenceError("failed to read batch", err)
	}
	if len(rs) == 0 {
		return nil, ErrNotFound
	}

	b := batchFrom(rs[0])
	b.Status = model.BatchPending
	for _, r := range rs {
		if r.RequestStatus != model.BatchExecuted {
			continue
		}
		b.Status = model.BatchExecuted
		if r.CreatedAt.After(b.CreatedAt) {
			b.CreatedAt = r.CreatedAt
		}
		if r.Invoice != nil {
			b.Invoices = append(b.Invoices, *r.Invoice)
		}
	}
	return b, nil
}

// ListBatchesByTenant groups a tenant's rows by batch, keeping the latest
// creation time and a row count, newest first
func (l *Ledger) ListBatchesByTenant(ctx context.Context, tenant string) ([]model.BatchSummary, error) {
	rs, err := l.store.Find(ctx, Filter{Tenant: tenant})
	if err != nil {
		return nil, persistenceError("failed to list batches", err)
	}

	byID := make(map[string]*model.BatchSummary)
	var order []string
	for _, r := range rs {
		s, ok := byID[r.BatchID]
		if !ok {
			s = &model.BatchSummary{
				BatchID:   r.BatchID,
				Tenant:    r.Tenant,
				StartDate: r.StartDate,
				EndDate:   r.EndDate,
				Status:    r.RequestStatus,
				CreatedAt: r.CreatedAt,
			}
			byID[r.BatchID] = s
			order = append(order, r.BatchID)
		}
		if r.RequestStatus == model.BatchExecuted {
			s.Status = model.BatchExecuted
			s.Count++
		}
		if r.CreatedAt.After(s.CreatedAt) {
			s.CreatedAt = r.CreatedAt
		}
	}

	out := make([]model.BatchSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListPending returns placeholders never promoted, i.e. runs that failed or crashed
func (l *Ledger) ListPending(ctx context.Context, tenant string) ([]model.Batch, error) {
	rs, err := l.store.Find(ctx, Filter{Tenant: tenant, RequestStatus: model.BatchPending})
	if err != nil {
		return nil, persistenceError("failed to list pending batches", err)
	}
	out := make([]model.Batch, 0, len(rs))
	for _, r := range rs {
		out = append(out, *batchFrom(r))
	}
	return out, nil
}

// MarkSent flags one record as delivered to the downstream ledger
func (l *Ledger) MarkSent(ctx context.Context, batchID, documentID string) error {
	n, err := l.store.UpdateStatus(ctx, Filter{BatchID: batchID, RequestStatus: model.BatchExecuted, DocumentID: documentID}, model.DeliverySent)
	if err != nil {
		return persistenceError("failed to update delivery status", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func batchFrom(r Record) *model.Batch {
	b := &model.Batch{
		ID:        r.BatchID,
		Tenant:    r.Tenant,
		Status:    r.RequestStatus,
		CreatedAt: r.CreatedAt,
	}
	if dr, err := model.ParseDateRange(r.StartDate, r.EndDate); err == nil {
		b.Range = dr
	}
	return b
}
