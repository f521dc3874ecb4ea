package reconcile

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// BillSource lists bills from the downstream ledger
type BillSource interface {
	ListBills(ctx context.Context, filter model.BillFilter) ([]model.Bill, error)
}

// Reconciler checks invoices against bills already in the ledger
type Reconciler struct {
	source    BillSource
	tolerance int
	names     NamePolicy
	log       logrus.FieldLogger
}

// Option configures the reconciler
type Option func(*Reconciler)

// WithTolerance sets the date window in days
func WithTolerance(days int) Option {
	return func(r *Reconciler) {
		r.tolerance = days
	}
}

// WithNamePolicy sets how vendor names are compared
func WithNamePolicy(p NamePolicy) Option {
	return func(r *Reconciler) {
		r.names = p
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reconciler) {
		r.log = l
	}
}

// NewReconciler creates a reconciler with the default tolerance and policy
func NewReconciler(source BillSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:    source,
		tolerance: model.DefaultToleranceDays,
		names:     NormalizedNames,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDiscard(r.log)
	return r
}

// Find returns the bill already recording inv, or nil. Candidates are
// narrowed server-side by vendor and amount; none means no match.
func (r *Reconciler) Find(ctx context.Context, inv *model.InvoiceRecord) (*model.Bill, error) {
	amount := inv.Amount()
	bills, err := r.source.ListBills(ctx, model.BillFilter{VendorName: inv.VendorName, Total: &amount})
	if err != nil {
		return nil, err
	}
	log := r.log.WithFields(logrus.Fields{
		"vendor":      inv.VendorName,
		"amount":      amount.String(),
		"document_id": inv.DocumentID(),
	})
	if len(bills) == 0 {
		log.Debug("no candidate bills")
		return nil, nil
	}

	bill, ok := MatchBill(inv, bills, r.tolerance, r.names)
	if !ok {
		log.WithField("candidates", len(bills)).Debug("no candidate within date tolerance")
		return nil, nil
	}
	log.WithField("bill_id", bill.ID).Info("matching bill found")
	return bill, nil
}

// Exists reports whether inv is already recorded in the ledger
func (r *Reconciler) Exists(ctx context.Context, inv *model.InvoiceRecord) (bool, error) {
	bill, err := r.Find(ctx, inv)
	return bill != nil, err
}

// CheckResult is the reconciliation answer for one invoice
type CheckResult struct {
	DocumentID string          `json:"document_id"`
	VendorName string          `json:"vendor_name"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
	Exists     bool            `json:"exists"`
	BillID     string          `json:"bill_id,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// CheckBatch reconciles each invoice independently; one failed lookup does
// not stop the others
func (r *Reconciler) CheckBatch(ctx context.Context, invs []model.InvoiceRecord) []CheckResult {
	out := make([]CheckResult, 0, len(invs))
	for i := range invs {
		inv := &invs[i]
		res := CheckResult{
			DocumentID: inv.DocumentID(),
			VendorName: inv.VendorName,
			Amount:     inv.Amount(),
			Date:       inv.Date.Format(model.DateLayout),
		}
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			out = append(out, res)
			continue
		}
		bill, err := r.Find(ctx, inv)
		switch {
		case err != nil:
			r.log.WithError(err).WithField("document_id", res.DocumentID).Warn("reconciliation lookup failed")
			res.Error = err.Error()
		case bill != nil:
			res.Exists = true
			res.BillID = bill.ID
		}
		out = append(out, res)
	}
	return out
}
