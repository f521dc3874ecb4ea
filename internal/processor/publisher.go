package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	dec "github.com/rezonia/fiscal-sync/internal/decimal"
	"github.com/rezonia/fiscal-sync/internal/ledger"
	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/reconcile"
	"github.com/rezonia/fiscal-sync/internal/tokens"
	"github.com/rezonia/fiscal-sync/internal/zoho"
)

// ErrLedgerNotConfigured is returned for profiles without a downstream ledger
var ErrLedgerNotConfigured = errors.New("ledger integration not configured")

// PublishStatus is the outcome for one record
type PublishStatus string

const (
	PublishCreated   PublishStatus = "created"
	PublishDuplicate PublishStatus = "duplicate"
	PublishSkipped   PublishStatus = "skipped"
	PublishFailed    PublishStatus = "failed"
)

// PublishItem reports one record of a publish run
type PublishItem struct {
	DocumentID string        `json:"document_id"`
	VendorName string        `json:"vendor_name"`
	Status     PublishStatus `json:"status"`
	BillID     string        `json:"bill_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// PublishReport summarizes a publish run
type PublishReport struct {
	BatchID    string        `json:"request_id"`
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Items      []PublishItem `json:"items"`
}

func (r *PublishReport) add(item PublishItem) {
	switch item.Status {
	case PublishCreated:
		r.Created++
	case PublishDuplicate:
		r.Duplicates++
	case PublishSkipped:
		r.Skipped++
	case PublishFailed:
		r.Failed++
	}
	r.Items = append(r.Items, item)
}

// Publisher pushes committed batches to the downstream ledger as bills,
// skipping invoices the ledger already records
type Publisher struct {
	ledger *ledger.Ledger
	client *zoho.Client
	tokens *tokens.Controller
	names  reconcile.NamePolicy
	log    logrus.FieldLogger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithNamePolicy sets how vendor names are compared when looking for duplicates
func WithNamePolicy(p reconcile.NamePolicy) PublisherOption {
	return func(pub *Publisher) {
		pub.names = p
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(l logrus.FieldLogger) PublisherOption {
	return func(pub *Publisher) {
		pub.log = l
	}
}

// NewPublisher creates a publisher
func NewPublisher(lg *ledger.Ledger, client *zoho.Client, ctrl *tokens.Controller, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		ledger: lg,
		client: client,
		tokens: ctrl,
		names:  reconcile.NormalizedNames,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.OrDiscard(p.log)
	return p
}

func (p *Publisher) books(ctx context.Context, profile model.TaxpayerProfile) (*zoho.Books, error) {
	if !profile.Ledger.Configured() {
		return nil, fmt.Errorf("%s: %w", profile.RFC, ErrLedgerNotConfigured)
	}
	tok := p.tokens.EnsureFresh(ctx, profile.RFC, profile.Ledger)
	return p.client.Books(profile.Ledger.OrgID, tok.AccessToken), nil
}

func (p *Publisher) reconciler(books *zoho.Books, profile model.TaxpayerProfile) *reconcile.Reconciler {
	return reconcile.NewReconciler(books,
		reconcile.WithTolerance(profile.Tolerance()),
		reconcile.WithNamePolicy(p.names),
		reconcile.WithLogger(p.log),
	)
}

func (p *Publisher) records(ctx context.Context, batchID string) ([]ledger.Record, error) {
	rs, err := p.ledger.Records(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, ledger.ErrNotFound
	}
	return rs, nil
}

// Check reconciles every invoice of a batch against the ledger without
// writing anything
func (p *Publisher) Check(ctx context.Context, profile model.TaxpayerProfile, batchID string) ([]reconcile.CheckResult, error) {
	invs, err := p.ledger.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(invs) == 0 {
		return nil, ledger.ErrNotFound
	}
	books, err := p.books(ctx, profile)
	if err != nil {
		return nil, err
	}
	return p.reconciler(books, profile).CheckBatch(ctx, invs), nil
}

// Publish creates a bill for every not-yet-sent invoice of a batch. Invoices
// the ledger already has are reported as duplicates and marked sent. Each
// record fails on its own, except a rejected token which stops the run.
func (p *Publisher) Publish(ctx context.Context, profile model.TaxpayerProfile, batchID string) (*PublishReport, error) {
	rs, err := p.records(ctx, batchID)
	if err != nil {
		return nil, err
	}
	books, err := p.books(ctx, profile)
	if err != nil {
		return nil, err
	}
	rec := p.reconciler(books, profile)
	taxes := zoho.NewTaxCache(books)
	log := p.log.WithFields(logrus.Fields{"rfc": profile.RFC, "batch_id": batchID})

	report := &PublishReport{BatchID: batchID, Items: make([]PublishItem, 0, len(rs))}
	for _, r := range rs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item := PublishItem{DocumentID: r.DocumentID}
		if r.Invoice != nil {
			item.VendorName = r.Invoice.VendorName
		}
		if r.Status == model.DeliverySent || r.Invoice == nil {
			item.Status = PublishSkipped
			report.add(item)
			continue
		}

		err := p.publishOne(ctx, books, rec, taxes, r, &item)
		if err != nil {
			item.Status = PublishFailed
			item.Error = err.Error()
			log.WithError(err).WithField("document_id", r.DocumentID).Warn("failed to publish invoice")
		}
		report.add(item)

		if errors.Is(err, model.ErrUnauthorized) {
			if ierr := p.tokens.Invalidate(ctx, profile.RFC); ierr != nil {
				log.WithError(ierr).Warn("failed to drop rejected token")
			}
			return report, fmt.Errorf("ledger rejected the access token: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"created":    report.Created,
		"duplicates": report.Duplicates,
		"failed":     report.Failed,
	}).Info("batch published")
	return report, nil
}

func (p *Publisher) publishOne(ctx context.Context, books *zoho.Books, rec *reconcile.Reconciler, taxes *zoho.TaxCache, r ledger.Record, item *PublishItem) error {
	existing, err := rec.Find(ctx, r.Invoice)
	if err != nil {
		return err
	}
	if existing != nil {
		item.Status = PublishDuplicate
		item.BillID = existing.ID
		return p.ledger.MarkSent(ctx, r.BatchID, r.DocumentID)
	}

	in, err := billInput(ctx, books, taxes, r.Invoice)
	if err != nil {
		return err
	}
	bill, err := books.CreateBill(ctx, *in)
	if err != nil {
		return err
	}
	item.Status = PublishCreated
	item.BillID = bill.ID
	return p.ledger.MarkSent(ctx, r.BatchID, r.DocumentID)
}

func billInput(ctx context.Context, books *zoho.Books, taxes *zoho.TaxCache, inv *model.InvoiceRecord) (*zoho.BillInput, error) {
	vendorID, err := books.SearchOrCreateVendor(ctx, inv.VendorName)
	if err != nil {
		return nil, err
	}

	in := &zoho.BillInput{
		VendorID:     vendorID,
		BillNumber:   inv.Folio,
		Date:         inv.Date.Format(model.DateLayout),
		LineItems:    make([]zoho.BillLine, 0, len(inv.LineItems)),
		CustomFields: inv.CustomFields,
	}
	for _, li := range inv.LineItems {
		itemID, err := books.SearchOrCreateItem(ctx, li.Description)
		if err != nil {
			return nil, err
		}
		line := zoho.BillLine{ItemID: itemID, Quantity: li.Quantity, Rate: li.Rate}
		if key, ok := li.PrimaryTax(); ok {
			if line.TaxID, err = taxes.FindOrCreate(ctx, key); err != nil {
				return nil, err
			}
		}
		in.LineItems = append(in.LineItems, line)
	}
	for _, t := range inv.Taxes {
		taxID, err := taxes.FindOrCreate(ctx, t.Key())
		if err != nil {
			return nil, err
		}
		in.Taxes = append(in.Taxes, zoho.BillTax{TaxID: taxID, TaxName: t.Key().Label(), TaxAmount: dec.Cents(t.Amount)})
	}
	return in, nil
}
