package processor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/fiscal-sync/internal/download"
	"github.com/rezonia/fiscal-sync/internal/ledger"
	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/parser/cfdi"
	"github.com/rezonia/fiscal-sync/internal/sat"
)

// CredentialResolver supplies signing material for a taxpayer
type CredentialResolver interface {
	Resolve(ctx context.Context, p model.TaxpayerProfile) (model.TaxpayerCredential, error)
}

// Opener binds a resolved credential to a gateway session
type Opener func(ctx context.Context, cred model.TaxpayerCredential) (download.Gateway, error)

// SATOpener opens sessions against the authority's bulk download service
func SATOpener(c *sat.Client) Opener {
	return func(ctx context.Context, cred model.TaxpayerCredential) (download.Gateway, error) {
		s, err := c.Open(ctx, cred)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Pipeline runs one taxpayer and date range from credential to committed batch
type Pipeline struct {
	resolver  CredentialResolver
	open      Opener
	ledger    *ledger.Ledger
	extractor *cfdi.Extractor
	machine   []download.Option
	issued    bool
	newID     func() string
	log       logrus.FieldLogger
}

// Option configures the pipeline
type Option func(*Pipeline)

// WithMachineOptions passes options to every state machine the pipeline creates
func WithMachineOptions(opts ...download.Option) Option {
	return func(p *Pipeline) {
		p.machine = append(p.machine, opts...)
	}
}

// WithIssued requests documents the taxpayer emitted instead of received ones
func WithIssued() Option {
	return func(p *Pipeline) {
		p.issued = true
	}
}

// WithIDGenerator overrides how batch ids are minted
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		p.newID = fn
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// NewPipeline creates a pipeline
func NewPipeline(resolver CredentialResolver, open Opener, lg *ledger.Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		open:     open,
		ledger:   lg,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.OrDiscard(p.log)

	perspective := cfdi.Received
	if p.issued {
		perspective = cfdi.Issued
	}
	p.extractor = cfdi.NewExtractor(cfdi.WithPerspective(perspective), cfdi.WithLogger(p.log))
	return p
}

// RunSync downloads, extracts and commits one batch. Batch-level failures
// come back with Success=false and the stage that failed; per-document and
// per-package failures only produce warnings.
func (p *Pipeline) RunSync(ctx context.Context, profile model.TaxpayerProfile, r model.DateRange) *model.SyncResult {
	batchID := p.newID()
	log := p.log.WithFields(logrus.Fields{
		"rfc":      profile.RFC,
		"tenant":   profile.Tenant,
		"batch_id": batchID,
		"range":    r.String(),
		"days":     r.Days(),
	})

	if err := r.Validate(); err != nil {
		return model.Failure(batchID, err)
	}

	cred, err := p.resolver.Resolve(ctx, profile)
	if err != nil {
		return p.fail(log, batchID, model.NewStageError(model.StageCredential, model.ErrCredentialUnavailable, "failed to resolve credential", err))
	}
	gw, err := p.open(ctx, cred)
	if err != nil {
		return p.fail(log, batchID, model.NewStageError(model.StageCredential, model.ErrCredentialUnavailable, "failed to open signing material", err))
	}

	if err := p.ledger.CreatePlaceholder(ctx, batchID, profile.Tenant, r); err != nil {
		return p.fail(log, batchID, err)
	}

	rfc := cred.RFC
	if rfc == "" {
		rfc = profile.RFC
	}
	machine := download.NewMachine(gw, append([]download.Option{download.WithLogger(log)}, p.machine...)...)
	out, err := machine.Run(ctx, model.DownloadQuery{
		RFC:    rfc,
		Range:  r,
		Kind:   model.KindCFDI,
		Issued: p.issued,
	})
	if err != nil {
		return p.fail(log, batchID, err)
	}

	report, err := p.extractor.ExtractDir(ctx, out.Dir)
	if err != nil {
		return p.fail(log, batchID, model.NewStageError(model.StageExtraction, model.ErrMalformedDocument, "failed to read documents", err))
	}
	invoices := report.Invoices()

	if _, err := p.ledger.Commit(ctx, batchID, profile.Tenant, r, invoices); err != nil {
		return p.fail(log, batchID, err)
	}

	res := &model.SyncResult{
		Success:   true,
		BatchID:   batchID,
		RequestID: out.Request.ID,
		Invoices:  invoices,
		Report:    report,
	}
	for _, f := range out.Failures {
		res.Warnings = append(res.Warnings, f.Error())
	}
	for _, f := range report.Failures() {
		res.Warnings = append(res.Warnings, f.Error())
	}

	log.WithFields(logrus.Fields{
		"invoices": len(invoices),
		"skipped":  report.SkippedCount(),
		"warnings": len(res.Warnings),
	}).Info("sync completed")
	return res
}

func (p *Pipeline) fail(log logrus.FieldLogger, batchID string, err error) *model.SyncResult {
	entry := log.WithError(err)
	var se *model.StageError
	if errors.As(err, &se) {
		entry = entry.WithField("stage", se.Stage)
	}
	entry.Error("sync failed")
	return model.Failure(batchID, err)
}

// SyncAll runs every profile over the same range, at most concurrency at a
// time. Results are returned in profile order; one taxpayer failing never
// stops the others.
func (p *Pipeline) SyncAll(ctx context.Context, profiles []model.TaxpayerProfile, r model.DateRange, concurrency int) []*model.SyncResult {
	results := make([]*model.SyncResult, len(profiles))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range profiles {
		i := i
		g.Go(func() error {
			results[i] = p.RunSync(ctx, profiles[i], r)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
