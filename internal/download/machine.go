package download

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// Request-level codes returned on verification
const (
	CodeAccepted = "5000"
	CodeNoData   = "5004"
)

// Gateway is the authority's authentication and bulk download surface.
// Tokens are short-lived and never cached by callers.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	RequestDownload(ctx context.Context, token string, q model.DownloadQuery) (string, error)
	CheckStatus(ctx context.Context, token, requestID string) (*model.RequestStatus, error)
	FetchPackage(ctx context.Context, token, packageID string) (string, error)
}

// Policy bounds the polling loop
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Deadline    time.Duration // zero means no wall-clock limit
}

// DefaultPolicy polls once a minute for up to an hour
func DefaultPolicy() Policy {
	return Policy{
		Interval:    60 * time.Second,
		MaxAttempts: 60,
		Deadline:    time.Hour,
	}
}

// Machine drives one bulk request from submission to unpacked documents
type Machine struct {
	gateway Gateway
	policy  Policy
	workDir string
	log     logrus.FieldLogger
	now     func() time.Time
}

// Option configures the machine
type Option func(*Machine)

// WithPolicy sets the polling policy
func WithPolicy(p Policy) Option {
	return func(m *Machine) {
		m.policy = p
	}
}

// WithWorkDir sets the root directory packages are written under
func WithWorkDir(dir string) Option {
	return func(m *Machine) {
		m.workDir = dir
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Machine) {
		m.log = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine creates a state machine bound to one gateway session
func NewMachine(gw Gateway, opts ...Option) *Machine {
	m := &Machine{
		gateway: gw,
		policy:  DefaultPolicy(),
		workDir: "downloads",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.OrDiscard(m.log)
	if m.policy.MaxAttempts <= 0 {
		m.policy.MaxAttempts = 1
	}
	return m
}

// Outcome is the result of a full run
type Outcome struct {
	Request  *model.BulkRequest
	Dir      string
	Unpacked []string
	Failures []error // per-package failures, never fatal
}

// Run submits, polls, downloads and unpacks one request
func (m *Machine) Run(ctx context.Context, q model.DownloadQuery) (*Outcome, error) {
	req, err := m.Submit(ctx, q)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Request: req}

	if err := m.Poll(ctx, req); err != nil {
		return out, err
	}

	dir, failures, err := m.Download(ctx, req)
	out.Dir = dir
	out.Failures = append(out.Failures, failures...)
	if err != nil {
		return out, err
	}

	report, err := Unpack(ctx, dir)
	if err != nil {
		return out, model.NewStageError(model.StageDownload, model.ErrDownloadFailed, "failed to unpack packages", err)
	}
	out.Unpacked = report.Files
	out.Failures = append(out.Failures, report.Failures...)

	req.Advance(model.StateExtracted, m.now(), fmt.Sprintf("%d files", len(report.Files)))
	return out, nil
}

// Submit authenticates and files a new download request
func (m *Machine) Submit(ctx context.Context, q model.DownloadQuery) (*model.BulkRequest, error) {
	if q.Kind == "" {
		q.Kind = model.KindCFDI
	}
	token, err := m.gateway.Authenticate(ctx)
	if err != nil {
		return nil, model.NewStageError(model.StageAuth, model.ErrSubmissionRejected, "authentication failed", err)
	}

	id, err := m.gateway.RequestDownload(ctx, token, q)
	if err != nil {
		return nil, model.NewStageError(model.StageSubmission, model.ErrSubmissionRejected, "download request rejected", err)
	}

	m.log.WithFields(logrus.Fields{
		"rfc":        q.RFC,
		"request_id": id,
		"range":      q.Range.String(),
	}).Info("download request submitted")

	return model.NewBulkRequest(id, q, m.now()), nil
}

// Poll re-authenticates and checks status until the request settles.
// Transient errors consume an attempt; cancellation is checked every iteration.
func (m *Machine) Poll(ctx context.Context, req *model.BulkRequest) error {
	log := m.log.WithFields(logrus.Fields{"rfc": req.RFC, "request_id": req.ID})

	var deadline time.Time
	if m.policy.Deadline > 0 {
		deadline = m.now().Add(m.policy.Deadline)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			req.Advance(model.StateFailed, m.now(), "cancelled")
			return model.NewStageError(model.StagePolling, model.ErrPollingFailed, "polling cancelled", err)
		}
		if attempt > m.policy.MaxAttempts || (!deadline.IsZero() && m.now().After(deadline)) {
			req.Advance(model.StateTimedOut, m.now(), "")
			return model.NewStageError(model.StagePolling, model.ErrPollingTimedOut,
				fmt.Sprintf("request %s not finished after %d attempts", req.ID, req.Attempts), nil)
		}
		req.Attempts = attempt

		status, err := m.check(ctx, req.ID)
		if err != nil {
			if ctx.Err() == nil && IsRetryableError(err) {
				log.WithError(err).WithField("attempt", attempt).Warn("transient status error")
				if attempt < m.policy.MaxAttempts {
					_ = m.wait(ctx)
				}
				continue
			}
			req.Advance(model.StateFailed, m.now(), err.Error())
			return model.NewStageError(model.StagePolling, model.ErrPollingFailed, "status check failed", err)
		}
		req.LastStatus = status

		if status.RequestCode == CodeNoData {
			req.PackageIDs = nil
			req.Advance(model.StateReady, m.now(), "no documents in range")
			log.Info("authority reports no documents")
			return nil
		}
		if status.StatusCode != "" && status.StatusCode != CodeAccepted {
			req.Advance(model.StateFailed, m.now(), status.FailureNote())
			return model.NewStageError(model.StagePolling, model.ErrPollingFailed,
				fmt.Sprintf("verification returned code %s: %s", status.StatusCode, status.Message), nil)
		}

		switch status.State() {
		case model.StateReady:
			req.PackageIDs = status.PackageIDs
			req.Advance(model.StateReady, m.now(), fmt.Sprintf("%d packages", len(status.PackageIDs)))
			log.WithField("packages", len(status.PackageIDs)).Info("request ready")
			return nil
		case model.StateFailed:
			req.Advance(model.StateFailed, m.now(), status.FailureNote())
			return model.NewStageError(model.StagePolling, model.ErrPollingFailed, status.FailureNote(), nil)
		default:
			req.Advance(model.StatePolling, m.now(), "")
			log.WithFields(logrus.Fields{"attempt": attempt, "state": status.StateCode}).Debug("request still in progress")
			// A cancelled wait is picked up at the top of the loop
			if attempt < m.policy.MaxAttempts {
				_ = m.wait(ctx)
			}
		}
	}
}

func (m *Machine) check(ctx context.Context, requestID string) (*model.RequestStatus, error) {
	token, err := m.gateway.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return m.gateway.CheckStatus(ctx, token, requestID)
}

func (m *Machine) wait(ctx context.Context) error {
	if m.policy.Interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.policy.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
