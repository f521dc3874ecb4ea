package tokens

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// DefaultRefreshAfter is how old a token may get before it is refreshed
const DefaultRefreshAfter = time.Hour

// Refresher exchanges an integration's refresh token for a new access token
type Refresher interface {
	RefreshAccessToken(ctx context.Context, in model.LedgerIntegration) (string, error)
}

// Controller keeps one ledger access token per taxpayer fresh
type Controller struct {
	refresher    Refresher
	store        Store
	refreshAfter time.Duration
	log          logrus.FieldLogger
	now          func() time.Time
	group        singleflight.Group
}

// Option configures the controller
type Option func(*Controller)

// WithRefreshAfter sets the token age that triggers a refresh
func WithRefreshAfter(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.refreshAfter = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a controller persisting tokens in store
func NewController(r Refresher, store Store, opts ...Option) *Controller {
	c := &Controller{
		refresher:    r,
		store:        store,
		refreshAfter: DefaultRefreshAfter,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDiscard(c.log)
	return c
}

// EnsureFresh returns a usable token for rfc. A token older than the refresh
// window is exchanged for a new one and persisted; when the exchange fails
// the previous token is returned and the failure is only logged.
func (c *Controller) EnsureFresh(ctx context.Context, rfc string, in model.LedgerIntegration) model.LedgerToken {
	current := c.current(ctx, rfc, in)
	if !c.stale(current) {
		return current
	}

	// Concurrent callers for one taxpayer share a single exchange
	v, _, _ := c.group.Do(rfc, func() (interface{}, error) {
		// Another flight may have finished since the first read
		if latest := c.current(ctx, rfc, in); !c.stale(latest) {
			return latest, nil
		}
		return c.refresh(ctx, rfc, in, current), nil
	})
	return v.(model.LedgerToken)
}

// Invalidate forgets the stored token so the next call refreshes
func (c *Controller) Invalidate(ctx context.Context, rfc string) error {
	return c.store.Delete(ctx, rfc)
}

func (c *Controller) current(ctx context.Context, rfc string, in model.LedgerIntegration) model.LedgerToken {
	tok, ok, err := c.store.Get(ctx, rfc)
	if err != nil {
		c.log.WithError(err).WithField("rfc", rfc).Warn("token store read failed")
	}
	if ok && (tok.RefreshedAt.After(in.LastRefreshTime) || in.AccessToken == "") {
		return tok
	}
	return model.LedgerToken{AccessToken: in.AccessToken, RefreshedAt: in.LastRefreshTime}
}

func (c *Controller) stale(tok model.LedgerToken) bool {
	return tok.AccessToken == "" || c.now().Sub(tok.RefreshedAt) > c.refreshAfter
}

func (c *Controller) refresh(ctx context.Context, rfc string, in model.LedgerIntegration, previous model.LedgerToken) model.LedgerToken {
	log := c.log.WithField("rfc", rfc)

	access, err := c.refresher.RefreshAccessToken(ctx, in)
	if err != nil {
		log.WithError(err).WithField("kind", model.ErrAuthRefreshFailed.Error()).
			Warn("ledger token refresh failed, continuing with previous token")
		return previous
	}

	tok := model.LedgerToken{AccessToken: access, RefreshedAt: c.now()}
	if err := c.store.Put(ctx, rfc, tok); err != nil {
		log.WithError(err).Warn("failed to persist refreshed ledger token")
	}
	log.Info("ledger token refreshed")
	return tok
}
