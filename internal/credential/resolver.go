package credential

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// BlobStore fetches remote credential files by locator
type BlobStore interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Resolver turns a taxpayer profile into signing material
type Resolver struct {
	blobs BlobStore
	log   logrus.FieldLogger
}

// Option configures the resolver
type Option func(*Resolver)

// WithBlobStore enables remote locators
func WithBlobStore(b BlobStore) Option {
	return func(r *Resolver) {
		r.blobs = b
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Resolver) {
		r.log = l
	}
}

// NewResolver creates a resolver
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDiscard(r.log)
	return r
}

// Resolve loads the certificate and key for a profile. Per file, a remote
// locator wins over a local path. Missing or empty material is reported as
// model.ErrCredentialUnavailable and nothing partial is returned.
func (r *Resolver) Resolve(ctx context.Context, p model.TaxpayerProfile) (model.TaxpayerCredential, error) {
	log := r.log.WithField("rfc", p.RFC)

	cert, err := r.load(ctx, "certificate", p.CertURL, p.CertPath)
	if err != nil {
		log.WithError(err).Error("failed to resolve certificate")
		return model.TaxpayerCredential{}, err
	}
	key, err := r.load(ctx, "private key", p.KeyURL, p.KeyPath)
	if err != nil {
		log.WithError(err).Error("failed to resolve private key")
		return model.TaxpayerCredential{}, err
	}

	cred := model.TaxpayerCredential{
		RFC:         p.RFC,
		Certificate: cert,
		PrivateKey:  key,
		Passphrase:  p.Passphrase,
		CertURL:     p.CertURL,
		KeyURL:      p.KeyURL,
	}
	log.WithFields(logrus.Fields{
		"cert_remote": p.CertURL != "",
		"key_remote":  p.KeyURL != "",
	}).Debug("credential resolved")
	return cred, nil
}

func (r *Resolver) load(ctx context.Context, what, locator, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case locator != "":
		if r.blobs == nil {
			return nil, fmt.Errorf("%w: %s locator %q given but no blob store configured", model.ErrCredentialUnavailable, what, locator)
		}
		data, err = r.blobs.Fetch(ctx, locator)
	case path != "":
		data, err = os.ReadFile(path)
	default:
		return nil, fmt.Errorf("%w: no %s configured", model.ErrCredentialUnavailable, what)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", model.ErrCredentialUnavailable, what, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", model.ErrCredentialUnavailable, what)
	}
	return data, nil
}
