package fiel

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Default OCSP configuration
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = 1 * time.Hour
)

// OCSPCache remembers revocation answers per certificate
type OCSPCache struct {
	mu      sync.RWMutex
	entries map[string]ocspCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type ocspCacheEntry struct {
	revoked   bool
	expiresAt time.Time
}

// NewOCSPCache creates a new OCSP response cache
func NewOCSPCache(ttl time.Duration) *OCSPCache {
	return &OCSPCache{
		entries: make(map[string]ocspCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves a cached result
func (c *OCSPCache) Get(cert *x509.Certificate) (revoked bool, found bool) {
	key := certCacheKey(cert)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists {
		return false, false
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, false
	}
	return entry.revoked, true
}

// Set caches a result
func (c *OCSPCache) Set(cert *x509.Certificate, revoked bool) {
	c.mu.Lock()
	c.entries[certCacheKey(cert)] = ocspCacheEntry{
		revoked:   revoked,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Size returns the number of cached entries
func (c *OCSPCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func certCacheKey(cert *x509.Certificate) string {
	return fmt.Sprintf("%s:%s", cert.Issuer.String(), cert.SerialNumber.String())
}

// RevocationChecker asks the issuer's OCSP responder whether a certificate
// was revoked
type RevocationChecker struct {
	issuer     *x509.Certificate
	responder  string
	cache      *OCSPCache
	timeout    time.Duration
	softFail   bool
	httpClient *http.Client
}

// RevocationOption configures a RevocationChecker
type RevocationOption func(*RevocationChecker)

// WithSoftFail treats an unreachable responder as "not revoked"
func WithSoftFail() RevocationOption {
	return func(r *RevocationChecker) {
		r.softFail = true
	}
}

// WithOCSPTimeout sets the timeout for OCSP requests
func WithOCSPTimeout(d time.Duration) RevocationOption {
	return func(r *RevocationChecker) {
		r.timeout = d
	}
}

// WithOCSPCacheTTL sets the TTL for cached answers
func WithOCSPCacheTTL(d time.Duration) RevocationOption {
	return func(r *RevocationChecker) {
		r.cache = NewOCSPCache(d)
	}
}

// WithResponder overrides the responder URL found in the certificate
func WithResponder(url string) RevocationOption {
	return func(r *RevocationChecker) {
		r.responder = url
	}
}

// NewRevocationChecker creates a checker for certificates issued by issuer
func NewRevocationChecker(issuer *x509.Certificate, opts ...RevocationOption) *RevocationChecker {
	r := &RevocationChecker{
		issuer:     issuer,
		cache:      NewOCSPCache(DefaultOCSPCacheTTL),
		timeout:    DefaultOCSPTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check returns nil when the certificate is good, ErrCertRevoked when it was
// revoked and ErrOCSPUnavailable when no answer could be had and soft-fail is
// off
func (r *RevocationChecker) Check(ctx context.Context, f *FIEL) error {
	cert := f.Certificate()
	if revoked, found := r.cache.Get(cert); found {
		return r.verdict(cert, revoked)
	}

	servers := cert.OCSPServer
	if r.responder != "" {
		servers = []string{r.responder}
	}
	if len(servers) == 0 {
		return r.unavailable(fmt.Errorf("no OCSP server URL in certificate"))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := ocsp.CreateRequest(cert, r.issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return r.unavailable(fmt.Errorf("failed to create OCSP request: %w", err))
	}

	var lastErr error
	for _, server := range servers {
		revoked, err := r.query(ctx, server, req)
		if err == nil {
			r.cache.Set(cert, revoked)
			return r.verdict(cert, revoked)
		}
		lastErr = err
	}
	return r.unavailable(fmt.Errorf("all OCSP servers failed: %w", lastErr))
}

func (r *RevocationChecker) verdict(cert *x509.Certificate, revoked bool) error {
	if revoked {
		return ErrCertRevoked(cert.Subject.CommonName)
	}
	return nil
}

func (r *RevocationChecker) unavailable(err error) error {
	if r.softFail {
		return nil
	}
	return ErrOCSPUnavailable(err)
}

func (r *RevocationChecker) query(ctx context.Context, serverURL string, request []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(request))
	if err != nil {
		return false, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("OCSP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read OCSP response: %w", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, nil, r.issuer)
	if err != nil {
		return false, fmt.Errorf("failed to parse OCSP response: %w", err)
	}

	switch parsed.Status {
	case ocsp.Good:
		return false, nil
	case ocsp.Revoked:
		return true, nil
	default:
		return false, fmt.Errorf("OCSP status unknown")
	}
}
