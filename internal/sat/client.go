package sat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/fiel"
	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// Endpoints of the bulk download web services
type Endpoints struct {
	Auth     string
	Request  string
	Verify   string
	Download string
}

// DefaultEndpoints are the production service URLs
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Auth:     "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/Autenticacion/Autenticacion.svc",
		Request:  "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/SolicitaDescargaService.svc",
		Verify:   "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/VerificaSolicitudDescargaService.svc",
		Download: "https://cfdidescargamasiva.clouda.sat.gob.mx/DescargaMasivaService.svc",
	}
}

const (
	DefaultTimeout = 60 * time.Second

	// tokenLifetime is the Created/Expires window of the auth timestamp
	tokenLifetime = 5 * time.Minute
)

// Client opens signed sessions against the bulk download service
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	revocation *fiel.RevocationChecker
	log        logrus.FieldLogger
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithEndpoints sets custom service URLs
func WithEndpoints(e Endpoints) ClientOption {
	return func(c *Client) {
		c.endpoints = e
	}
}

// WithTimeout sets custom HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRevocationChecker checks every opened certificate against OCSP
func WithRevocationChecker(r *fiel.RevocationChecker) ClientOption {
	return func(c *Client) {
		c.revocation = r
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new service client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		endpoints:  DefaultEndpoints(),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDiscard(c.log)
	return c
}

// Open parses the credential and binds it to a session. Unusable material
// fails with model.ErrCredentialUnavailable.
func (c *Client) Open(ctx context.Context, cred model.TaxpayerCredential) (*Session, error) {
	f, err := fiel.New(cred)
	if err != nil {
		return nil, err
	}
	if err := f.CheckValidity(c.now()); err != nil {
		return nil, err
	}
	if c.revocation != nil {
		if err := c.revocation.Check(ctx, f); err != nil {
			return nil, err
		}
	}

	rfc := cred.RFC
	if rfc == "" {
		rfc = f.RFC()
	}
	return &Session{client: c, fiel: f, rfc: rfc}, nil
}

// ServiceError is a failed call to the service: a transport status, a SOAP
// fault or a non-success CodEstatus
type ServiceError struct {
	Op         string
	StatusCode int
	Fault      bool
	Code       string
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sat %s: code %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("sat %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Retryable reports server-side failures that were not SOAP faults
func (e *ServiceError) Retryable() bool {
	return !e.Fault && e.Code == "" && (e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests)
}

// Is maps rejected tokens to model.ErrUnauthorized
func (e *ServiceError) Is(target error) bool {
	return target == model.ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

func (c *Client) call(ctx context.Context, op, endpoint, action, token string, doc *etree.Document) (*etree.Document, error) {
	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sat %s: encode envelope: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sat %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("Accept", "text/xml")
	req.Header.Set("SOAPAction", action)
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf(`WRAP access_token="%s"`, token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sat %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sat %s: read response: %w", op, err)
	}

	out := etree.NewDocument()
	parseErr := out.ReadFromBytes(data)

	if resp.StatusCode != http.StatusOK {
		svcErr := &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if parseErr == nil {
			if fault := out.FindElement("//Fault"); fault != nil {
				svcErr.Fault = true
				if s := fault.FindElement(".//faultstring"); s != nil {
					svcErr.Message = s.Text()
				}
			}
		}
		return nil, svcErr
	}
	if parseErr != nil {
		return nil, fmt.Errorf("sat %s: parse response: %w", op, parseErr)
	}
	return out, nil
}
