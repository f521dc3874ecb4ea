package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

const (
	DefaultBaseURL     = "https://www.zohoapis.com/books/v3"
	DefaultAccountsURL = "https://accounts.zoho.com/oauth/v2/token"
	DefaultTimeout     = 30 * time.Second

	// DefaultRequestsPerMinute stays under the per-organization API quota
	DefaultRequestsPerMinute = 100
)

// APIError is a non-success response from the ledger
type APIError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoho %s: status %d code %d: %s", e.Op, e.StatusCode, e.Code, e.Message)
}

// Is maps 401 responses to model.ErrUnauthorized
func (e *APIError) Is(target error) bool {
	return target == model.ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Retryable reports throttling and server-side failures
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the ledger API on behalf of any organization
type Client struct {
	baseURL     string
	accountsURL string
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         logrus.FieldLogger
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL           string
	accountsURL       string
	timeout           time.Duration
	requestsPerMinute int
	transport         http.RoundTripper
	log               logrus.FieldLogger
}

// WithBaseURL sets a custom API base URL
func WithBaseURL(u string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.baseURL = u
	}
}

// WithAccountsURL sets the OAuth token endpoint
func WithAccountsURL(u string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.accountsURL = u
	}
}

// WithTimeout sets custom HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// WithRateLimit caps outgoing requests per minute; zero disables the limit
func WithRateLimit(perMinute int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.requestsPerMinute = perMinute
	}
}

// WithTransport sets the underlying round tripper
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transport = rt
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.log = l
	}
}

// NewClient creates a new ledger client
func NewClient(opts ...ClientOption) *Client {
	cfg := &clientConfig{
		baseURL:           DefaultBaseURL,
		accountsURL:       DefaultAccountsURL,
		timeout:           DefaultTimeout,
		requestsPerMinute: DefaultRequestsPerMinute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.requestsPerMinute)), 5)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.baseURL, "/"),
		accountsURL: cfg.accountsURL,
		httpClient:  &http.Client{Timeout: cfg.timeout, Transport: cfg.transport},
		limiter:     limiter,
		log:         logger.OrDiscard(cfg.log),
	}
}

// orgHeaderTransport adds the credentials every Books call carries
type orgHeaderTransport struct {
	base  http.RoundTripper
	orgID string
	token string
}

func (t *orgHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Zoho-oauthtoken "+t.token)
	req.Header.Set("X-com-zoho-books-organizationid", t.orgID)
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// Books is a client bound to one organization and access token
type Books struct {
	client *Client
	orgID  string
	http   *http.Client
}

// Books binds the client to an organization
func (c *Client) Books(orgID, accessToken string) *Books {
	return &Books{
		client: c,
		orgID:  orgID,
		http: &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: &orgHeaderTransport{base: c.httpClient.Transport, orgID: orgID, token: accessToken},
		},
	}
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (b *Books) do(ctx context.Context, op, method, path string, query url.Values, body interface{}, want int, out interface{}) error {
	if err := b.client.limiter.Wait(ctx); err != nil {
		return err
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("organization_id", b.orgID)
	endpoint := b.client.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("zoho %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("zoho %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("zoho %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("zoho %s: read response: %w", op, err)
	}

	if resp.StatusCode != want {
		var env envelope
		_ = json.Unmarshal(data, &env)
		if env.Message == "" {
			env.Message = strings.TrimSpace(string(data))
		}
		return &APIError{Op: op, StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("zoho %s: decode response: %w", op, err)
		}
	}
	return nil
}
