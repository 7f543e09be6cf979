package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leadfoundry/enrichworker/metrics"
	"github.com/leadfoundry/enrichworker/retry"
	"github.com/leadfoundry/enrichworker/trace"
)

// Path is the fixed callback route on the primary application.
const Path = "/api/v2/internal/enrichment-callback/"

// deliveryTimeout bounds one callback POST.
const deliveryTimeout = 300 * time.Second

// Client posts callback envelopes to the primary application with OIDC auth
// and retry, paginating terminal payloads whose lead lists exceed the page
// size.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokens       TokenSource
	policy       retry.Policy
	leadsPerPage int
	logger       *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRetryPolicy overrides the delivery retry policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(cl *Client) { cl.policy = p }
}

// WithLeadsPerPage overrides the pagination fragment size.
func WithLeadsPerPage(n int) ClientOption {
	return func(cl *Client) { cl.leadsPerPage = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = logger }
}

// NewClient creates a callback client targeting baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: deliveryTimeout},
		tokens:       tokens,
		policy:       retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		leadsPerPage: DefaultLeadsPerPage,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers the envelope, splitting oversized terminal payloads into
// ordered pages. Delivery stops at the first page that fails after retries.
func (c *Client) Send(ctx context.Context, env *Envelope) error {
	pages := []*Envelope{env}
	if env.Terminal() {
		pages = Paginate(env, c.leadsPerPage)
	}

	for _, page := range pages {
		if err := c.deliver(ctx, page); err != nil {
			if page.Pagination != nil {
				return fmt.Errorf("deliver page %d/%d: %w", page.Pagination.Page, page.Pagination.TotalPages, err)
			}
			return err
		}
	}
	return nil
}

// deliver posts one envelope. A fresh identity token is obtained per
// delivery; the audience is the receiver base URL without a trailing slash.
func (c *Client) deliver(ctx context.Context, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	page := 0
	if env.Pagination != nil {
		page = env.Pagination.Page
	}
	c.logger.InfoContext(ctx, "delivering callback",
		"job_id", env.JobID, "status", env.Status, "page", page,
		"completion", env.CompletionPercentage)

	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		token, err := c.tokens.Token(ctx, c.baseURL)
		if err != nil {
			return retry.Retryable(fmt.Errorf("obtain identity token: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build callback request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if tc := trace.From(ctx); tc.TraceID != "" {
			req.Header.Set("X-Request-ID", tc.TraceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(fmt.Errorf("post callback: %w", err))
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return retry.FromStatus(resp.StatusCode, string(respBody))
	})

	if err != nil {
		metrics.CallbackDeliveries.WithLabelValues("error").Inc()
		c.logger.WarnContext(ctx, "callback delivery failed",
			"job_id", env.JobID, "status", env.Status, "page", page, "error", err)
		return err
	}
	metrics.CallbackDeliveries.WithLabelValues("ok").Inc()
	return nil
}
