// Package persona is the HTTP client for the identity-verification vendor.
package persona

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ampel/internal/kyc/metrics"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

const (
	DefaultBaseURL    = "https://withpersona.com/api/v1"
	DefaultAPIVersion = "2023-01-05"

	maxResponseBytes = 1 << 20
	tracerName       = "ampel/kyc/persona"
)

// Config carries the vendor credentials.
type Config struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	Timeout    time.Duration
}

// Client issues synchronous vendor requests. It never retries.
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	http       *http.Client
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) { cl.tracer = t }
}

// New creates a vendor client.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, DefaultBaseURL), "/"),
		apiKey:     cfg.APIKey,
		apiVersion: orDefault(cfg.APIVersion, DefaultAPIVersion),
		http:       &http.Client{Timeout: timeout},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// CreateInquiry starts a vendor inquiry from templateID, tagged with our
// user id as reference.
func (c *Client) CreateInquiry(ctx context.Context, templateID, referenceID string) (*Inquiry, error) {
	const op = "create_inquiry"
	var body createInquiryRequest
	body.Data.Attributes.InquiryTemplateID = templateID
	body.Data.Attributes.ReferenceID = referenceID

	var doc document
	if err := c.do(ctx, op, http.MethodPost, "/inquiries", body, &doc); err != nil {
		return nil, err
	}
	inq, err := decodeInquiry(doc.Data)
	if err != nil {
		return nil, NewProviderError(ErrorBadData, op, "decode inquiry", err)
	}
	return inq, nil
}

// GenerateOneTimeLink returns a hosted-flow URL for inquiryID that sends the
// browser to redirectURI when the user finishes.
func (c *Client) GenerateOneTimeLink(ctx context.Context, inquiryID id.InquiryID, redirectURI string) (string, error) {
	const op = "generate_one_time_link"
	var doc document
	path := "/inquiries/" + url.PathEscape(inquiryID.String()) + "/generate-one-time-link"
	if err := c.do(ctx, op, http.MethodPost, path, nil, &doc); err != nil {
		return "", err
	}
	var meta oneTimeLinkMeta
	if len(doc.Meta) > 0 {
		if err := json.Unmarshal(doc.Meta, &meta); err != nil {
			return "", NewProviderError(ErrorBadData, op, "decode meta", err)
		}
	}
	if meta.OneTimeLink == "" {
		return "", NewProviderError(ErrorContractMismatch, op, "response missing one-time-link", nil)
	}
	link, err := url.Parse(meta.OneTimeLink)
	if err != nil {
		return "", NewProviderError(ErrorBadData, op, "invalid one-time-link", err)
	}
	if redirectURI != "" {
		q := link.Query()
		q.Set("redirect-uri", redirectURI)
		link.RawQuery = q.Encode()
	}
	return link.String(), nil
}

// GetInquiry fetches the current vendor view of an inquiry.
func (c *Client) GetInquiry(ctx context.Context, inquiryID id.InquiryID) (*Inquiry, error) {
	const op = "get_inquiry"
	var doc document
	if err := c.do(ctx, op, http.MethodGet, "/inquiries/"+url.PathEscape(inquiryID.String()), nil, &doc); err != nil {
		return nil, err
	}
	inq, err := decodeInquiry(doc.Data)
	if err != nil {
		return nil, NewProviderError(ErrorBadData, op, "decode inquiry", err)
	}
	return inq, nil
}

// FindAccountByReferenceID looks up the vendor account created for one of
// our users. It returns sentinel.ErrNotFound when there is none.
func (c *Client) FindAccountByReferenceID(ctx context.Context, referenceID string) (*Account, error) {
	const op = "list_accounts"
	q := url.Values{}
	q.Set("filter[reference-id]", referenceID)
	q.Set("page[size]", "1")

	var doc document
	if err := c.do(ctx, op, http.MethodGet, "/accounts?"+q.Encode(), nil, &doc); err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(doc.Data, &items); err != nil {
		return nil, NewProviderError(ErrorBadData, op, "decode accounts", err)
	}
	if len(items) == 0 {
		return nil, sentinel.ErrNotFound
	}
	acct, err := decodeAccount(items[0])
	if err != nil {
		return nil, NewProviderError(ErrorBadData, op, "decode account", err)
	}
	return acct, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "persona."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method)),
	)
	start := time.Now()
	defer func() {
		c.metrics.ObserveVendorCall(op, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(GetCategory(err)))
		}
		span.End()
	}()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return NewProviderError(ErrorInternal, op, "encode request", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return NewProviderError(ErrorInternal, op, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Key-Inflection", "kebab")
	req.Header.Set("Persona-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := NewProviderError(categoryForStatus(resp.StatusCode), op,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		pe.StatusCode = resp.StatusCode
		return pe
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewProviderError(ErrorBadData, op, "decode response", err)
	}
	return nil
}
