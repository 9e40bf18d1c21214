package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	"github.com/smallbiznis/paydesk/internal/observability/tracing"
	"github.com/smallbiznis/paydesk/internal/processor/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api-m.sandbox.paypal.com"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20

	headerDebugID   = "Paypal-Debug-Id"
	headerRequestID = "PayPal-Request-Id"
)

// Client talks to the PayPal REST API.
type Client struct {
	cfg     config.PayPalConfig
	base    *url.URL
	http    *http.Client
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	clock   clock.Clock
	tokens  *tokenSource

	newRequestID func() string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithRequestIDs(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newRequestID = fn
		}
	}
}

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
	Clock   clock.Clock         `optional:"true"`
}

func New(p Params) domain.Gateway {
	return NewClient(p.Config.PayPal, p.Log, p.Metrics, WithClock(p.Clock))
}

func NewClient(cfg config.PayPalConfig, log *zap.Logger, metrics *obsmetrics.Metrics, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		base, _ = url.Parse(defaultBaseURL)
	}

	c := &Client{
		cfg:          cfg,
		base:         base,
		http:         &http.Client{Timeout: cfg.UpstreamTimeout},
		log:          log.Named("processor.paypal"),
		metrics:      metrics,
		clock:        clock.New(),
		newRequestID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokens = newTokenSource(c)
	return c
}

type call struct {
	op      string
	method  string
	target  string
	body    any
	headers map[string]string
	out     any
}

type response struct {
	status  int
	debugID string
	body    []byte
}

// do runs an authenticated JSON call bounded by the upstream timeout.
func (c *Client) do(ctx context.Context, rc call) (resp *response, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UpstreamTimeout)
	defer cancel()

	ctx, span := tracing.StartClientSpan(ctx, rc.op, attribute.String("http.method", rc.method))
	defer func() { tracing.EndSpan(span, err) }()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var payload io.Reader
	if rc.body != nil {
		raw, err := json.Marshal(rc.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", rc.op, err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, c.resolve(rc.target), payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rc.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range rc.headers {
		req.Header.Set(key, value)
	}

	resp, err = c.exchange(ctx, rc.op, req, rc.out)
	if domain.StatusCodeOf(err) == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	return resp, err
}

func (c *Client) exchange(ctx context.Context, op string, req *http.Request, out any) (*response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamCall(ctx, op, 0)
		return nil, transportError(op, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		c.metrics.RecordUpstreamCall(ctx, op, 0)
		return nil, transportError(op, err)
	}
	c.metrics.RecordUpstreamCall(ctx, op, res.StatusCode)

	debugID := strings.TrimSpace(res.Header.Get(headerDebugID))
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		upstreamErr := parseUpstreamError(op, res.StatusCode, debugID, body)
		c.log.Warn("processor call failed",
			zap.String("op", op),
			zap.Int("status_code", upstreamErr.StatusCode),
			zap.String("issue", upstreamErr.Issue),
			zap.String("debug_id", upstreamErr.DebugID),
		)
		return nil, upstreamErr
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("%w: %s: decode response: %v", domain.ErrUpstream, op, err)
		}
	}
	return &response{status: res.StatusCode, debugID: debugID, body: body}, nil
}

// resolve turns an API path into an absolute URL. Absolute targets are only
// accepted when they point at the configured API host.
func (c *Client) resolve(target string) string {
	if strings.HasPrefix(target, "/") {
		return c.cfg.BaseURL + target
	}
	return target
}

func (c *Client) sameHost(link string) bool {
	parsed, err := url.Parse(link)
	if err != nil || !parsed.IsAbs() {
		return false
	}
	return strings.EqualFold(parsed.Scheme, c.base.Scheme) && strings.EqualFold(parsed.Host, c.base.Host)
}

func transportError(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrUpstreamTimeout)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstream, op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type errorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	// OAuth failures use a different shape.
	Error string `json:"error"`
}

func parseUpstreamError(op string, status int, debugID string, body []byte) *domain.UpstreamError {
	upstreamErr := &domain.UpstreamError{
		Op:         op,
		StatusCode: status,
		DebugID:    debugID,
		RawBody:    body,
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return upstreamErr
	}
	if upstreamErr.DebugID == "" {
		upstreamErr.DebugID = strings.TrimSpace(parsed.DebugID)
	}
	for _, detail := range parsed.Details {
		if issue := strings.TrimSpace(detail.Issue); issue != "" {
			upstreamErr.Issue = issue
			break
		}
	}
	if upstreamErr.Issue == "" {
		switch {
		case parsed.Name != "":
			upstreamErr.Issue = strings.TrimSpace(parsed.Name)
		case parsed.Error != "":
			upstreamErr.Issue = strings.TrimSpace(parsed.Error)
		}
	}
	return upstreamErr
}
