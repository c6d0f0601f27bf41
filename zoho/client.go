package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	intake "github.com/phbpx/crm-intake"
	"github.com/phbpx/crm-intake/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 10 << 20

// TokenSource hands out bearer tokens for CRM calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// ClientConfig is the required properties to talk to the CRM API.
type ClientConfig struct {
	// BaseURL includes the API version, e.g. https://www.zohoapis.com/crm/v2.
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// Client issues authenticated JSON calls against the CRM record API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewClient builds a Client. A zero RateLimit disables client side throttling.
func NewClient(cfg ClientConfig, tokens TokenSource, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		limiter: limiter,
		metrics: m,
	}
}

// Get reads path into out. It returns the HTTP status so callers can tell an
// empty 204 answer apart from a decoded body.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) (int, error) {
	return c.do(ctx, http.MethodGet, path, query, func() (io.Reader, string, error) {
		return nil, "", nil
	}, out)
}

// Post sends body as JSON and decodes the answer into out.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, jsonBody(body), out)
	return err
}

// Put sends body as JSON and decodes the answer into out.
func (c *Client) Put(ctx context.Context, path string, body any, out any) error {
	_, err := c.do(ctx, http.MethodPut, path, nil, jsonBody(body), out)
	return err
}

// Upload posts file as the multipart field "file".
func (c *Client) Upload(ctx context.Context, path string, file intake.File, out any) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
		h.Set("Content-Type", file.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}, out)
	return err
}

func jsonBody(body any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body func() (io.Reader, string, error), out any) (int, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "zoho."+strings.ToLower(method))
	span.SetAttributes(attribute.String("crm.path", path))
	defer span.End()

	status, raw, err := c.send(ctx, method, path, query, body)
	if err == nil && status == http.StatusUnauthorized {
		// A revoked or rotated token; refresh once and replay.
		c.tokens.Invalidate()
		status, raw, err = c.send(ctx, method, path, query, body)
	}
	span.SetAttributes(attribute.Int("http.status", status))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return status, err
	}

	if status < 200 || status > 299 {
		rerr := parseError(status, raw)
		span.SetStatus(codes.Error, rerr.Error())
		return status, rerr
	}

	if status == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return status, nil
	}

	if method != http.MethodGet {
		if rerr := recordError(status, raw); rerr != nil {
			span.SetStatus(codes.Error, rerr.Error())
			return status, rerr
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return status, &intake.RemoteError{StatusCode: status, Message: "decoding response", Err: err}
		}
	}

	return status, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body func() (io.Reader, string, error)) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, &intake.RemoteError{Message: "rate limiter", Err: err}
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	r, contentType, err := body()
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.CRMRequest(method, 0, time.Since(start))
		return 0, nil, &intake.RemoteError{Message: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.CRMRequest(method, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &intake.RemoteError{StatusCode: resp.StatusCode, Message: "reading response", Err: err}
	}

	return resp.StatusCode, raw, nil
}

// =============================================================================
// Error envelopes

type apiError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
	Details json.RawMessage `json:"details"`
}

type errorDetails struct {
	APIName string `json:"api_name"`
	Errors  []struct {
		APIName string `json:"api_name"`
	} `json:"errors"`
}

type envelope struct {
	apiError
	Data []apiError `json:"data"`
}

func (e apiError) fields() []string {
	if len(e.Details) == 0 {
		return nil
	}
	var d errorDetails
	if err := json.Unmarshal(e.Details, &d); err != nil {
		return nil
	}
	var out []string
	if d.APIName != "" {
		out = append(out, d.APIName)
	}
	for _, item := range d.Errors {
		if item.APIName != "" {
			out = append(out, item.APIName)
		}
	}
	return out
}

func (e apiError) remote(status int, raw []byte) *intake.RemoteError {
	return &intake.RemoteError{
		StatusCode: status,
		Code:       e.Code,
		Message:    e.Message,
		Fields:     e.fields(),
		Body:       truncate(string(raw), 2048),
	}
}

func parseError(status int, raw []byte) *intake.RemoteError {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &intake.RemoteError{StatusCode: status, Message: http.StatusText(status), Body: truncate(string(raw), 2048)}
	}
	if env.Code == "" {
		for _, item := range env.Data {
			if item.Status == "error" {
				return item.remote(status, raw)
			}
		}
	}
	return env.apiError.remote(status, raw)
}

// recordError finds record level failures in a 2xx write answer, which the
// CRM uses for most create and update rejections.
func recordError(status int, raw []byte) *intake.RemoteError {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	for _, item := range env.Data {
		if item.Status == "error" {
			return item.remote(status, raw)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
