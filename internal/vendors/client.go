// Package vendors is the low-level HTTP layer against the bookkeeping
// vendors: auth header composition, pagination dialects, rate limiting and
// retry. Callers above this package never see a vendor's wire shapes except
// as decoded JSON maps.
package vendors

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nordledger/gateway/internal/core"
	"github.com/nordledger/gateway/internal/metrics"
	"github.com/nordledger/gateway/internal/ratelimit"
	"github.com/nordledger/gateway/internal/retry"
)

// Doer executes one HTTP request. The Björn Lundén endpoint negotiates TLS
// ciphers some default stacks reject, so the client accepts any transport
// here; everything else uses a plain http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials carries the per-consent secrets a request needs. CompanyID is
// the vendor-scoped extra identifier: Bokio's company id (path segment) or
// Björn Lundén's user key (header).
type Credentials struct {
	AccessToken string
	CompanyID   string
}

// Options configures a Client beyond provider and base URL.
type Options struct {
	Doer     Doer
	Limiter  *ratelimit.Limiter
	Retry    retry.Policy
	ClientID string // Briox sends the OAuth client id as a request header
	Logger   *log.Logger
	Metrics  *metrics.Metrics // may be nil
}

// Client is one vendor's HTTP client. All request paths funnel through the
// vendor's rate limiter and the shared retry driver.
type Client struct {
	provider core.Provider
	baseURL  string
	clientID string
	doer     Doer
	limiter  *ratelimit.Limiter
	retry    retry.Policy
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// maxListingPages caps getAll loops against a vendor that keeps reporting
// more pages.
const maxListingPages = 500

// NewClient builds a vendor client. Zero-value options get working defaults;
// Björn Lundén defaults to a transport with an explicit cipher list.
func NewClient(provider core.Provider, baseURL string, opts Options) *Client {
	doer := opts.Doer
	if doer == nil {
		doer = defaultDoer(provider)
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("[VENDOR:%s] ", provider), log.LstdFlags)
	}
	return &Client{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: opts.ClientID,
		doer:     doer,
		limiter:  opts.Limiter,
		retry:    policy,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

func defaultDoer(provider core.Provider) Doer {
	if provider == core.ProviderBjornLunden {
		return newBjornLundenClient()
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// newBjornLundenClient pins the cipher suites the vendor's endpoint accepts.
func newBjornLundenClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
				CipherSuites: []uint16{
					tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
					tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
				},
			},
		},
	}
}

// Provider returns the vendor tag this client talks to.
func (c *Client) Provider() core.Provider { return c.provider }

// Get fetches one JSON object.
func (c *Client) Get(ctx context.Context, creds Credentials, path string) (map[string]interface{}, error) {
	body, err := c.do(ctx, creds, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", c.provider, path, err)
	}
	return out, nil
}

// GetBinary fetches raw bytes, used for SIE exports.
func (c *Client) GetBinary(ctx context.Context, creds Credentials, path string) ([]byte, error) {
	return c.do(ctx, creds, http.MethodGet, path, nil, nil)
}

// GetPage fetches one listing page in the vendor's pagination dialect.
func (c *Client) GetPage(ctx context.Context, creds Credentials, path, listKey string, page, pageSize int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	q := url.Values{}
	pageParams(c.provider, q, page, pageSize)

	body, err := c.do(ctx, creds, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	return parsePage(c.provider, body, listKey, page, pageSize)
}

// GetAll loops GetPage until the vendor reports no more pages and returns the
// concatenation.
func (c *Client) GetAll(ctx context.Context, creds Credentials, path, listKey string) ([]map[string]interface{}, error) {
	var all []map[string]interface{}
	for page := 1; page <= maxListingPages; page++ {
		p, err := c.GetPage(ctx, creds, path, listKey, page, 100)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if !p.HasMore || len(p.Items) == 0 {
			return all, nil
		}
	}
	return nil, fmt.Errorf("%s: %s exceeded %d pages", c.provider, path, maxListingPages)
}

// Post sends a JSON payload and decodes the reply.
func (c *Client) Post(ctx context.Context, creds Credentials, path string, payload interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode %s: %w", c.provider, path, err)
	}
	body, err := c.do(ctx, creds, http.MethodPost, path, nil, raw)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", c.provider, path, err)
	}
	return out, nil
}

// do runs one request through the limiter and the retry driver.
func (c *Client) do(ctx context.Context, creds Credentials, method, path string, query url.Values, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	target, err := c.resolveURL(creds, path, query)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = retry.Do(ctx, c.retry, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return err
		}
		c.authorize(req, creds)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		attemptStart := time.Now()
		resp, err := c.doer.Do(req)
		if err != nil {
			if c.metrics != nil {
				c.metrics.RecordVendorCall(string(c.provider), 0, time.Since(attemptStart).Seconds())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if c.metrics != nil {
			c.metrics.RecordVendorCall(string(c.provider), resp.StatusCode, time.Since(attemptStart).Seconds())
		}
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &Error{
				Provider:   c.provider,
				StatusCode: resp.StatusCode,
				Path:       path,
				Body:       string(data),
			}
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// resolveURL joins base and path; Bokio paths are company-scoped.
func (c *Client) resolveURL(creds Credentials, path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if c.provider == core.ProviderBokio {
		if creds.CompanyID == "" {
			return "", fmt.Errorf("bokio: request to %s without a company id", path)
		}
		path = "/companies/" + url.PathEscape(creds.CompanyID) + path
	}
	target := c.baseURL + path
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target, nil
}

// authorize composes the vendor's auth headers.
func (c *Client) authorize(req *http.Request, creds Credentials) {
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")
	switch c.provider {
	case core.ProviderBriox:
		if c.clientID != "" {
			req.Header.Set("clientId", c.clientID)
		}
	case core.ProviderBjornLunden:
		if creds.CompanyID != "" {
			req.Header.Set("User-Key", creds.CompanyID)
		}
	}
}
