// Package institution wraps outbound HTTP calls to Open Finance
// participants. spec.md §6 fixes the interface: the core forwards FAPI
// headers from its caller rather than minting them, and every call is
// isolated per resourceId behind a circuit breaker.
package institution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"resourcecore/pkg/resilience"
)

// Client issues HTTP calls to Open Finance participants, tracking
// per-resource request metrics the way the teacher's IPFS client tracks
// per-peer metrics.
type Client struct {
	httpClient *http.Client
	baseURL    string
	resilience *resilience.ResilienceManager

	metricsLock    sync.RWMutex
	requestMetrics map[string]*RequestMetrics
}

// RequestMetrics tracks request performance to a single resourceId.
type RequestMetrics struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatency     time.Duration
	LastRequest        time.Time
}

// Headers carries the FAPI header set the core forwards verbatim from
// its caller (spec.md §6): it never mints Authorization or
// x-jws-signature itself.
type Headers struct {
	Authorization           string
	FAPIAuthDate            string
	FAPICustomerIPAddress   string
	FAPIInteractionID       string
	CustomerUserAgent       string
	JWSSignature            string // required only for POST /consents and /consents/{id}/extends
}

func (h Headers) apply(req *http.Request) {
	setIfNotEmpty(req, "Authorization", h.Authorization)
	setIfNotEmpty(req, "x-fapi-auth-date", h.FAPIAuthDate)
	setIfNotEmpty(req, "x-fapi-customer-ip-address", h.FAPICustomerIPAddress)
	setIfNotEmpty(req, "x-fapi-interaction-id", h.FAPIInteractionID)
	setIfNotEmpty(req, "x-customer-user-agent", h.CustomerUserAgent)
	setIfNotEmpty(req, "x-jws-signature", h.JWSSignature)
}

func setIfNotEmpty(req *http.Request, key, value string) {
	if value != "" {
		req.Header.Set(key, value)
	}
}

// APIError is the {code, title, detail} body an institution returns on
// a 4xx/5xx response (spec.md §6).
type APIError struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Title, e.Detail)
}

// Response wraps a successful call's body plus the recorded
// x-fapi-interaction-id response header, which the core must record on
// every call (spec.md §6).
type Response struct {
	Body              []byte
	FAPIInteractionID string
	StatusCode        int
}

// Config configures the Client's base path and transport timeout.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// New constructs a Client wrapping a plain net/http.Client; circuit
// breaking and health tracking are delegated to rm (one breaker +
// health record per resourceId via rm.ExecuteForResource /
// rm.RegisterResource).
func New(config Config, rm *resilience.ResilienceManager) *Client {
	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        config.BaseURL,
		resilience:     rm,
		requestMetrics: make(map[string]*RequestMetrics),
	}
}

// Do issues method/path against the institution identified by
// resourceId, forwarding headers verbatim, through the per-resource
// circuit breaker. A 2xx status returns a Response; 4xx/5xx returns an
// *APIError wrapped in a *resilience.ClassifiedError.
func (c *Client) Do(ctx context.Context, resourceID, method, path string, headers Headers, body []byte) (*Response, error) {
	var resp *Response
	var httpStatus int

	err := c.resilience.ExecuteForResource(ctx, resourceID, httpStatus, func(ctx context.Context) error {
		start := time.Now()
		r, status, execErr := c.doRequest(ctx, method, path, headers, body)
		httpStatus = status
		c.recordMetrics(resourceID, time.Since(start), execErr == nil)
		if execErr != nil {
			return execErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, resilience.ClassifyHTTPError(err, httpStatus, "institution-client")
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, headers Headers, body []byte) (*Response, int, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	headers.apply(req)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	interactionID := httpResp.Header.Get("x-fapi-interaction-id")

	if httpResp.StatusCode >= 400 {
		var apiErr APIError
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil {
			return nil, httpResp.StatusCode, &apiErr
		}
		return nil, httpResp.StatusCode, fmt.Errorf("institution returned status %d", httpResp.StatusCode)
	}

	return &Response{
		Body:              respBody,
		FAPIInteractionID: interactionID,
		StatusCode:        httpResp.StatusCode,
	}, httpResp.StatusCode, nil
}

func (c *Client) recordMetrics(resourceID string, latency time.Duration, success bool) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	m, ok := c.requestMetrics[resourceID]
	if !ok {
		m = &RequestMetrics{}
		c.requestMetrics[resourceID] = m
	}
	m.TotalRequests++
	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}
	m.AverageLatency = (m.AverageLatency*time.Duration(m.TotalRequests-1) + latency) / time.Duration(m.TotalRequests)
	m.LastRequest = time.Now()
}

// Metrics returns a snapshot of the tracked request metrics for
// resourceID, or nil if no request has been made to it yet.
func (c *Client) Metrics(resourceID string) *RequestMetrics {
	c.metricsLock.RLock()
	defer c.metricsLock.RUnlock()

	m, ok := c.requestMetrics[resourceID]
	if !ok {
		return nil
	}
	snapshot := *m
	return &snapshot
}
