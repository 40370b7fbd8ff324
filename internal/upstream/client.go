package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quantnex-cache/internal/records"
)

// ErrNotFound is returned when the records API answers 404.
var ErrNotFound = records.ErrNotFound

const maxResponseSize = 8 * 1024 * 1024

// Client talks to the Quant-NEX records API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ records.Source = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: defaultTransport(cfg)}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("upstream"),
	}, nil
}

func (c *Client) Patient(ctx context.Context, id string) (records.Patient, error) {
	var out records.Patient
	err := c.call(ctx, "patient", http.MethodGet, "/v1/patients/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) UpdatePatient(ctx context.Context, p records.Patient) (records.Patient, error) {
	if err := p.Validate(); err != nil {
		return records.Patient{}, fmt.Errorf("upstream: invalid patient: %w", err)
	}
	var out records.Patient
	err := c.call(ctx, "update_patient", http.MethodPut, "/v1/patients/"+url.PathEscape(p.ID), p, &out)
	return out, err
}

func (c *Client) Reports(ctx context.Context, patientID string) ([]records.Report, error) {
	var out []records.Report
	err := c.call(ctx, "reports", http.MethodGet, "/v1/patients/"+url.PathEscape(patientID)+"/reports", nil, &out)
	return out, err
}

func (c *Client) Images(ctx context.Context, patientID string) ([]records.ImagingStudy, error) {
	var out []records.ImagingStudy
	err := c.call(ctx, "images", http.MethodGet, "/v1/patients/"+url.PathEscape(patientID)+"/images", nil, &out)
	return out, err
}

func (c *Client) Analytics(ctx context.Context, metric string) (records.AnalyticsSnapshot, error) {
	var out records.AnalyticsSnapshot
	err := c.call(ctx, "analytics", http.MethodGet, "/v1/analytics/"+url.PathEscape(metric), nil, &out)
	return out, err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) call(parentCtx context.Context, op, method, path string, in, out any) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("upstream: %s: marshal request: %w", op, err)
		}
	}

	requestID := uuid.NewString()
	target := c.cfg.BaseURL + path

	doOnce := func(ctx context.Context) (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("upstream: build HTTP request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req)
	}

	resp, err := c.doWithRetry(ctx, op, doOnce)
	if err != nil {
		c.logger.Error("records request failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("upstream: %s %s: %w", method, path, ErrNotFound)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		var apiErr errorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("upstream: %s: status %d: %s", op, resp.StatusCode, apiErr.Error)
		}

		c.logger.Error("records upstream error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), 200)),
		)
		return fmt.Errorf("upstream: %s: status %d: %s", op, resp.StatusCode, truncate(string(raw), 200))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("upstream: %s: decode response: %w", op, err)
	}

	c.logger.Debug("records request completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
