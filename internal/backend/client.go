package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"go.uber.org/zap"
)

const maxErrorBody = 512

// Client — REST-клиент бэкенда детекции. Все вызовы идут через Reliability.
type Client struct {
	base   *url.URL
	http   *http.Client
	rel    *Reliability
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(baseURL string, httpClient *http.Client, rel *Reliability, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if rel == nil {
		rel = NewReliability(ReliabilityConfig{}, nil)
	}
	return &Client{
		base:   u,
		http:   httpClient,
		rel:    rel,
		logger: logger.Named("backend"),
		now:    time.Now,
	}, nil
}

// TestAgent отправляет ответ агента на проверку.
func (c *Client) TestAgent(ctx context.Context, req AgentTestRequest) (domain.DetectionResult, error) {
	var res domain.DetectionResult
	body, err := json.Marshal(req)
	if err != nil {
		return res, fmt.Errorf("backend: encode test request: %w", err)
	}
	err = c.call(ctx, "test_agent", http.MethodPost, "/test-agent", nil, "application/json", body, &res)
	return res, err
}

// UploadBatch загружает файл пакета (multipart, поле "file").
func (c *Client) UploadBatch(ctx context.Context, filename string, r io.Reader) (BatchJob, error) {
	var job BatchJob

	// Тело читаем целиком: ретраям нужен повторяемый payload
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return job, fmt.Errorf("backend: build upload: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return job, fmt.Errorf("backend: read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return job, fmt.Errorf("backend: build upload: %w", err)
	}

	err = c.call(ctx, "batch_upload", http.MethodPost, "/batch/upload", nil, mw.FormDataContentType(), buf.Bytes(), &job)
	return job, err
}

func (c *Client) StartBatch(ctx context.Context, jobID string) (BatchJob, error) {
	var job BatchJob
	err := c.call(ctx, "batch_start", http.MethodPost, "/batch/"+url.PathEscape(jobID)+"/start", nil, "", nil, &job)
	return job, err
}

func (c *Client) CancelBatch(ctx context.Context, jobID string) (BatchJob, error) {
	var job BatchJob
	err := c.call(ctx, "batch_cancel", http.MethodPost, "/batch/"+url.PathEscape(jobID)+"/cancel", nil, "", nil, &job)
	return job, err
}

func (c *Client) GetBatch(ctx context.Context, jobID string) (BatchJob, error) {
	var job BatchJob
	err := c.call(ctx, "batch_get", http.MethodGet, "/batch/"+url.PathEscape(jobID), nil, "", nil, &job)
	return job, err
}

// ExportBatch возвращает сырые байты выгрузки и их content type.
func (c *Client) ExportBatch(ctx context.Context, jobID string, format ExportFormat) ([]byte, string, error) {
	if !format.Valid() {
		return nil, "", fmt.Errorf("backend: unsupported export format %q", format)
	}
	var (
		data        []byte
		contentType string
	)
	q := url.Values{"format": {string(format)}}
	err := c.rel.Do(ctx, "batch_export", func(ctx context.Context) error {
		resp, err := c.send(ctx, "batch_export", http.MethodGet, "/batch/"+url.PathEscape(jobID)+"/export", q, "", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("backend: read export: %w", err)
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	})
	return data, contentType, err
}

func (c *Client) AnalyticsSummary(ctx context.Context) (AnalyticsSummary, error) {
	var s AnalyticsSummary
	err := c.call(ctx, "analytics_summary", http.MethodGet, "/analytics/summary", nil, "", nil, &s)
	return s, err
}

// call - запрос с JSON-ответом через обертку надежности.
func (c *Client) call(ctx context.Context, endpoint, method, path string, q url.Values, contentType string, body []byte, out any) error {
	return c.rel.Do(ctx, endpoint, func(ctx context.Context) error {
		resp, err := c.send(ctx, endpoint, method, path, q, contentType, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("backend: decode %s: %w", endpoint, err)
		}
		return nil
	})
}

// send выполняет одну попытку. Не-2xx превращаются в типизированные ошибки, тело закрывается.
func (c *Client) send(ctx context.Context, endpoint, method, path string, q url.Values, contentType string, body []byte) (*http.Response, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("backend: build %s: %w", endpoint, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", endpoint, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	sErr := &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		c.logger.Warn("backend throttled", zap.String("endpoint", endpoint), zap.Duration("retry_after", delay))
		return nil, &ThrottleError{RetryAfter: delay, Cause: sErr}
	}
	return nil, sErr
}
