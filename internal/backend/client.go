// Package backend is the REST client for the remote content-generation service.
package backend

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

	"github.com/google/uuid"

	"github.com/praxisllmlab/copydesk/internal/model"
)

const (
	batchGeneratePath  = "/api/v1/content/batch-generate"
	exportPath         = "/api/v1/content/export"
	importTemplatePath = "/api/v1/content/import-template"
)

// Client talks to the content backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request, including each status poll.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New creates a Client for baseURL authenticated with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SubmitBatch posts one batch. The response is either sync results or an async task handle.
func (c *Client) SubmitBatch(ctx context.Context, req model.SubmitRequest) (model.SubmitResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return model.SubmitResponse{}, fmt.Errorf("marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchGeneratePath, bytes.NewReader(data))
	if err != nil {
		return model.SubmitResponse{}, fmt.Errorf("create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	var out model.SubmitResponse
	if err := c.do(httpReq, &out); err != nil {
		return model.SubmitResponse{}, fmt.Errorf("submit batch: %w", err)
	}
	return out, nil
}

// GetBatchStatus fetches progress and partial results for an async task.
func (c *Client) GetBatchStatus(ctx context.Context, taskID string) (model.StatusResponse, error) {
	u := c.baseURL + batchGeneratePath + "/" + url.PathEscape(taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.StatusResponse{}, fmt.Errorf("create status request: %w", err)
	}

	var out model.StatusResponse
	if err := c.do(httpReq, &out); err != nil {
		return model.StatusResponse{}, fmt.Errorf("get batch status %s: %w", taskID, err)
	}
	return out, nil
}

// ExportURL builds the bulk text export URL for the given content ids.
func (c *Client) ExportURL(req model.ExportRequest) string {
	q := url.Values{}
	q.Set("ids", strings.Join(req.ContentIDs, ","))
	return c.baseURL + exportPath + "?" + q.Encode()
}

// ImportTemplateURL is where the CSV import template can be downloaded.
func (c *Client) ImportTemplateURL() string {
	return c.baseURL + importTemplatePath
}

// FetchExport downloads the export for req. The caller closes the body.
func (c *Client) FetchExport(ctx context.Context, req model.ExportRequest) (io.ReadCloser, string, error) {
	if len(req.ContentIDs) == 0 {
		return nil, "", errors.New("export: no content ids")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ExportURL(req), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create export request: %w", err)
	}
	c.setAuth(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("export: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, "", fmt.Errorf("export: %w", parseErrorResponse(resp))
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/csv"
	}
	return resp.Body, ct, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	c.setAuth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return fmt.Errorf("%w: %w", model.ErrTimeout, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		if errors.Is(err, model.ErrMalformedResponse) {
			return err
		}
		return fmt.Errorf("%w: %w", model.ErrMalformedResponse, err)
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	errType := "api_error"
	var errResp model.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		if errResp.Error.Type != "" {
			errType = errResp.Error.Type
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &model.BackendError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Type:       errType,
		Err:        model.MapHTTPStatusToError(resp.StatusCode),
	}
}
