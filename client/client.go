// Package client talks to the donor import endpoints over HTTP.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"donorflow/services/progress"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a client authenticating with a bearer token.
func NewClient(baseURL, token string) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	c.http = resty.New().
		SetBaseURL(c.baseURL).
		SetAuthToken(token).
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryable)
	return c
}

// retryable retries reads on 429 and 5xx. Uploads are never resent: the
// server may already have started the import when the answer was lost.
func retryable(r *resty.Response, err error) bool {
	if r == nil {
		return false
	}
	if r.Request != nil && r.Request.Method == resty.MethodPost {
		return false
	}
	if err != nil {
		return true
	}
	return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
}

// SubmitImport uploads a donor file and returns the operation id.
func (c *Client) SubmitImport(ctx context.Context, path string) (string, error) {
	var result struct {
		OperationID string `json:"operationId"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&result).
		SetError(&errorBody{}).
		Post("/api/v1/donors/import")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", apiError(resp)
	}
	if result.OperationID == "" {
		return "", fmt.Errorf("server accepted the upload without an operation id")
	}
	return result.OperationID, nil
}

// GetProgress reads one snapshot. An unknown id gives progress.ErrNotFound,
// so the client can be polled with progress.Poll.
func (c *Client) GetProgress(ctx context.Context, id string) (*progress.Operation, error) {
	var op progress.Operation
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&op).
		SetError(&errorBody{}).
		Get("/progress/{id}")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == 404 {
		return nil, progress.ErrNotFound
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &op, nil
}

// Get makes Client a progress.Fetcher.
func (c *Client) Get(ctx context.Context, id string) (*progress.Operation, error) {
	return c.GetProgress(ctx, id)
}

func (c *Client) CancelImport(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetError(&errorBody{}).
		Delete("/progress/{id}")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *resty.Response) error {
	msg := resp.Status()
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		msg = body.Error
		if body.Details != "" {
			msg += ": " + body.Details
		}
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}
