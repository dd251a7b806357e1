// Package backend talks to the remote phishing analysis service
package backend

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

	"github.com/ajramos/mailguard/internal/analysis"
)

// StatusError is a non-2xx response with its body
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
}

// Client represents a client for the analysis service
type Client struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration
	HTTPClient    *http.Client
}

// NewClient creates a new analysis service client
func NewClient(baseURL string, timeout, healthTimeout time.Duration) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Timeout:       timeout,
		HealthTimeout: healthTimeout,
		HTTPClient:    &http.Client{},
	}
}

// AnalyzeRequest is the body of POST analyze/text
type AnalyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// AnalyzeText submits text for analysis with the given bearer token
func (c *Client) AnalyzeText(ctx context.Context, token, text, language string) (*analysis.Result, error) {
	if language == "" {
		language = "en"
	}
	data, err := json.Marshal(AnalyzeRequest{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	var result analysis.Result
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+token)
	if err := c.do(ctx, c.Timeout, "analyze", http.MethodPost, "/analyze/text", header, data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Translations fetches the localized strings for language
func (c *Client) Translations(ctx context.Context, language string) (map[string]string, error) {
	if language == "" {
		language = "en"
	}
	out := map[string]string{}
	if err := c.do(ctx, c.Timeout, "translations", http.MethodGet, "/translations/"+url.PathEscape(language), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the service health document
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, c.HealthTimeout, "health", http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, op, method, path string, header http.Header, body []byte, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
