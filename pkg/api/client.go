// Package api is the REST client for the intake backend's recording endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testimonial-recorder/dto"
	"testimonial-recorder/service"
)

type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set. A 401 clears it.
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	base *url.URL
	http *http.Client

	mu    sync.RWMutex
	token string
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

type errorBody struct {
	Errors struct {
		Message string `json:"message"`
	} `json:"errors"`
	Message string `json:"message"`
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{base: base, http: httpClient, token: cfg.Token}, nil
}

func (c *Client) recordURL(sessionID string, suffix ...string) string {
	parts := append([]string{"doctors", "record", url.PathEscape(sessionID)}, suffix...)
	return c.base.ResolveReference(&url.URL{Path: strings.Join(parts, "/")}).String()
}

func (c *Client) FetchSession(ctx context.Context, sessionID string) (*dto.SessionMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.recordURL(sessionID), nil)
	if err != nil {
		return nil, err
	}

	var meta dto.SessionMetadata
	if err := c.do(req, &meta); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, errors.Join(service.ErrSessionUnavailable, err)
		}
		return nil, err
	}
	return &meta, nil
}

// CleanupPrevious is idempotent on the server side.
func (c *Client) CleanupPrevious(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.recordURL(sessionID, "cleanup"), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) UploadChunk(ctx context.Context, sessionID string, chunk dto.MediaChunk) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("video", chunk.Filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return err
	}
	fields := map[string]string{
		"filename": chunk.Filename,
		"sequence": strconv.Itoa(chunk.Sequence),
		"isFinal":  strconv.FormatBool(chunk.IsFinal),
	}
	for _, key := range []string{"filename", "sequence", "isFinal"} {
		if err := writer.WriteField(key, fields[key]); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.recordURL(sessionID), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, nil)
}

func (c *Client) Finalize(ctx context.Context, sessionID string, finalize dto.FinalizeRequest) error {
	payload, err := json.Marshal(finalize)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.recordURL(sessionID, "finish"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(req *http.Request, out any) error {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed errorBody
	if json.Unmarshal(raw, &parsed) == nil {
		apiErr.Message = parsed.Errors.Message
		if apiErr.Message == "" {
			apiErr.Message = parsed.Message
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		apiErr.kind = service.ErrUnauthorized
		zerolog.Ctx(req.Context()).Warn().Str("path", req.URL.Path).Msg("backend rejected credentials, token cleared")
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		apiErr.kind = service.ErrRejected
	}
	return apiErr
}
