// Package api talks to the voice-chat backend's REST collaborators: the
// character catalog, the block check, feedback retrieval, and
// pre-registration submission.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client represents a client.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient executes the newClient function.
func NewClient(baseURL string, accessToken string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

// Characters fetches the character catalog.
func (c *Client) Characters(ctx context.Context) ([]Character, error) {
	var characters []Character
	if err := c.getJSON(ctx, "/api/characters", &characters); err != nil {
		return nil, err
	}
	return characters, nil
}

// CheckBlock asks whether the visitor identified by fingerprint and userIP
// has already used up the service.
func (c *Client) CheckBlock(ctx context.Context, fp string, userIP string) (BlockCheckResult, error) {
	payload := map[string]string{
		"fingerprint": fp,
		"user_ip":     userIP,
	}
	var result BlockCheckResult
	if err := c.postJSON(ctx, "/api/check-block", payload, &result); err != nil {
		return BlockCheckResult{}, err
	}
	return result, nil
}

// Feedback fetches the post-session report for a completed session.
func (c *Client) Feedback(ctx context.Context, sessionID string) (FeedbackReport, error) {
	if strings.TrimSpace(sessionID) == "" {
		return FeedbackReport{}, fmt.Errorf("session id is empty")
	}
	var report FeedbackReport
	if err := c.getJSON(ctx, "/api/feedback/"+sessionID, &report); err != nil {
		return FeedbackReport{}, err
	}
	return report, nil
}

// PreRegister submits lead-registration data for a completed session.
func (c *Client) PreRegister(ctx context.Context, reg PreRegistration) (PreRegistrationResult, error) {
	var result PreRegistrationResult
	if err := c.postJSON(ctx, "/api/pre-registration", reg, &result); err != nil {
		return PreRegistrationResult{}, err
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("backend api base url is empty")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend api call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := readErrorDetail(resp.Body)
		return fmt.Errorf("%s %s: backend returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func readErrorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(data))
}
