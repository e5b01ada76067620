// Package tracker moves an issue to the status matching a validation result,
// using the Jira REST transitions API.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Statuses applied after a run.
const (
	StatusPassed = "Passed"
	StatusFailed = "Failed"
)

// ErrNoTransition means the issue's workflow offers no transition with the
// requested name.
var ErrNoTransition = errors.New("no matching transition")

type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	User              string        `mapstructure:"user"`
	Token             string        `mapstructure:"token"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a tracker endpoint is configured.
func (c Config) Enabled() bool { return c.BaseURL != "" }

// Updater is what a run needs from an issue tracker.
type Updater interface {
	Transition(ctx context.Context, issueKey, status string) error
}

// Client is a rate limited Jira client using basic auth.
type Client struct {
	baseURL    string
	user       string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		user:       cfg.User,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:     logger,
	}
}

type transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transition applies the transition named status (case-insensitive) to the
// issue.
func (c *Client) Transition(ctx context.Context, issueKey, status string) error {
	if issueKey == "" {
		return errors.New("issue key is required")
	}
	path := "/rest/api/2/issue/" + url.PathEscape(issueKey) + "/transitions"

	var list struct {
		Transitions []transition `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return fmt.Errorf("list transitions of %s: %w", issueKey, err)
	}

	var match *transition
	for i := range list.Transitions {
		if strings.EqualFold(list.Transitions[i].Name, status) {
			match = &list.Transitions[i]
			break
		}
	}
	if match == nil {
		return fmt.Errorf("%w: %q on %s", ErrNoTransition, status, issueKey)
	}

	body := map[string]any{"transition": map[string]string{"id": match.ID}}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("transition %s to %s: %w", issueKey, status, err)
	}
	c.logger.Info("issue transitioned",
		zap.String("issue", issueKey),
		zap.String("status", status),
		zap.String("transition_id", match.ID))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusFor maps a run result to the tracker status.
func StatusFor(passed bool) string {
	if passed {
		return StatusPassed
	}
	return StatusFailed
}
