// Package captcha is a client for the CapSolver task API, limited to
// proxyless Turnstile tasks.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tiktokmodcloud/internal/metrics"
)

// DefaultBaseURL is the public CapSolver endpoint.
const DefaultBaseURL = "https://api.capsolver.com"

const turnstileTaskType = "AntiTurnstileTaskProxyLess"

// TaskStatus is the status string reported by getTaskResult.
type TaskStatus string

const (
	StatusIdle       TaskStatus = "idle"
	StatusProcessing TaskStatus = "processing"
	StatusReady      TaskStatus = "ready"
	StatusFailed     TaskStatus = "failed"
)

// Doer sends one HTTP request. *netx.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// PollInterval is the wait before every result poll. Defaults to 1.5s.
	PollInterval time.Duration
	// SolveTimeout bounds polling when positive. Zero polls until a terminal
	// status or context cancellation.
	SolveTimeout time.Duration
}

// Client talks to the captcha service.
type Client struct {
	http         Doer
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	solveTimeout time.Duration
}

// NewClient builds a Client sending requests through doer.
func NewClient(doer Doer, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	return &Client{
		http:         doer,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		pollInterval: cfg.PollInterval,
		solveTimeout: cfg.SolveTimeout,
	}
}

type turnstileTask struct {
	Type       string `json:"type"`
	WebsiteKey string `json:"websiteKey"`
	WebsiteURL string `json:"websiteURL"`
}

type createTaskRequest struct {
	ClientKey string        `json:"clientKey"`
	Task      turnstileTask `json:"task"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type balanceRequest struct {
	ClientKey string `json:"clientKey"`
}

type apiError struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
}

func (e apiError) failed() bool { return e.ErrorID != 0 }

func (e apiError) description() string {
	if e.ErrorDescription == "" {
		return "Unknown error"
	}
	return e.ErrorDescription
}

type createTaskResponse struct {
	apiError
	TaskID string `json:"taskId"`
}

type taskResultResponse struct {
	apiError
	Status   TaskStatus `json:"status"`
	Solution *struct {
		Token string `json:"token"`
	} `json:"solution"`
}

type balanceResponse struct {
	apiError
	Balance *float64 `json:"balance"`
}

// CheckBalance returns the account balance. A balance the service does not
// report is returned as zero.
func (c *Client) CheckBalance(ctx context.Context) (float64, error) {
	b, err := c.balance(ctx)
	if err != nil || b == nil {
		return 0, err
	}
	return *b, nil
}

func (c *Client) balance(ctx context.Context) (*float64, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	var out balanceResponse
	if err := c.post(ctx, "/getBalance", balanceRequest{ClientKey: c.apiKey}, &out); err != nil {
		return nil, err
	}
	if out.failed() {
		return nil, &BalanceError{Description: out.description()}
	}
	return out.Balance, nil
}

// Solve checks the balance, creates a Turnstile task for siteKey on pageURL,
// and polls until the task reaches a terminal status.
func (c *Client) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	bal, err := c.balance(ctx)
	if err != nil {
		return "", err
	}
	if bal != nil {
		slog.Info("Capsolver balance", "balance", *bal)
		if *bal <= 0 {
			return "", ErrInsufficientBalance
		}
	}

	slog.Info("Creating Capsolver task...")
	var created createTaskResponse
	err = c.post(ctx, "/createTask", createTaskRequest{
		ClientKey: c.apiKey,
		Task: turnstileTask{
			Type:       turnstileTaskType,
			WebsiteKey: siteKey,
			WebsiteURL: pageURL,
		},
	}, &created)
	if err != nil {
		return "", err
	}
	if created.failed() {
		metrics.CaptchaTasks.WithLabelValues("create_failed").Inc()
		return "", &TaskCreationError{Description: created.description()}
	}
	if created.TaskID == "" {
		metrics.CaptchaTasks.WithLabelValues("create_failed").Inc()
		return "", &TaskCreationError{Description: "no taskId returned"}
	}
	slog.Info("Task created. Polling for solution...", "task_id", created.TaskID)

	if c.solveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.solveTimeout)
		defer cancel()
	}
	return c.poll(ctx, created.TaskID)
}

func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	start := time.Now()
	req := taskResultRequest{ClientKey: c.apiKey, TaskID: taskID}
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.CaptchaTasks.WithLabelValues("canceled").Inc()
			return "", fmt.Errorf("poll task %s: %w", taskID, ctx.Err())
		case <-timer.C:
		}
		metrics.CaptchaPolls.Inc()

		var res taskResultResponse
		if err := c.post(ctx, "/getTaskResult", req, &res); err != nil {
			return "", err
		}
		if res.failed() {
			metrics.CaptchaTasks.WithLabelValues("error").Inc()
			return "", &TaskResultError{Description: res.description()}
		}

		switch TaskStatus(strings.ToLower(string(res.Status))) {
		case StatusReady:
			if res.Solution == nil || res.Solution.Token == "" {
				metrics.CaptchaTasks.WithLabelValues("error").Inc()
				return "", ErrMissingSolution
			}
			elapsed := time.Since(start)
			metrics.CaptchaTasks.WithLabelValues("ready").Inc()
			metrics.CaptchaSolveDuration.Observe(elapsed.Seconds())
			slog.Debug("Obtained captcha solution", "task_id", taskID, "elapsed_s", fmt.Sprintf("%.2f", elapsed.Seconds()))
			return res.Solution.Token, nil
		case StatusFailed:
			metrics.CaptchaTasks.WithLabelValues("failed").Inc()
			return "", ErrSolveFailed
		case StatusIdle, StatusProcessing, "":
			slog.Debug("Solution is processing...", "task_id", taskID)
		default:
			metrics.CaptchaTasks.WithLabelValues("unknown").Inc()
			return "", &UnknownStatusError{Status: string(res.Status)}
		}
		timer.Reset(c.pollInterval)
	}
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("capsolver %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("capsolver %s: read body: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("capsolver %s: status %d: decode: %w", path, resp.StatusCode, err)
	}
	return nil
}
