package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeService struct {
	balance string
	create  string
	results []string
	polls   int32
	creates int32

	mu       sync.Mutex
	lastTask map[string]any
}

func (f *fakeService) task() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTask
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/getBalance", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["clientKey"] != "key-1" {
			t.Errorf("unexpected clientKey: %v", body["clientKey"])
		}
		_, _ = io.WriteString(w, f.balance)
	})
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.creates, 1)
		var body struct {
			ClientKey string         `json:"clientKey"`
			Task      map[string]any `json:"task"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastTask = body.Task
		f.mu.Unlock()
		_, _ = io.WriteString(w, f.create)
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["taskId"] != "task-1" {
			t.Errorf("unexpected taskId: %v", body["taskId"])
		}
		n := int(atomic.AddInt32(&f.polls, 1)) - 1
		if n >= len(f.results) {
			n = len(f.results) - 1
		}
		_, _ = io.WriteString(w, f.results[n])
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeService, cfg Config) *Client {
	t.Helper()
	s := httptest.NewServer(f.handler(t))
	t.Cleanup(s.Close)
	cfg.BaseURL = s.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "key-1"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	return NewClient(s.Client(), cfg)
}

func okService() *fakeService {
	return &fakeService{
		balance: `{"errorId":0,"balance":5.25}`,
		create:  `{"errorId":0,"taskId":"task-1"}`,
		results: []string{
			`{"errorId":0,"status":"idle"}`,
			`{"errorId":0}`,
			`{"errorId":0,"status":"processing"}`,
			`{"errorId":0,"status":"ready","solution":{"token":"tok_ABC"}}`,
		},
	}
}

func TestSolveSuccess(t *testing.T) {
	f := okService()
	c := newTestClient(t, f, Config{})
	token, err := c.Solve(context.Background(), "0x4AAA", "https://modsfire.com/abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "tok_ABC" {
		t.Fatalf("want tok_ABC, got %s", token)
	}
	if got := atomic.LoadInt32(&f.polls); got != 4 {
		t.Fatalf("want 4 polls, got %d", got)
	}
	task := f.task()
	if task["type"] != "AntiTurnstileTaskProxyLess" || task["websiteKey"] != "0x4AAA" || task["websiteURL"] != "https://modsfire.com/abc" {
		t.Fatalf("unexpected task payload: %v", task)
	}
}

func TestSolveBalanceErrors(t *testing.T) {
	t.Run("service error", func(t *testing.T) {
		f := okService()
		f.balance = `{"errorId":1,"errorDescription":"ERROR_KEY_DOES_NOT_EXIST"}`
		_, err := newTestClient(t, f, Config{}).Solve(context.Background(), "k", "u")
		var be *BalanceError
		if !errors.As(err, &be) || be.Description != "ERROR_KEY_DOES_NOT_EXIST" {
			t.Fatalf("want BalanceError, got %v", err)
		}
		if atomic.LoadInt32(&f.creates) != 0 {
			t.Fatal("task must not be created")
		}
	})
	t.Run("empty account", func(t *testing.T) {
		f := okService()
		f.balance = `{"errorId":0,"balance":0}`
		_, err := newTestClient(t, f, Config{}).Solve(context.Background(), "k", "u")
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("want ErrInsufficientBalance, got %v", err)
		}
		if atomic.LoadInt32(&f.creates) != 0 {
			t.Fatal("task must not be created")
		}
	})
	t.Run("unreported balance proceeds", func(t *testing.T) {
		f := okService()
		f.balance = `{"errorId":0}`
		if _, err := newTestClient(t, f, Config{}).Solve(context.Background(), "k", "u"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSolveTaskCreationErrors(t *testing.T) {
	for name, body := range map[string]string{
		"service error": `{"errorId":1,"errorDescription":"ERROR_INVALID_TASK_DATA"}`,
		"no task id":    `{"errorId":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := okService()
			f.create = body
			_, err := newTestClient(t, f, Config{}).Solve(context.Background(), "k", "u")
			var ce *TaskCreationError
			if !errors.As(err, &ce) {
				t.Fatalf("want TaskCreationError, got %v", err)
			}
			if atomic.LoadInt32(&f.polls) != 0 {
				t.Fatal("must not poll")
			}
		})
	}
}

func TestSolveTerminalPollErrors(t *testing.T) {
	tests := []struct {
		name   string
		result string
		check  func(error) bool
	}{
		{"result error", `{"errorId":1,"errorDescription":"ERROR_TASKID_INVALID"}`, func(err error) bool {
			var re *TaskResultError
			return errors.As(err, &re) && re.Description == "ERROR_TASKID_INVALID"
		}},
		{"failed", `{"errorId":0,"status":"failed"}`, func(err error) bool { return errors.Is(err, ErrSolveFailed) }},
		{"ready without solution", `{"errorId":0,"status":"ready"}`, func(err error) bool { return errors.Is(err, ErrMissingSolution) }},
		{"unknown status", `{"errorId":0,"status":"weird"}`, func(err error) bool {
			var ue *UnknownStatusError
			return errors.As(err, &ue) && ue.Status == "weird"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := okService()
			f.results = []string{`{"errorId":0,"status":"processing"}`, tt.result}
			_, err := newTestClient(t, f, Config{}).Solve(context.Background(), "k", "u")
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := atomic.LoadInt32(&f.polls); got != 2 {
				t.Fatalf("want 2 polls, got %d", got)
			}
		})
	}
}

func TestSolveTimeout(t *testing.T) {
	f := okService()
	f.results = []string{`{"errorId":0,"status":"processing"}`}
	c := newTestClient(t, f, Config{SolveTimeout: 30 * time.Millisecond})
	_, err := c.Solve(context.Background(), "k", "u")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestSolveMissingAPIKey(t *testing.T) {
	c := NewClient(http.DefaultClient, Config{APIKey: "  "})
	if _, err := c.Solve(context.Background(), "k", "u"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("want ErrMissingAPIKey, got %v", err)
	}
}

func TestCheckBalance(t *testing.T) {
	got, err := newTestClient(t, okService(), Config{}).CheckBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5.25 {
		t.Fatalf("want 5.25, got %v", got)
	}
}

func TestPostDecodeError(t *testing.T) {
	f := okService()
	f.balance = `<html>bad gateway</html>`
	if _, err := newTestClient(t, f, Config{}).CheckBalance(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
