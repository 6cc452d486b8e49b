package captcha

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey is returned when no service key is configured.
	ErrMissingAPIKey = errors.New("CAPSOLVER_KEY is not set")
	// ErrInsufficientBalance is returned when the account reports no funds.
	ErrInsufficientBalance = errors.New("captcha service balance is exhausted")
	// ErrMissingSolution is returned for a ready task without a token.
	ErrMissingSolution = errors.New("no solution in ready response")
	// ErrSolveFailed is returned when the service marks a task failed.
	ErrSolveFailed = errors.New("failed to solve captcha")
)

// BalanceError carries the service description of a failed balance query.
type BalanceError struct{ Description string }

func (e *BalanceError) Error() string {
	return fmt.Sprintf("failed to get balance: %s", e.Description)
}

// TaskCreationError carries the service description of a rejected task.
type TaskCreationError struct{ Description string }

func (e *TaskCreationError) Error() string {
	return fmt.Sprintf("failed to create task: %s", e.Description)
}

// TaskResultError carries the service description of a failed result query.
type TaskResultError struct{ Description string }

func (e *TaskResultError) Error() string {
	return fmt.Sprintf("failed to get task result: %s", e.Description)
}

// UnknownStatusError reports a task status this client does not know.
type UnknownStatusError struct{ Status string }

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown task status: %s", e.Status)
}
