package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var outputMu sync.Mutex

// Logger writes human-readable status messages to stdout/stderr.
//
// Quiet suppresses everything but Error so stdout can carry JSON only.
type Logger struct {
	Quiet bool
	Out   io.Writer
	Err   io.Writer
}

// Info prints an informational message.
func (l Logger) Info(msg string) {
	l.status("[INFO]", msg)
}

// Warn prints a warning message.
func (l Logger) Warn(msg string) {
	l.status("[WARN]", msg)
}

// Error prints an error message.
func (l Logger) Error(msg string) {
	writeLog(l.errOut(), "[ERROR]", msg)
}

// Success prints a success message.
func (l Logger) Success(msg string) {
	l.status("[OK]", msg)
}

// Failure prints a failed-operation message.
func (l Logger) Failure(msg string) {
	l.status("[FAIL]", msg)
}

func (l Logger) status(level, msg string) {
	if l.Quiet {
		return
	}
	writeLog(l.out(), level, msg)
}

func (l Logger) out() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return os.Stdout
}

func (l Logger) errOut() io.Writer {
	if l.Err != nil {
		return l.Err
	}
	return os.Stderr
}

func writeLog(stream io.Writer, level, msg string) {
	outputMu.Lock()
	defer outputMu.Unlock()
	fmt.Fprintln(stream, level, msg)
}
