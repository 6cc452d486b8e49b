package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogger installs the default slog logger.
//
// Without a file, records go to stderr as text. With a file, records are JSON
// and fan out to stderr and a size-rotated file. The returned func closes the
// rotated file.
func SetupLogger(level, file string, stderr io.Writer) (func() error, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	closer := func() error { return nil }
	var handler slog.Handler
	if file == "" {
		handler = slog.NewTextHandler(stderr, opts)
	} else {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    5, // MB
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   true,
		}
		handler = slog.NewJSONHandler(io.MultiWriter(stderr, rotator), opts)
		closer = rotator.Close
	}
	slog.SetDefault(slog.New(handler))
	return closer, nil
}
