package extract

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeUploadDate(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 5, 0, 0, time.Local)
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-01 10:00", "2024-03-01 10:00"},
		{"  2023-12-31 23:59 ", "2023-12-31 23:59"},
		{"5 minutes ago", "2024-03-01 10:00"},
		{"1 minute ago", "2024-03-01 10:04"},
		{"30 seconds ago", "2024-03-01 10:04"},
		{"2 hours ago", "2024-03-01 08:05"},
		{"1 day ago", "2024-02-29 10:05"},
		{"1 week ago", "2024-02-23 10:05"},
		{"1 month ago", "2024-01-31 10:05"},
		{"1 year ago", "2023-03-02 10:05"},
		{"Uploaded 3 Days ago", "2024-02-27 10:05"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeUploadDate(tt.in, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("want %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNormalizeUploadDateUnrecognized(t *testing.T) {
	for _, in := range []string{"yesterday-ish", "", "2024/03/01 10:00", "minutes ago", "300 years ago", "99999999999999999999 seconds ago"} {
		if _, err := NormalizeUploadDate(in, time.Now()); !errors.Is(err, ErrUnrecognizedDateFormat) {
			t.Fatalf("%q: want ErrUnrecognizedDateFormat, got %v", in, err)
		}
	}
}
