package util

import (
	"net/url"
	"path"
	"strings"
)

// DeriveFileName picks the on-disk name for a download.
//
// The bound file id wins when set. Otherwise the last path segment of finalURL
// is used with its query string dropped. Both candidates pass through
// SanitizeFileNamePart.
func DeriveFileName(fileID, finalURL string) string {
	if id := strings.TrimSpace(fileID); id != "" {
		return SanitizeFileNamePart(id)
	}
	return SanitizeFileNamePart(LastPathSegment(finalURL))
}

// LastPathSegment returns the final "/"-separated segment of raw without query
// or fragment. Unparseable input falls back to plain string splitting.
func LastPathSegment(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		seg := path.Base(u.Path)
		if seg == "/" || seg == "." {
			return ""
		}
		return seg
	}
	s := raw
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// SanitizeFileNamePart removes characters invalid on common filesystems,
// collapses repeated separators/whitespace, and returns "download" for empty
// results.
func SanitizeFileNamePart(value string) string {
	replacer := strings.NewReplacer(
		"\\", "_",
		"/", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	s := replacer.Replace(value)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "download"
	}
	return s
}
