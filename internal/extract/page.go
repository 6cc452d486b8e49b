// Package extract pulls the verification inputs out of a file page.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// PageData holds the values the verification step needs from a file page.
type PageData struct {
	CSRFToken string
	FileID    string
	// UploadDate is normalized to "YYYY-MM-DD HH:MM" and empty when the page
	// does not show one.
	UploadDate string
	SiteKey    string
}

// Field names a value on the file page.
type Field string

const (
	FieldCSRFToken  Field = "csrf_token"
	FieldFileID     Field = "file_id"
	FieldSiteKey    Field = "sitekey"
	FieldUploadDate Field = "file_upload_date"
)

// ExtractionError reports a page value that could not be extracted.
type ExtractionError struct {
	Field Field
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("extract %s: not found", e.Field)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor parses a file page.
type Extractor interface {
	Extract(html string) (PageData, error)
}

// Strategy names accepted by New.
const (
	StrategyStructural = "structural"
	StrategyRegex      = "regex"
	StrategyAuto       = "auto"
)

// New returns the extractor for strategy. "auto" (and the empty string) tries
// the structural parser first and falls back to the regex parser.
func New(strategy string, now func() time.Time) (Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case StrategyStructural:
		return Structural{Now: now}, nil
	case StrategyRegex:
		return Regex{Now: now}, nil
	case StrategyAuto, "":
		return Fallback{Primary: Structural{Now: now}, Secondary: Regex{Now: now}}, nil
	default:
		return nil, fmt.Errorf("unknown extractor strategy: %s", strategy)
	}
}

// Structural extracts page data with CSS selectors.
type Structural struct {
	// Now anchors relative upload dates. Nil uses time.Now.
	Now func() time.Time
}

func (s Structural) Extract(html string) (PageData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageData{}, fmt.Errorf("parse page: %w", err)
	}
	var d PageData
	if d.CSRFToken = attrOf(doc.Find(`input[name="_token"]`), "value"); d.CSRFToken == "" {
		return PageData{}, &ExtractionError{Field: FieldCSRFToken}
	}
	if d.FileID = attrOf(doc.Find(`input#file_id`), "value"); d.FileID == "" {
		return PageData{}, &ExtractionError{Field: FieldFileID}
	}
	if d.SiteKey = attrOf(doc.Find(`.cf-turnstile[data-sitekey]`), "data-sitekey"); d.SiteKey == "" {
		return PageData{}, &ExtractionError{Field: FieldSiteKey}
	}

	label := doc.Find(`[data-bs-original-title="File upload date"]`).First()
	if label.Length() == 0 {
		return d, nil
	}
	p := label.Find("p").First()
	if p.Length() == 0 {
		p = label.NextAllFiltered("p").First()
	}
	if p.Length() == 0 {
		p = label.Parent().Find("p").First()
	}
	if p.Length() == 0 {
		return d, nil
	}
	if d.UploadDate, err = NormalizeUploadDate(p.Text(), nowOr(s.Now)); err != nil {
		return PageData{}, &ExtractionError{Field: FieldUploadDate, Err: err}
	}
	return d, nil
}

var (
	csrfPattern       = regexp.MustCompile(`<input[^>]+name="_token"[^>]+value="([^"]+)"`)
	fileIDPattern     = regexp.MustCompile(`<input[^>]+id="file_id"[^>]+value="([^"]+)"`)
	siteKeyPattern    = regexp.MustCompile(`class="cf-turnstile"[^>]+data-sitekey="([^"]+)"`)
	uploadDatePattern = regexp.MustCompile(`(?s)data-bs-original-title="File upload date".*?<p>\s*(.*?)\s*</p>`)
)

// Regex extracts page data with fixed patterns. It depends on attribute
// order and exact quoting, so prefer Structural.
type Regex struct {
	Now func() time.Time
}

func (r Regex) Extract(html string) (PageData, error) {
	var d PageData
	if d.CSRFToken = firstGroup(csrfPattern, html); d.CSRFToken == "" {
		return PageData{}, &ExtractionError{Field: FieldCSRFToken}
	}
	if d.FileID = firstGroup(fileIDPattern, html); d.FileID == "" {
		return PageData{}, &ExtractionError{Field: FieldFileID}
	}
	if d.SiteKey = firstGroup(siteKeyPattern, html); d.SiteKey == "" {
		return PageData{}, &ExtractionError{Field: FieldSiteKey}
	}
	m := uploadDatePattern.FindStringSubmatch(html)
	if m == nil {
		return d, nil
	}
	date, err := NormalizeUploadDate(m[1], nowOr(r.Now))
	if err != nil {
		return PageData{}, &ExtractionError{Field: FieldUploadDate, Err: err}
	}
	d.UploadDate = date
	return d, nil
}

// Fallback runs Primary and, if it fails, Secondary. When both fail the two
// errors are joined with Primary's first.
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
}

func (f Fallback) Extract(html string) (PageData, error) {
	d, err := f.Primary.Extract(html)
	if err == nil {
		return d, nil
	}
	if f.Secondary == nil {
		return PageData{}, err
	}
	d, err2 := f.Secondary.Extract(html)
	if err2 != nil {
		return PageData{}, errors.Join(err, err2)
	}
	return d, nil
}

func attrOf(sel *goquery.Selection, name string) string {
	v, _ := sel.First().Attr(name)
	return strings.TrimSpace(v)
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func nowOr(fn func() time.Time) time.Time {
	if fn == nil {
		return time.Now()
	}
	return fn()
}
