// Package detector inspects fetched pages for bot-block challenges and for
// client-rendered shells that need a headless render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Config tunes the heuristics. Zero values fall back to defaults.
type Config struct {
	// ThinBytes is the body size below which a script-heavy page counts as thin.
	ThinBytes int
	// MinTextChars is the visible text length below which an SPA shell is thin.
	MinTextChars int
	// ChallengeKeywords are case-insensitive substrings that mark a challenge page.
	ChallengeKeywords []string
	// ChallengeSelectors are CSS selectors that mark a challenge page.
	ChallengeSelectors []string
	// ContentSelectors must all match for a page to count as rendered.
	ContentSelectors []string
}

// Heuristic implements crawler.ChallengeDetector with rule-based checks.
type Heuristic struct {
	thinBytes          int
	minTextChars       int
	keywords           [][]byte
	challengeSelectors []string
	contentSelectors   []string
}

var defaultKeywords = []string{
	"cf-chl-",
	"challenge-platform",
	"checking your browser",
	"attention required",
	"px-captcha",
	"g-recaptcha",
	"h-captcha",
	"are you a robot",
	"unusual traffic",
}

var defaultChallengeSelectors = []string{
	"#challenge-form",
	"#px-captcha",
	"div.g-recaptcha",
	"div.h-captcha",
	`iframe[src*="captcha"]`,
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// New builds a Heuristic from cfg.
func New(cfg Config) *Heuristic {
	if cfg.ThinBytes <= 0 {
		cfg.ThinBytes = 2048
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 200
	}
	if cfg.ChallengeKeywords == nil {
		cfg.ChallengeKeywords = defaultKeywords
	}
	if cfg.ChallengeSelectors == nil {
		cfg.ChallengeSelectors = defaultChallengeSelectors
	}
	keywords := make([][]byte, 0, len(cfg.ChallengeKeywords))
	for _, kw := range cfg.ChallengeKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		keywords = append(keywords, bytes.ToLower([]byte(kw)))
	}
	return &Heuristic{
		thinBytes:          cfg.ThinBytes,
		minTextChars:       cfg.MinTextChars,
		keywords:           keywords,
		challengeSelectors: cfg.ChallengeSelectors,
		contentSelectors:   cfg.ContentSelectors,
	}
}

// Inspect returns the challenge and thin-body signals for resp.
func (h *Heuristic) Inspect(resp crawler.FetchResponse) crawler.Signals {
	if h == nil || resp.StatusCode == http.StatusNoContent {
		return crawler.Signals{}
	}
	body := resp.Body
	blockedStatus := resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && !blockedStatus {
		return crawler.Signals{}
	}

	var doc *goquery.Document
	if len(body) > 0 {
		parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			doc = parsed
		}
	}

	if h.containsKeywords(body) || h.matchesAny(doc, h.challengeSelectors) {
		return crawler.Signals{Challenge: true}
	}
	if !ok {
		return crawler.Signals{}
	}
	return crawler.Signals{ThinBody: h.thin(body, doc)}
}

func (h *Heuristic) thin(body []byte, doc *goquery.Document) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if doc == nil {
		return true
	}
	if len(body) < h.thinBytes && scriptDensityHigh(body) {
		return true
	}
	if hasSPAMarker(body) && len(strings.TrimSpace(doc.Find("body").Text())) < h.minTextChars {
		return true
	}
	for _, sel := range h.contentSelectors {
		if sel != "" && doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}

func (h *Heuristic) containsKeywords(body []byte) bool {
	if len(body) == 0 || len(h.keywords) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, kw := range h.keywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (h *Heuristic) matchesAny(doc *goquery.Document, selectors []string) bool {
	if doc == nil {
		return false
	}
	for _, sel := range selectors {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func hasSPAMarker(body []byte) bool {
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
