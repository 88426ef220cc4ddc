package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

func page(status int, body string) crawler.FetchResponse {
	return crawler.FetchResponse{StatusCode: status, Body: []byte(body)}
}

func article() string {
	return "<html><body><main><article>" + strings.Repeat("<p>Plenty of server rendered prose here.</p>", 40) + "</article></main></body></html>"
}

func TestInspect(t *testing.T) {
	t.Parallel()

	h := New(Config{})
	cases := []struct {
		name string
		resp crawler.FetchResponse
		want crawler.Signals
	}{
		{"empty body", page(200, ""), crawler.Signals{ThinBody: true}},
		{"full article", page(200, article()), crawler.Signals{}},
		{"spa shell", page(200, `<html><body><div id="__next"></div><script src="/app.js"></script></body></html>`), crawler.Signals{ThinBody: true}},
		{"script heavy", page(200, `<html><script>var a=1;</script><p>t</p></html>`), crawler.Signals{ThinBody: true}},
		{"cloudflare interstitial", page(403, `<html><body><form id="challenge-form"></form></body></html>`), crawler.Signals{Challenge: true}},
		{"captcha on 200", page(200, `<html><body><div class="g-recaptcha"></div>`+article()+`</body></html>`), crawler.Signals{Challenge: true}},
		{"keyword match", page(503, "Checking your browser before accessing"), crawler.Signals{Challenge: true}},
		{"plain 404", page(404, "not found"), crawler.Signals{}},
		{"plain 503", page(503, "maintenance"), crawler.Signals{}},
		{"no content", page(204, ""), crawler.Signals{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.Inspect(tc.resp))
		})
	}
}

func TestInspectContentSelectors(t *testing.T) {
	t.Parallel()

	h := New(Config{ContentSelectors: []string{"article", ".price"}})
	require.True(t, h.Inspect(page(200, article())).ThinBody)

	withPrice := strings.Replace(article(), "<article>", `<article><span class="price">$4</span>`, 1)
	require.False(t, h.Inspect(page(200, withPrice)).ThinBody)
}

func TestCustomKeywords(t *testing.T) {
	t.Parallel()

	h := New(Config{ChallengeKeywords: []string{"  ", "Blocked By WAF"}, ChallengeSelectors: []string{}})
	require.True(t, h.Inspect(page(200, "request blocked by waf")).Challenge)
	require.False(t, h.Inspect(page(200, `<div id="challenge-form"></div>`+article())).Challenge)
}

func TestNilHeuristic(t *testing.T) {
	t.Parallel()

	var h *Heuristic
	require.Equal(t, crawler.Signals{}, h.Inspect(page(200, "")))
}

func TestScriptDensity(t *testing.T) {
	t.Parallel()

	require.False(t, scriptDensityHigh(nil))
	require.True(t, scriptDensityHigh([]byte("<script>unterminated")))
	require.False(t, scriptDensityHigh([]byte(article())))
}
