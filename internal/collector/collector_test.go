package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// tuesday and monday are fixed run times for the two window variants.
var (
	tuesday = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	monday  = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
)

// entryHTML renders one search result block followed by its timestamp
// sibling, the structure the collector parses.
func entryHTML(title, href, source, datetime string) string {
	var b strings.Builder
	b.WriteString(`<div class="m5k28">`)
	fmt.Fprintf(&b, `<a class="JtKRv" href="%s">%s</a>`, href, title)
	fmt.Fprintf(&b, `<div class="vr1PYe">%s</div>`, source)
	b.WriteString(`</div><div class="UOVeFe">`)
	if datetime != "" {
		fmt.Fprintf(&b, `<time class="hvbAAd" datetime="%s">recently</time>`, datetime)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// publishedAttr converts an age relative to now into the UTC datetime
// attribute the search source emits.
func publishedAttr(now time.Time, age time.Duration) string {
	return now.Add(-age).Add(-utcOffset).UTC().Format(time.RFC3339)
}

func searchServer(t *testing.T, pages map[string]string, status map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := strings.Fields(r.URL.Query().Get("q"))
		if len(fields) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		term := fields[0]
		if code, ok := status[term]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := pages[term]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	}))
}

func newTestCollector(baseURL string, now time.Time) *Collector {
	return New(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, fixedClock{now: now}, zap.NewNop())
}

func TestCollectFiltersAndDedups(t *testing.T) {
	pages := map[string]string{
		"央行": entryHTML("央行宣布利率決策", "./read/fresh1", "中央社", publishedAttr(tuesday, 2*time.Hour)) +
			entryHTML("舊聞不該出現", "./read/stale", "經濟日報", publishedAttr(tuesday, 50*time.Hour)) +
			entryHTML("央行宣布利率決策", "./read/dup", "工商時報", publishedAttr(tuesday, 3*time.Hour)) +
			entryHTML("央行外匯存底新高", "./read/fresh2", "經濟日報", publishedAttr(tuesday, 4*time.Hour)),
		"元大": entryHTML("央行宣布利率決策", "./read/crossdup", "聯合報", publishedAttr(tuesday, time.Hour)) +
			entryHTML("元大金控股利出爐", "./read/fresh3", "工商時報", publishedAttr(tuesday, 5*time.Hour)),
	}
	srv := searchServer(t, pages, nil)
	defer srv.Close()

	c := newTestCollector(srv.URL, tuesday)
	got, err := c.Collect(context.Background(), []string{"央行", "元大"})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Contains(t, got, "央行_0")
	assert.Contains(t, got, "央行_1")
	assert.Contains(t, got, "元大_0")

	// Ordinals count only kept entries, so the second fresh 央行 item is _1.
	assert.Equal(t, "央行外匯存底新高", got["央行_1"].Title)
	// The cross-term duplicate was dropped, so 元大_0 is the dividend story.
	assert.Equal(t, "元大金控股利出爐", got["元大_0"].Title)

	// Titles are unique across the whole run.
	titles := map[string]int{}
	for _, cand := range got {
		titles[cand.Title]++
	}
	for title, n := range titles {
		assert.Equal(t, 1, n, "duplicate title %s", title)
	}

	// Links resolve to absolute URLs against the search origin.
	assert.Equal(t, srv.URL+"/read/fresh1", got["央行_0"].Link)
	assert.Equal(t, "中央社", got["央行_0"].Source)

	// Recency invariant for a non-Monday run.
	for _, cand := range got {
		assert.LessOrEqual(t, tuesday.Sub(cand.PublishedAt), 24*time.Hour)
	}
}

func TestCollectMondayUsesWiderWindow(t *testing.T) {
	pages := map[string]string{
		"央行": entryHTML("週末的央行新聞", "./read/weekend", "中央社", publishedAttr(monday, 50*time.Hour)),
	}
	srv := searchServer(t, pages, nil)
	defer srv.Close()

	c := newTestCollector(srv.URL, monday)
	got, err := c.Collect(context.Background(), []string{"央行"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "週末的央行新聞", got["央行_0"].Title)
}

func TestCollectSkipsFailedTermWithoutAborting(t *testing.T) {
	pages := map[string]string{
		"金管會": entryHTML("金管會開罰", "./read/fine", "中央社", publishedAttr(tuesday, time.Hour)),
	}
	srv := searchServer(t, pages, map[string]int{"央行": http.StatusInternalServerError})
	defer srv.Close()

	c := newTestCollector(srv.URL, tuesday)
	got, err := c.Collect(context.Background(), []string{"央行", "金管會"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got, "金管會_0")
}

func TestCollectDropsEntriesWithoutTimestamp(t *testing.T) {
	pages := map[string]string{
		"央行": entryHTML("沒有時間的新聞", "./read/notime", "中央社", ""),
	}
	srv := searchServer(t, pages, nil)
	defer srv.Close()

	c := newTestCollector(srv.URL, tuesday)
	got, err := c.Collect(context.Background(), []string{"央行"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchWindowHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, searchDays(monday))
	assert.Equal(t, 1, searchDays(tuesday))
	assert.Equal(t, 72*time.Hour, recencyWindow(monday))
	assert.Equal(t, 24*time.Hour, recencyWindow(tuesday))
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	c := newTestCollector("https://news.google.com", tuesday)
	u := c.searchURL("央行", 1)
	assert.Contains(t, u, "https://news.google.com/search?")
	assert.Contains(t, u, "when%3A1d")
	assert.Contains(t, u, "ceid=TW%3Azh-Hant")
	assert.Contains(t, u, "hl=zh-TW")
	assert.Contains(t, u, "gl=TW")
}
