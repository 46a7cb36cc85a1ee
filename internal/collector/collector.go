// Package collector gathers news candidates from Google News search pages.
package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/dailyfin/crawler/internal/news"
)

const defaultBaseURL = "https://news.google.com"

// utcOffset converts the search source's UTC timestamps to local time.
const utcOffset = 8 * time.Hour

// Config controls collector behavior.
type Config struct {
	// BaseURL overrides the search origin, primarily for tests.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Collector queries the search source per term and accumulates deduplicated,
// recency-filtered candidates.
type Collector struct {
	cfg    Config
	base   *colly.Collector
	clock  news.Clock
	logger *zap.Logger
}

var _ news.Collector = (*Collector)(nil)

// New builds a Collector.
func New(cfg Config, clock news.Clock, logger *zap.Logger) *Collector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if clock == nil {
		clock = news.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		cfg:    cfg,
		base:   colly.NewCollector(colly.Async(false)),
		clock:  clock,
		logger: logger,
	}
}

// searchDays is the "when:Nd" qualifier: two days on the first day of the
// business week, one otherwise.
func searchDays(now time.Time) int {
	if now.Weekday() == time.Monday {
		return 2
	}
	return 1
}

// recencyWindow mirrors searchDays as a duration, guarding against the
// upstream source returning items outside the requested window.
func recencyWindow(now time.Time) time.Duration {
	if now.Weekday() == time.Monday {
		return 72 * time.Hour
	}
	return 24 * time.Hour
}

// Collect runs one search per term and returns the accumulated candidate map.
// A failed search request skips that term without aborting the batch.
func (c *Collector) Collect(ctx context.Context, terms []string) (map[string]news.Candidate, error) {
	now := c.clock.Now()
	window := recencyWindow(now)
	days := searchDays(now)

	candidates := make(map[string]news.Candidate)
	seenTitles := make(map[string]struct{})

	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if err := c.collectTerm(ctx, term, days, now, window, seenTitles, candidates); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("collect canceled: %w", ctx.Err())
			}
			c.logger.Warn("search request failed, skipping term",
				zap.String("term", term),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("candidate collection finished",
		zap.Int("terms", len(terms)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func (c *Collector) collectTerm(
	ctx context.Context,
	term string,
	days int,
	now time.Time,
	window time.Duration,
	seenTitles map[string]struct{},
	out map[string]news.Candidate,
) error {
	collector := c.base.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	ordinal := 0
	var fetchErr error

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("search returned status %d", r.StatusCode)
			return
		}
		fetchErr = err
	})

	collector.OnHTML(".m5k28", func(e *colly.HTMLElement) {
		candidate, ok := c.parseEntry(e, now, window)
		if !ok {
			return
		}
		if _, dup := seenTitles[candidate.Title]; dup {
			return
		}
		seenTitles[candidate.Title] = struct{}{}
		candidate.Key = fmt.Sprintf("%s_%d", term, ordinal)
		out[candidate.Key] = candidate
		ordinal++
	})

	return c.visit(ctx, collector, c.searchURL(term, days), &fetchErr)
}

// parseEntry extracts one candidate from a search result block. Entries with
// no resolvable publication timestamp, or outside the recency window, are
// dropped.
func (c *Collector) parseEntry(e *colly.HTMLElement, now time.Time, window time.Duration) (news.Candidate, bool) {
	titleLink := e.DOM.Find("a.JtKRv").First()
	title := strings.TrimSpace(titleLink.Text())
	if title == "" {
		return news.Candidate{}, false
	}

	href, ok := titleLink.Attr("href")
	if !ok {
		return news.Candidate{}, false
	}
	link := e.Request.AbsoluteURL(href)

	source := strings.TrimSpace(e.DOM.Find(".vr1PYe").First().Text())
	if source == "" {
		source = "No source"
	}

	publishedAt, ok := entryTimestamp(e.DOM)
	if !ok {
		return news.Candidate{}, false
	}
	if now.Sub(publishedAt) > window {
		return news.Candidate{}, false
	}

	return news.Candidate{
		Title:       title,
		Link:        link,
		Source:      source,
		PublishedAt: publishedAt,
	}, true
}

// entryTimestamp reads the publication time from the entry's sibling block
// and converts it to local time with the fixed UTC offset.
func entryTimestamp(dom *goquery.Selection) (time.Time, bool) {
	attr, ok := dom.Next().Find("time.hvbAAd").First().Attr("datetime")
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, attr)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.Add(utcOffset), true
}

func (c *Collector) searchURL(term string, days int) string {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("%s when:%dd", term, days))
	q.Set("hl", "zh-TW")
	q.Set("gl", "TW")
	q.Set("ceid", "TW:zh-Hant")
	return fmt.Sprintf("%s/search?%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), q.Encode())
}

// visit runs the colly collector, honoring context cancellation. fetchErr
// carries response-level failures captured by the OnError hook.
func (c *Collector) visit(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("search visit canceled: %w", ctx.Err())
	case visitErr := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if visitErr != nil {
			return fmt.Errorf("search visit failed: %w", visitErr)
		}
		return nil
	}
}
