// Package headless retrieves rendered article text via headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dailyfin/crawler/internal/news"
)

// Bot-challenge markers: a redirect to the verification path, or a page title
// carrying the verification keyword.
const (
	challengePathMarker  = "sorry"
	challengeTitleMarker = "驗證"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel bounds concurrent rendering sessions; 0 means unbounded.
	MaxParallel int
	UserAgent   string
	NavTimeout  time.Duration
	// SettleDelay pauses after navigation so dynamic content can load.
	SettleDelay time.Duration
	// DomainQPS rate-limits renders per host; 0 disables the limiter.
	DomainQPS float64
}

// Fetcher renders article pages with chromedp and extracts paragraph text.
type Fetcher struct {
	cfg            Config
	limiter        chan struct{}
	allocator      context.Context
	allocCancel    context.CancelFunc
	domainLimiters sync.Map
	logger         *zap.Logger

	// render is swapped out in tests to avoid launching a browser.
	render func(ctx context.Context, link string) (string, error)
}

var _ news.ContentFetcher = (*Fetcher)(nil)

// New creates a headless fetcher backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
	f.render = f.renderArticle
	return f, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// FetchContents renders every item concurrently and returns one string per
// input, in input order. A blocked or failed fetch yields an empty string for
// that item only.
func (f *Fetcher) FetchContents(ctx context.Context, items []news.Classification) ([]string, error) {
	contents := make([]string, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item news.Classification) {
			defer wg.Done()
			contents[i] = f.fetchOne(ctx, item)
		}(i, item)
	}
	wg.Wait()

	return contents, nil
}

// fetchOne owns one rendering session start to finish; every failure path
// collapses to an empty string.
func (f *Fetcher) fetchOne(ctx context.Context, item news.Classification) string {
	if err := f.acquire(ctx); err != nil {
		f.logger.Warn("render slot wait canceled", zap.String("key", item.Key), zap.Error(err))
		return ""
	}
	defer f.release()

	if err := f.waitDomainBudget(ctx, item.Link); err != nil {
		f.logger.Warn("render rate limit", zap.String("key", item.Key), zap.Error(err))
		return ""
	}

	f.logger.Info("fetching article content", zap.String("key", item.Key), zap.String("url", item.Link))
	content, err := f.render(ctx, item.Link)
	if err != nil {
		f.logger.Warn("content fetch failed",
			zap.String("key", item.Key),
			zap.String("url", item.Link),
			zap.Error(err),
		)
		return ""
	}
	return content
}

// renderArticle navigates in a fresh tab, waits for the settle delay, aborts
// on bot-challenge markers, and joins all paragraph texts.
func (f *Fetcher) renderArticle(ctx context.Context, link string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavTimeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	var (
		finalURL string
		title    string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(link),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	if isBotChallenge(finalURL, title) {
		f.logger.Warn("bot challenge detected", zap.String("url", finalURL), zap.String("title", title))
		return "", nil
	}

	var paragraphs []string
	extract := chromedp.Evaluate(
		`Array.from(document.querySelectorAll("p")).map(p => p.innerText)`,
		&paragraphs,
	)
	if err := chromedp.Run(taskCtx, extract); err != nil {
		return "", fmt.Errorf("extract paragraphs: %w", err)
	}
	return strings.Join(paragraphs, "\n"), nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// isBotChallenge recognizes the verification interstitial by its redirect
// path or page title.
func isBotChallenge(finalURL, title string) bool {
	return strings.Contains(finalURL, challengePathMarker) ||
		strings.Contains(title, challengeTitleMarker)
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) waitDomainBudget(ctx context.Context, link string) error {
	if f.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := f.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
