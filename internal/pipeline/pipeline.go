// Package pipeline sequences the collect, classify, fetch and persist stages.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dailyfin/crawler/internal/metrics"
	"github.com/dailyfin/crawler/internal/news"
)

// Mode selects which stages a run executes.
type Mode string

// Run modes. ModeAll runs classification and persistence in one pass,
// ModeClassify stops after the audit dump, ModeSave resumes from it.
const (
	ModeClassify Mode = "classify"
	ModeSave     Mode = "save"
	ModeAll      Mode = "all"
)

// ParseMode validates a mode flag value.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeClassify, ModeSave, ModeAll:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want classify, save or all)", raw)
	}
}

// Config controls one driver instance.
type Config struct {
	Mode Mode
	// AuditObject is the blob path of the domestic-batch dump, read back in
	// save mode.
	AuditObject string
	// Topic receives the run summary. Empty uses the publisher default.
	Topic string
}

// Driver owns one pipeline run end to end.
type Driver struct {
	collector  news.Collector
	classifier news.Classifier
	fetcher    news.ContentFetcher
	store      news.ArticleStore
	blob       news.BlobStore
	publisher  news.Publisher
	cfg        Config
	logger     *zap.Logger
}

// New wires the stage ports into a Driver.
func New(
	collector news.Collector,
	classifier news.Classifier,
	fetcher news.ContentFetcher,
	store news.ArticleStore,
	blob news.BlobStore,
	publisher news.Publisher,
	cfg Config,
	logger *zap.Logger,
) (*Driver, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAll
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.AuditObject == "" {
		cfg.AuditObject = "tw_news.json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		collector:  collector,
		classifier: classifier,
		fetcher:    fetcher,
		store:      store,
		blob:       blob,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Summary is the run report published at the end of every run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Candidates int       `json:"candidates"`
	Domestic   int       `json:"domestic"`
	Foreign    int       `json:"foreign"`
	Fetched    int       `json:"fetched"`
	Persisted  int       `json:"persisted"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Run executes the configured mode over the given search terms. Terms are
// ignored in save mode.
func (d *Driver) Run(ctx context.Context, terms []string) error {
	summary := Summary{
		RunID:     uuid.NewString(),
		Mode:      string(d.cfg.Mode),
		Status:    "succeeded",
		StartedAt: time.Now(),
	}
	logger := d.logger.With(zap.String("run_id", summary.RunID), zap.String("mode", summary.Mode))
	logger.Info("pipeline run starting", zap.Int("terms", len(terms)))

	err := d.execute(ctx, logger, terms, &summary)
	summary.DurationMS = time.Since(summary.StartedAt).Milliseconds()
	if err != nil {
		summary.Status = "failed"
		summary.Error = err.Error()
		logger.Error("pipeline run failed", zap.Error(err))
	} else {
		logger.Info("pipeline run finished",
			zap.Int("candidates", summary.Candidates),
			zap.Int("domestic", summary.Domestic),
			zap.Int("foreign", summary.Foreign),
			zap.Int("persisted", summary.Persisted),
		)
	}
	metrics.ObserveRun(summary.Mode, summary.Status)
	d.publishSummary(ctx, logger, summary)
	return err
}

func (d *Driver) execute(ctx context.Context, logger *zap.Logger, terms []string, summary *Summary) error {
	var domestic []news.Classification

	switch d.cfg.Mode {
	case ModeSave:
		loaded, err := d.loadAudit(ctx)
		if err != nil {
			return err
		}
		domestic = loaded
		summary.Domestic = len(domestic)
	default:
		batch, err := d.classifyStage(ctx, logger, terms, summary)
		if err != nil {
			return err
		}
		if d.cfg.Mode == ModeClassify {
			return nil
		}
		domestic = batch.Domestic
	}

	if len(domestic) == 0 {
		logger.Warn("no domestic finance news to save, skipping fetch and store")
		return nil
	}
	return d.saveStage(ctx, logger, domestic, summary)
}

// classifyStage collects candidates and partitions them through the model.
func (d *Driver) classifyStage(ctx context.Context, logger *zap.Logger, terms []string, summary *Summary) (news.ClassifiedBatch, error) {
	start := time.Now()
	candidates, err := d.collector.Collect(ctx, terms)
	metrics.ObserveStage("collect", time.Since(start))
	if err != nil {
		return news.ClassifiedBatch{}, fmt.Errorf("collect candidates: %w", err)
	}
	summary.Candidates = len(candidates)
	for term, count := range countByTerm(candidates) {
		metrics.ObserveCandidates(term, count)
	}
	logger.Info("candidates collected", zap.Int("count", len(candidates)))
	if len(candidates) == 0 {
		logger.Warn("no candidates collected")
		return news.ClassifiedBatch{}, nil
	}

	start = time.Now()
	batch, err := d.classifier.Classify(ctx, candidates)
	metrics.ObserveStage("classify", time.Since(start))
	if err != nil {
		return news.ClassifiedBatch{}, fmt.Errorf("classify candidates: %w", err)
	}
	summary.Domestic = len(batch.Domestic)
	summary.Foreign = len(batch.Foreign)
	metrics.ObserveClassifications("domestic", len(batch.Domestic))
	metrics.ObserveClassifications("foreign", len(batch.Foreign))
	kept := len(batch.Domestic) + len(batch.Foreign)
	metrics.ObserveClassifications("irrelevant", len(candidates)-kept)
	return batch, nil
}

// saveStage fetches article contents for the storable subset and persists the
// batch.
func (d *Driver) saveStage(ctx context.Context, logger *zap.Logger, domestic []news.Classification, summary *Summary) error {
	items := news.Fetchable(domestic)
	if dropped := len(domestic) - len(items); dropped > 0 {
		logger.Info("excluded items skipped before fetch", zap.Int("count", dropped))
	}
	if len(items) == 0 {
		logger.Warn("nothing fetchable in domestic batch, skipping store")
		return nil
	}

	start := time.Now()
	contents, err := d.fetcher.FetchContents(ctx, items)
	metrics.ObserveStage("fetch", time.Since(start))
	if err != nil {
		return fmt.Errorf("fetch contents: %w", err)
	}
	if len(contents) != len(items) {
		return fmt.Errorf("fetch contents: got %d contents for %d items", len(contents), len(items))
	}

	articles := make([]news.FetchedArticle, len(items))
	for i, item := range items {
		articles[i] = news.FetchedArticle{Classification: item, Content: contents[i]}
		result := "ok"
		if contents[i] == "" {
			result = "empty"
		}
		metrics.ObserveContentFetch(result)
	}
	summary.Fetched = len(articles)

	start = time.Now()
	err = d.store.Persist(ctx, articles)
	metrics.ObserveStage("persist", time.Since(start))
	if err != nil {
		return fmt.Errorf("persist articles: %w", err)
	}
	summary.Persisted = len(articles)
	metrics.ObserveArticlesPersisted(len(articles))
	return nil
}

// loadAudit reads the domestic batch dumped by a prior classify run.
func (d *Driver) loadAudit(ctx context.Context) ([]news.Classification, error) {
	if d.blob == nil {
		return nil, fmt.Errorf("save mode requires an audit store")
	}
	r, err := d.blob.GetObject(ctx, d.cfg.AuditObject)
	if err != nil {
		return nil, fmt.Errorf("open audit dump %q: %w", d.cfg.AuditObject, err)
	}
	defer r.Close()

	var domestic []news.Classification
	if err := json.NewDecoder(r).Decode(&domestic); err != nil {
		return nil, fmt.Errorf("decode audit dump %q: %w", d.cfg.AuditObject, err)
	}
	return domestic, nil
}

func (d *Driver) publishSummary(ctx context.Context, logger *zap.Logger, summary Summary) {
	if d.publisher == nil {
		return
	}
	id, err := d.publisher.Publish(ctx, d.cfg.Topic, summary)
	if err != nil {
		logger.Warn("run summary publish failed", zap.Error(err))
		return
	}
	if id != "" {
		logger.Debug("run summary published", zap.String("message_id", id))
	}
}

// countByTerm tallies candidates per search term from their "{term}_{n}" keys.
func countByTerm(candidates map[string]news.Candidate) map[string]int {
	counts := make(map[string]int)
	for key := range candidates {
		term := key
		if i := strings.LastIndex(key, "_"); i > 0 {
			term = key[:i]
		}
		counts[term]++
	}
	return counts
}
