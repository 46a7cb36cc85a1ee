package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dailyfin/crawler/internal/classifier"
	"github.com/dailyfin/crawler/internal/collector"
	"github.com/dailyfin/crawler/internal/fetcher/headless"
	"github.com/dailyfin/crawler/internal/news"
	"github.com/dailyfin/crawler/internal/pipeline"
	"github.com/dailyfin/crawler/internal/targets"
)

func newCrawlCmd() *cobra.Command {
	var (
		modeFlag    string
		targetsPath string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the news ingestion pipeline",
		Long: `Runs the pipeline in one of three modes: "classify" collects and
classifies headlines and writes the audit dump, "save" resumes from a
prior dump and persists article contents, and "all" (the default) does
both in one pass.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, modeFlag, targetsPath)
		},
	}

	cmd.Flags().StringVar(&modeFlag, "mode", string(pipeline.ModeAll), "pipeline mode: classify, save or all")
	cmd.Flags().StringVar(&targetsPath, "targets", "search_targets", "path to the search terms file, one term per line")

	return cmd
}

func runCrawl(cmd *cobra.Command, modeFlag, targetsPath string) error {
	instance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := instance.Config()
	logger := instance.Logger()

	mode, err := pipeline.ParseMode(modeFlag)
	if err != nil {
		return err
	}

	var terms []string
	if mode != pipeline.ModeSave {
		terms, err = targets.Load(targetsPath)
		if err != nil {
			return fmt.Errorf("load search terms: %w", err)
		}
		logger.Info("search terms loaded", zap.Int("count", len(terms)), zap.String("path", targetsPath))
	}

	if mode != pipeline.ModeClassify && instance.ArticleStore() == nil {
		return fmt.Errorf("mode %s requires db.dsn to be configured", mode)
	}

	coll := collector.New(collector.Config{
		UserAgent: cfg.Search.UserAgent,
		Timeout:   cfg.SearchTimeout(),
	}, nil, logger)

	cls, err := classifier.New(classifier.Config{
		Endpoint:     cfg.Classifier.Endpoint,
		Model:        cfg.Classifier.Model,
		APIKey:       cfg.Classifier.APIKey,
		Organization: cfg.Classifier.Organization,
		Concurrency:  cfg.Classifier.Concurrency,
		Timeout:      cfg.ClassifierTimeout(),
		AuditObject:  cfg.Audit.Object,
	}, instance.AuditStore(), logger)
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}

	fetcher, err := headless.New(headless.Config{
		MaxParallel: cfg.Headless.MaxParallel,
		UserAgent:   cfg.Headless.UserAgent,
		NavTimeout:  cfg.NavTimeout(),
		SettleDelay: cfg.SettleDelay(),
		DomainQPS:   cfg.Headless.DomainQPS,
	}, logger)
	if err != nil {
		return fmt.Errorf("init content fetcher: %w", err)
	}
	defer fetcher.Close()

	var store news.ArticleStore
	if instance.ArticleStore() != nil {
		store = instance.ArticleStore()
	}

	driver, err := pipeline.New(coll, cls, fetcher, store, instance.AuditStore(), instance.Publisher(),
		pipeline.Config{
			Mode:        mode,
			AuditObject: cfg.Audit.Object,
			Topic:       cfg.Publisher.TopicName,
		}, logger)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	if err := driver.Run(cmd.Context(), terms); err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}
	return nil
}
