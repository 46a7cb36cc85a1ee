// Package app initializes and holds the long-lived services shared by the
// CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/dailyfin/crawler/internal/config"
	"github.com/dailyfin/crawler/internal/logging"
	"github.com/dailyfin/crawler/internal/news"
	"github.com/dailyfin/crawler/internal/publisher/noop"
	pubsubpub "github.com/dailyfin/crawler/internal/publisher/pubsub"
	"github.com/dailyfin/crawler/internal/storage/blob"
	"github.com/dailyfin/crawler/internal/storage/postgres"
)

// App is the dependency container built once at startup. Services that need
// external connections fail fast here rather than mid-run.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	articleStore *postgres.ArticleStore
	auditStore   news.BlobStore
	publisher    news.Publisher

	gcsClient    *gcstorage.Client
	pubsubClient *pubsub.Client
}

// New loads configuration and constructs every configured provider.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	if err := a.initAuditStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	// The article store is optional: classify-only runs never touch the
	// database. Commands that persist check for it explicitly.
	if cfg.DB.DSN != "" {
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		}, nil)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init article store: %w", err)
		}
		a.articleStore = store
	}

	return a, nil
}

func (a *App) initAuditStore(ctx context.Context) error {
	switch a.cfg.Audit.Provider {
	case "local":
		store, err := blob.NewLocal(blob.LocalConfig{BaseDir: a.cfg.Audit.BaseDir})
		if err != nil {
			return fmt.Errorf("init local audit store: %w", err)
		}
		a.auditStore = store
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := blob.NewGCS(client, blob.GCSConfig{Bucket: a.cfg.Audit.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs audit store: %w", err)
		}
		a.auditStore = store
	case "none":
		a.auditStore = nil
	default:
		return fmt.Errorf("unknown audit provider: %s", a.cfg.Audit.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		pub, err := pubsubpub.New(client, a.cfg.Publisher.TopicName)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.publisher = pub
	case "noop":
		a.publisher = noop.New()
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// ArticleStore returns the Postgres store, or nil when no DSN is configured.
func (a *App) ArticleStore() *postgres.ArticleStore { return a.articleStore }

// AuditStore returns the artifact store, or nil when auditing is off.
func (a *App) AuditStore() news.BlobStore { return a.auditStore }

// Publisher returns the run notification publisher.
func (a *App) Publisher() news.Publisher { return a.publisher }

// Close releases every held connection. Safe on a partially built App.
func (a *App) Close() {
	if a.articleStore != nil {
		a.articleStore.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
