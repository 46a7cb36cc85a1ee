package news

import (
	"context"
	"io"
	"time"
)

// Collector gathers candidates for an ordered sequence of search terms.
type Collector interface {
	Collect(ctx context.Context, terms []string) (map[string]Candidate, error)
}

// Classifier partitions candidates into the finance-relevant batches.
type Classifier interface {
	Classify(ctx context.Context, candidates map[string]Candidate) (ClassifiedBatch, error)
}

// ContentFetcher retrieves rendered article text. The returned slice has one
// entry per input item, in input order; failed fetches yield empty strings.
type ContentFetcher interface {
	FetchContents(ctx context.Context, items []Classification) ([]string, error)
}

// ArticleStore persists a fetched batch atomically with day-scoped ids.
type ArticleStore interface {
	Persist(ctx context.Context, items []FetchedArticle) error
}

// BlobStore reads and writes auxiliary artifacts (audit dumps). PutObject
// returns the URI of the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher emits run-completion notifications. Implementations may be no-ops.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for the recency window and id assignment.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }
