// Package noop provides a publisher that discards every message.
package noop

import (
	"context"

	"github.com/dailyfin/crawler/internal/news"
)

// Publisher drops all payloads. It is the default when no broker is
// configured.
type Publisher struct{}

var _ news.Publisher = Publisher{}

// New returns a discarding Publisher.
func New() Publisher { return Publisher{} }

// Publish ignores the payload and reports an empty message id.
func (Publisher) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
