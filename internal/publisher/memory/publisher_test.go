package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailyfin/crawler/internal/publisher/memory"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := memory.New()

	id, err := p.Publish(context.Background(), "runs", map[string]string{"status": "succeeded"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	id, err = p.Publish(context.Background(), "runs", map[string]string{"status": "failed"})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "runs", msgs[0].Topic)
}
