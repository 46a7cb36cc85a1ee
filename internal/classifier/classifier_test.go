package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dailyfin/crawler/internal/news"
)

// memBlob is an in-memory BlobStore for audit dump assertions.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}}
}

func (m *memBlob) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
	return "mem://" + path, nil
}

func (m *memBlob) GetObject(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// verdict is what the fake model answers for a given headline.
type verdict struct {
	category string
	country  string
	finance  string
	remarks  string
	status   int
	garbage  bool
}

func toolCallBody(t *testing.T, v verdict, headline string) []byte {
	t.Helper()
	args, err := json.Marshal(map[string]string{
		"headline": headline,
		"category": v.category,
		"country":  v.country,
		"finance":  v.finance,
		"Remarks":  v.remarks,
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"tool_calls": []map[string]any{{
					"function": map[string]any{
						"name":      toolName,
						"arguments": string(args),
					},
				}},
			},
		}},
	})
	require.NoError(t, err)
	return body
}

// fakeModel serves tool-call responses keyed by the headline found in the
// user message. inFlight/maxInFlight observe the concurrency bound.
func fakeModel(t *testing.T, verdicts map[string]verdict, delay time.Duration, maxInFlight *int64) *httptest.Server {
	t.Helper()
	var inFlight int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&inFlight, 1)
		defer atomic.AddInt64(&inFlight, -1)
		if maxInFlight != nil {
			for {
				prev := atomic.LoadInt64(maxInFlight)
				if cur <= prev || atomic.CompareAndSwapInt64(maxInFlight, prev, cur) {
					break
				}
			}
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		headline := ""
		for _, line := range strings.Split(req.Messages[1].Content, "\n") {
			if after, ok := strings.CutPrefix(line, "新聞標題："); ok {
				headline = after
			}
		}
		v, ok := verdicts[headline]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if v.status != 0 {
			w.WriteHeader(v.status)
			return
		}
		if v.garbage {
			fmt.Fprint(w, `{"choices":[{"message":{"content":"not a tool call"}}]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(toolCallBody(t, v, headline))
	}))
}

func candidateMap(titles ...string) map[string]news.Candidate {
	out := make(map[string]news.Candidate, len(titles))
	for i, title := range titles {
		key := fmt.Sprintf("央行_%d", i)
		out[key] = news.Candidate{
			Key:         key,
			Title:       title,
			Link:        "https://news.google.com/read/" + fmt.Sprint(i),
			Source:      "中央社",
			PublishedAt: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func newTestClassifier(t *testing.T, endpoint string, concurrency int, audit news.BlobStore) *Classifier {
	t.Helper()
	c, err := New(Config{
		Endpoint:    endpoint,
		Model:       "gpt-4o-mini",
		APIKey:      "test-key",
		Concurrency: concurrency,
		AuditObject: "tw_news.json",
	}, audit, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClassifyPartitionsByJurisdictionAndRelevance(t *testing.T) {
	verdicts := map[string]verdict{
		"央行升息":   {category: "政策變動", country: "台灣", finance: "是", remarks: "影響本地金融監理"},
		"Fed決策":  {category: "政策變動", country: "國外", finance: "是", remarks: "影響國際市場"},
		"信用卡優惠":  {category: "生活相關", country: "台灣", finance: "不是", remarks: "行銷活動"},
		"未知分類新聞": {category: "量子金融", country: "台灣", finance: "是", remarks: "分類外"},
	}
	srv := fakeModel(t, verdicts, 0, nil)
	defer srv.Close()

	audit := newMemBlob()
	c := newTestClassifier(t, srv.URL, 5, audit)

	batch, err := c.Classify(context.Background(), candidateMap("央行升息", "Fed決策", "信用卡優惠", "未知分類新聞"))
	require.NoError(t, err)

	require.Len(t, batch.Domestic, 2)
	require.Len(t, batch.Foreign, 1)
	assert.Equal(t, "Fed決策", batch.Foreign[0].Headline)

	for _, cls := range append(batch.Domestic, batch.Foreign...) {
		assert.True(t, cls.FinanceRelevant)
		assert.NotEqual(t, "信用卡優惠", cls.Headline)
	}

	// Unknown category labels collapse to the catch-all.
	for _, cls := range batch.Domestic {
		if cls.Headline == "未知分類新聞" {
			assert.Equal(t, news.CategoryOther, cls.Category)
		}
	}

	// The domestic partition was dumped for audit.
	dump, ok := audit.objects["tw_news.json"]
	require.True(t, ok)
	var dumped []news.Classification
	require.NoError(t, json.Unmarshal(dump, &dumped))
	assert.Len(t, dumped, 2)
}

func TestClassifyDropsFailedItemsWithoutAborting(t *testing.T) {
	verdicts := map[string]verdict{
		"好新聞":   {category: "技術創新", country: "台灣", finance: "是", remarks: "數位化計畫"},
		"伺服器壞掉": {status: http.StatusInternalServerError},
		"格式錯誤":  {garbage: true},
		"怪國家":   {category: "政策變動", country: "火星", finance: "是", remarks: "不可能"},
		"怪旗標":   {category: "政策變動", country: "台灣", finance: "maybe", remarks: "不合法"},
	}
	srv := fakeModel(t, verdicts, 0, nil)
	defer srv.Close()

	c := newTestClassifier(t, srv.URL, 5, newMemBlob())

	batch, err := c.Classify(context.Background(), candidateMap("好新聞", "伺服器壞掉", "格式錯誤", "怪國家", "怪旗標"))
	require.NoError(t, err)

	require.Len(t, batch.Domestic, 1)
	assert.Empty(t, batch.Foreign)
	assert.Equal(t, "好新聞", batch.Domestic[0].Headline)
}

func TestClassifyBoundsConcurrency(t *testing.T) {
	titles := []string{"新聞一", "新聞二", "新聞三", "新聞四", "新聞五", "新聞六"}
	verdicts := map[string]verdict{}
	for _, title := range titles {
		verdicts[title] = verdict{category: "政策變動", country: "台灣", finance: "是", remarks: "測試"}
	}

	var maxInFlight int64
	srv := fakeModel(t, verdicts, 30*time.Millisecond, &maxInFlight)
	defer srv.Close()

	c := newTestClassifier(t, srv.URL, 2, newMemBlob())

	batch, err := c.Classify(context.Background(), candidateMap(titles...))
	require.NoError(t, err)
	assert.Len(t, batch.Domestic, len(titles))
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(2))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: "gpt-4o-mini", APIKey: "k"}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Endpoint: "https://example.com", Model: "gpt-4o-mini"}, nil, nil)
	assert.Error(t, err)
}
