// Package classifier submits candidate headlines to an OpenAI-compatible
// chat-completions service and partitions the verdicts by jurisdiction.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dailyfin/crawler/internal/news"
)

// auditContentType is the MIME type of the domestic-batch audit dump.
const auditContentType = "application/json"

// Config controls the classification client.
type Config struct {
	Endpoint     string
	Model        string
	APIKey       string
	Organization string
	// Concurrency bounds simultaneous in-flight requests.
	Concurrency int
	Timeout     time.Duration
	// AuditObject is the blob path for the domestic-batch dump.
	AuditObject string
}

// Classifier is an explicitly constructed classification client; callers own
// its lifecycle.
type Classifier struct {
	cfg        Config
	httpClient *http.Client
	audit      news.BlobStore
	logger     *zap.Logger
}

var _ news.Classifier = (*Classifier)(nil)

// New builds a Classifier. audit may be nil to skip the artifact dump.
func New(cfg Config, audit news.BlobStore, logger *zap.Logger) (*Classifier, error) {
	if cfg.Endpoint == "" || cfg.Model == "" {
		return nil, fmt.Errorf("classifier endpoint and model are required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier api key is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AuditObject == "" {
		cfg.AuditObject = "tw_news.json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		audit:      audit,
		logger:     logger,
	}, nil
}

// Classify issues one request per candidate under the concurrency bound and
// returns the finance-relevant partitions. Per-item failures are logged and
// dropped; the call always waits for every submitted request. Output order
// within each partition is completion order.
func (c *Classifier) Classify(ctx context.Context, candidates map[string]news.Candidate) (news.ClassifiedBatch, error) {
	sem := make(chan struct{}, c.cfg.Concurrency)

	var (
		mu      sync.Mutex
		results []news.Classification
		wg      sync.WaitGroup
	)

	for key, candidate := range candidates {
		wg.Add(1)
		go func(key string, candidate news.Candidate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				c.logger.Warn("classification canceled", zap.String("key", key), zap.Error(ctx.Err()))
				return
			}

			cls, err := c.classifyOne(ctx, key, candidate)
			if err != nil {
				c.logger.Error("classification failed",
					zap.String("key", key),
					zap.String("title", candidate.Title),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			results = append(results, cls)
			mu.Unlock()
		}(key, candidate)
	}
	wg.Wait()

	var batch news.ClassifiedBatch
	for _, cls := range results {
		if !cls.FinanceRelevant {
			continue
		}
		if cls.Country == news.CountryTaiwan {
			batch.Domestic = append(batch.Domestic, cls)
		} else {
			batch.Foreign = append(batch.Foreign, cls)
		}
	}

	if err := c.writeAudit(ctx, batch.Domestic); err != nil {
		return news.ClassifiedBatch{}, err
	}

	c.logger.Info("classification finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("domestic", len(batch.Domestic)),
		zap.Int("foreign", len(batch.Foreign)),
	)
	return batch, nil
}

// classifyOne performs a single schema-constrained tool call.
func (c *Classifier) classifyOne(ctx context.Context, key string, candidate news.Candidate) (news.Classification, error) {
	requestID := uuid.NewString()

	payload, err := json.Marshal(map[string]any{
		"model":       c.cfg.Model,
		"temperature": 1,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userMessage(candidate)},
		},
		"tools": []map[string]any{classifyTool()},
		"tool_choice": map[string]any{
			"type":     "function",
			"function": map[string]string{"name": toolName},
		},
	})
	if err != nil {
		return news.Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return news.Classification{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", c.cfg.Organization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return news.Classification{}, fmt.Errorf("classification request %s: %w", requestID, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return news.Classification{}, fmt.Errorf("classification service %s: %s",
			resp.Status, strings.TrimSpace(string(detail)))
	}

	args, err := decodeToolArguments(resp.Body)
	if err != nil {
		return news.Classification{}, err
	}
	return buildClassification(key, candidate, args)
}

func userMessage(candidate news.Candidate) string {
	return fmt.Sprintf("新聞標題：%s\n新聞連結：%s\n新聞來源：%s\n發布時間：%s",
		candidate.Title,
		candidate.Link,
		candidate.Source,
		candidate.PublishedAt.Format("2006-01-02 15:04:05"),
	)
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// decodeToolArguments extracts the forced tool call's arguments; anything
// else is a schema failure.
func decodeToolArguments(body io.Reader) (toolArguments, error) {
	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return toolArguments{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.ToolCalls) == 0 {
		return toolArguments{}, fmt.Errorf("response contains no tool call")
	}
	call := parsed.Choices[0].Message.ToolCalls[0].Function
	if call.Name != toolName {
		return toolArguments{}, fmt.Errorf("unexpected tool call %q", call.Name)
	}

	var args toolArguments
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return toolArguments{}, fmt.Errorf("decode tool arguments: %w", err)
	}
	return args, nil
}

// buildClassification validates the verdict and fills identity fields from
// the candidate rather than trusting the model's echo.
func buildClassification(key string, candidate news.Candidate, args toolArguments) (news.Classification, error) {
	if args.Finance != "是" && args.Finance != "不是" {
		return news.Classification{}, fmt.Errorf("classification %s: unknown finance flag %q", key, args.Finance)
	}

	cls := news.Classification{
		Key:             key,
		Headline:        candidate.Title,
		Link:            candidate.Link,
		Source:          candidate.Source,
		PublishedAt:     candidate.PublishedAt,
		Category:        news.NormalizeCategory(args.Category),
		Country:         news.Country(args.Country),
		FinanceRelevant: args.Finance == "是",
		Remarks:         news.TrimRemarks(args.Remarks),
	}
	if err := cls.Validate(); err != nil {
		return news.Classification{}, err
	}
	return cls, nil
}

// writeAudit dumps the domestic partition for offline inspection.
func (c *Classifier) writeAudit(ctx context.Context, domestic []news.Classification) error {
	if c.audit == nil {
		return nil
	}
	if domestic == nil {
		domestic = []news.Classification{}
	}
	data, err := json.MarshalIndent(domestic, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit dump: %w", err)
	}
	uri, err := c.audit.PutObject(ctx, c.cfg.AuditObject, auditContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write audit dump: %w", err)
	}
	c.logger.Info("audit dump written", zap.String("uri", uri), zap.Int("items", len(domestic)))
	return nil
}
