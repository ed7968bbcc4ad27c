package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qs3c/carousel_go_server/config"
	"github.com/qs3c/carousel_go_server/internal/model"
)

const maxErrorBody = 4 << 10

// HTTPGenerator 调用外部生成服务，同步等待结果
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type generateRequest struct {
	JobID   string          `json:"job_id"`
	JobType string          `json:"job_type"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

func NewHTTPGenerator(cfg config.GeneratorConfig) *HTTPGenerator {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPGenerator{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, job *model.GenerationJob, progress ProgressFunc) (*model.CarouselResult, error) {
	if g.endpoint == "" {
		return nil, fmt.Errorf("generator endpoint not configured")
	}

	body, err := json.Marshal(generateRequest{
		JobID:   job.ID,
		JobType: string(job.JobType),
		UserID:  job.UserID,
		Payload: json.RawMessage(job.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	if progress != nil {
		progress(0, "已提交到生成服务")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result model.CarouselResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode generator response: %w", err)
	}
	if len(result.SlideURLs) == 0 && job.JobType != model.JobTypeCaptionGeneration {
		return nil, fmt.Errorf("generator returned no slides")
	}

	if progress != nil {
		progress(100, "生成完成，正在保存")
	}
	return &result, nil
}
