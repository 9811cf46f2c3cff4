package translator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// ModelConfig holds configuration for the fine-tuned model server.
type ModelConfig struct {
	Endpoint string // e.g. "http://localhost:5000"
	Timeout  time.Duration
}

// ModelProvider translates through the self-hosted model server's
// /model_translate endpoint. The model process reloads slowly after a crash,
// so calls run behind a circuit breaker: while the model is down, requests
// fail fast instead of piling up against the timeout.
type ModelProvider struct {
	cfg     ModelConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewModelProvider(cfg ModelConfig) *ModelProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ModelProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "model-translate",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (p *ModelProvider) Translate(ctx context.Context, req Request) (Result, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.call(ctx, req)
	})
	if err != nil {
		return Result{}, err
	}
	result, ok := out.(Result)
	if !ok {
		return Result{}, fmt.Errorf("unexpected breaker result type %T", out)
	}
	return result, nil
}

func (p *ModelProvider) call(ctx context.Context, req Request) (Result, error) {
	body, err := jsonx.Marshal(map[string]string{
		"text":        req.Text,
		"source_lang": req.SourceLang,
		"target_lang": req.TargetLang,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/model_translate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Result{}, fmt.Errorf("failed to read model server error body: %w", readErr)
		}
		return Result{}, fmt.Errorf("model server error (%d): %s", resp.StatusCode, string(b))
	}

	var decoded struct {
		TranslatedText string `json:"translated_text"`
		SourceLang     string `json:"source_lang"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return Result{Text: decoded.TranslatedText, SourceLanguage: decoded.SourceLang}, nil
}
