package translator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// LibreConfig holds configuration for a LibreTranslate-compatible endpoint.
type LibreConfig struct {
	Endpoint string // e.g. "http://localhost:5002"
	APIKey   string // optional
	Timeout  time.Duration
}

// LibreProvider translates through the LibreTranslate HTTP API.
type LibreProvider struct {
	cfg    LibreConfig
	client *http.Client
}

func NewLibreProvider(cfg LibreConfig) *LibreProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &LibreProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *LibreProvider) Translate(ctx context.Context, req Request) (Result, error) {
	source := req.SourceLang
	if source == "" {
		source = "auto"
	}
	payload := map[string]interface{}{
		"q":      req.Text,
		"source": source,
		"target": req.TargetLang,
		"format": "text",
	}
	if p.cfg.APIKey != "" {
		payload["api_key"] = p.cfg.APIKey
	}
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call LibreTranslate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Result{}, fmt.Errorf("failed to read LibreTranslate error body: %w", readErr)
		}
		return Result{}, fmt.Errorf("LibreTranslate error: %s", string(b))
	}

	var decoded struct {
		TranslatedText   string `json:"translatedText"`
		DetectedLanguage struct {
			Language string `json:"language"`
		} `json:"detectedLanguage"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.TranslatedText == "" {
		return Result{}, fmt.Errorf("LibreTranslate returned empty translation")
	}

	sourceLang := decoded.DetectedLanguage.Language
	if sourceLang == "" {
		sourceLang = req.SourceLang
	}
	return Result{Text: decoded.TranslatedText, SourceLanguage: sourceLang}, nil
}
