package translator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsonx "github.com/ardrey/translate-hub/pkg/json"
)

// DeepLConfig holds configuration for the DeepL API.
type DeepLConfig struct {
	APIURL  string // e.g. "https://api-free.deepl.com/v2/translate"
	APIKey  string
	Timeout time.Duration
}

// DeepLProvider translates through the DeepL HTTP API.
type DeepLProvider struct {
	cfg    DeepLConfig
	client *http.Client
}

func NewDeepLProvider(cfg DeepLConfig) *DeepLProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &DeepLProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *DeepLProvider) Translate(ctx context.Context, req Request) (Result, error) {
	form := url.Values{}
	form.Set("auth_key", p.cfg.APIKey)
	form.Set("text", req.Text)
	form.Set("target_lang", strings.ToUpper(req.TargetLang))
	if req.SourceLang != "" {
		form.Set("source_lang", strings.ToUpper(req.SourceLang))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call DeepL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Result{}, fmt.Errorf("failed to read DeepL error body: %w", readErr)
		}
		return Result{}, fmt.Errorf("DeepL error (%d): %s", resp.StatusCode, string(b))
	}

	var decoded struct {
		Translations []struct {
			Text                   string `json:"text"`
			DetectedSourceLanguage string `json:"detected_source_language"`
		} `json:"translations"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Translations) == 0 {
		return Result{}, fmt.Errorf("DeepL returned no translations")
	}
	t := decoded.Translations[0]
	return Result{Text: t.Text, SourceLanguage: strings.ToLower(t.DetectedSourceLanguage)}, nil
}
