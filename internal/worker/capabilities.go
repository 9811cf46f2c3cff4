package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ardrey/translate-hub/internal/docparse"
	"github.com/ardrey/translate-hub/internal/notify"
	"github.com/ardrey/translate-hub/internal/translator"
	"github.com/ardrey/translate-hub/internal/work"
)

// NewCapabilities wires the fixed method set against its collaborators. The
// map is built once at startup; there is no dynamic method resolution.
func NewCapabilities(translators *translator.Registry, defaultTranslator string, notifier notify.Notifier) map[string]Capability {
	return map[string]Capability{
		work.MethodTranslate: translateCapability(translators, defaultTranslator),
		work.MethodNotify:    notifyCapability(notifier),
		work.MethodParseDoc:  parseDocCapability(translators, defaultTranslator),
	}
}

func translateCapability(translators *translator.Registry, defaultCode string) Capability {
	return func(ctx context.Context, payload json.RawMessage) (*work.Outcome, error) {
		var p work.TranslatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid translate payload: %w", err)
		}
		code := p.TranslatorCode
		if code == "" {
			code = defaultCode
		}
		provider, err := translators.Resolve(code)
		if err != nil {
			return nil, err
		}
		res, err := provider.Translate(ctx, translator.Request{
			Text:       p.Text,
			SourceLang: p.SourceLang,
			TargetLang: p.TargetLang,
		})
		if err != nil {
			return nil, err
		}
		return &work.Outcome{Text: res.Text, SourceLanguage: res.SourceLanguage}, nil
	}
}

func notifyCapability(notifier notify.Notifier) Capability {
	return func(ctx context.Context, payload json.RawMessage) (*work.Outcome, error) {
		var p work.NotifyPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid notify payload: %w", err)
		}
		if p.ChatID == "" || p.Message == "" {
			return nil, fmt.Errorf("notify requires chat_id and message")
		}
		if err := notifier.Send(ctx, p.ChatID, p.Message); err != nil {
			return nil, err
		}
		return &work.Outcome{Text: "notification sent"}, nil
	}
}

// parseDocCapability extracts document text and, when target_lang is set,
// translates it with the default provider.
func parseDocCapability(translators *translator.Registry, defaultCode string) Capability {
	return func(ctx context.Context, payload json.RawMessage) (*work.Outcome, error) {
		var p work.ParseDocPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid parse_doc payload: %w", err)
		}
		if p.FilePath == "" {
			return nil, fmt.Errorf("parse_doc requires file_path")
		}
		text, err := docparse.ExtractText(p.FilePath)
		if err != nil {
			return nil, err
		}
		if p.TargetLang == "" {
			return &work.Outcome{Text: text}, nil
		}
		provider, err := translators.Resolve(defaultCode)
		if err != nil {
			return nil, err
		}
		res, err := provider.Translate(ctx, translator.Request{Text: text, TargetLang: p.TargetLang})
		if err != nil {
			return nil, err
		}
		return &work.Outcome{Text: res.Text, SourceLanguage: res.SourceLanguage}, nil
	}
}
