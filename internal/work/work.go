package work

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode"
)

// Method names resolvable by the worker pool. The set is fixed at startup;
// requests naming anything else are answered with a typed error result.
const (
	MethodTranslate = "translate"
	MethodNotify    = "notify"
	MethodParseDoc  = "parse_doc"
)

// Validation errors surfaced to the submitter before anything is enqueued.
var (
	ErrMissingMethod  = errors.New("method is required")
	ErrMissingSession = errors.New("ws_session_id is required")
	ErrMissingPayload = errors.New("payload is required")
	ErrNoText         = errors.New("text must contain at least one letter")
)

// Request is the unit of work published to the work queue.
type Request struct {
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload"`
	SessionID string          `json:"ws_session_id"`
}

// TranslatePayload is the payload shape for the translate method.
type TranslatePayload struct {
	Text           string `json:"text"`
	TranslatorCode string `json:"translator_code"`
	TargetLang     string `json:"target_lang"`
	SourceLang     string `json:"source_lang,omitempty"`
}

// NotifyPayload is the payload shape for the notify method.
type NotifyPayload struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// ParseDocPayload is the payload shape for the parse_doc method.
type ParseDocPayload struct {
	FilePath   string `json:"file_path"`
	TargetLang string `json:"target_lang,omitempty"`
}

// Outcome is the success half of a result.
type Outcome struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language,omitempty"`
}

// Result is the unit published to the results queue. Exactly one of Result
// and Error carries data.
type Result struct {
	SessionID string   `json:"ws_session_id"`
	Result    *Outcome `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ErrorResult builds a failure result bound to the originating session.
func ErrorResult(sessionID, msg string) Result {
	return Result{SessionID: sessionID, Error: msg}
}

// Validate checks the request shape. Translate payloads additionally pass the
// text gate: at least one letter rune, so empty or punctuation-only input
// never reaches a worker.
func (r *Request) Validate() error {
	if r.Method == "" {
		return ErrMissingMethod
	}
	if r.SessionID == "" {
		return ErrMissingSession
	}
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return ErrMissingPayload
	}
	if r.Method == MethodTranslate {
		var p TranslatePayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return fmt.Errorf("invalid translate payload: %w", err)
		}
		if !HasLetter(p.Text) {
			return ErrNoText
		}
		if p.TargetLang == "" {
			return errors.New("target_lang is required")
		}
	}
	return nil
}

// HasLetter reports whether s contains at least one alphabetic or logographic
// rune. unicode.IsLetter covers CJK ideographs as well as alphabets.
func HasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
