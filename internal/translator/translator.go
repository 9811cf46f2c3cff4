package translator

import (
	"context"
	"fmt"
	"sort"
)

// Request carries one text to translate.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Result is a completed translation.
type Result struct {
	Text           string
	SourceLanguage string
}

// Provider is the contract every translation backend implements.
type Provider interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// Registry maps translator codes to providers. Populated once at startup;
// unknown codes are rejected explicitly instead of resolving anything
// dynamically from request data.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(code string, p Provider) {
	r.providers[code] = p
}

// Resolve returns the provider for code, or an error naming the known codes.
func (r *Registry) Resolve(code string) (Provider, error) {
	p, ok := r.providers[code]
	if !ok {
		return nil, fmt.Errorf("translator %q not found (known: %v)", code, r.Codes())
	}
	return p, nil
}

// Codes lists registered translator codes, sorted.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.providers))
	for code := range r.providers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
