package docparse

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/unidoc/unioffice/document"
)

// ExtractText pulls the plain text out of a .docx file so it can be fed to a
// translation provider. Paragraphs are joined with newlines; empty paragraphs
// are skipped.
func ExtractText(path string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".docx" {
		return "", fmt.Errorf("unsupported document type %q (only .docx)", ext)
	}

	doc, err := document.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document %s: %w", path, err)
	}
	defer doc.Close()

	var parts []string
	for _, para := range doc.Paragraphs() {
		var sb strings.Builder
		for _, run := range para.Runs() {
			sb.WriteString(run.Text())
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("document %s contains no text", path)
	}
	return strings.Join(parts, "\n"), nil
}
