// Package parser extracts plain text from scraped source files so the
// chunker can split them for embedding. Supported inputs are the text
// and markdown dumps produced by the web scraper and PDF documents.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Document is the extracted text of one source file.
type Document struct {
	Path   string
	Text   string
	Pages  int    // 0 for formats without pages
	Method string // "native"
}

// Parser can extract text from a specific file format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}

// Registry maps file extensions to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &PDFParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Register adds or replaces the parser for a format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Get returns the parser for a format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// ForFile returns the parser matching the file's extension.
func (r *Registry) ForFile(path string) (Parser, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return r.Get(ext)
}
