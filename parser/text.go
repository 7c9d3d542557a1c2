package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// TextParser handles plain text and markdown scraper dumps.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	text := string(data)
	if strings.HasSuffix(strings.ToLower(path), ".md") {
		text = stripMarkdown(text)
	}
	return &Document{
		Path:   path,
		Text:   normalizeText(text),
		Method: "native",
	}, nil
}

var (
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphRe    = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	mdCodeRe    = regexp.MustCompile("`([^`]*)`")
)

// stripMarkdown removes the markup the scraper's markdown output carries
// so embeddings see prose, not syntax.
func stripMarkdown(text string) string {
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdEmphRe.ReplaceAllString(text, "$2")
	text = mdCodeRe.ReplaceAllString(text, "$1")
	return text
}

// normalizeText collapses runs of three or more newlines into paragraph
// breaks and trims trailing whitespace per line.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
