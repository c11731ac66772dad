package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/conneroisu/pagegraph/internal/types"
)

// MarkdownLoader compiles markdown pages into modules exporting their
// rendered HTML. Markdown has no imports, so the module has no deps.
type MarkdownLoader struct {
	md goldmark.Markdown
}

// NewMarkdownLoader creates a loader with GitHub flavored markdown and
// generated heading ids.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

// Name implements Loader.
func (l *MarkdownLoader) Name() string { return "markdown" }

// Test implements Loader.
func (l *MarkdownLoader) Test(moduleURL string) bool {
	switch moduleExt(moduleURL) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}

// Transform implements Loader.
func (l *MarkdownLoader) Transform(ctx context.Context, in TransformInput) (*TransformResult, error) {
	var buf bytes.Buffer
	if err := l.md.Convert(in.Source, &buf); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}

	var html bytes.Buffer
	enc := json.NewEncoder(&html)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(buf.String()); err != nil {
		return nil, err
	}

	var code strings.Builder
	code.WriteString("export const html = ")
	code.WriteString(strings.TrimSuffix(html.String(), "\n"))
	code.WriteString(";\nexport default html;\n")

	return &TransformResult{
		Code: code.String(),
		Kind: types.LoaderMarkdown,
	}, nil
}
