package renderer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/pagegraph/internal/errors"
)

// SafeRender runs fn behind the render failure boundary. A returned error
// or a panic becomes a 500 result carrying the message, the captured stack
// and an HTML error page; the RenderFailure is returned alongside it.
func SafeRender(ctx context.Context, pagePath string, fn RenderFunc) (result *RenderResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			result, err = failure(pagePath, cause, string(debug.Stack()))
		}
	}()

	result, renderErr := fn(ctx)
	if renderErr != nil {
		return failure(pagePath, renderErr, string(debug.Stack()))
	}
	if result == nil {
		result = &RenderResult{}
	}
	if result.Status == 0 {
		result.Status = http.StatusOK
	}
	if result.RenderedAt.IsZero() {
		result.RenderedAt = time.Now()
	}
	return result, nil
}

func failure(pagePath string, cause error, stack string) (*RenderResult, error) {
	err := errors.NewRenderFailure(pagePath, cause)
	return &RenderResult{
		Status:     http.StatusInternalServerError,
		Body:       errorPage(pagePath, cause.Error(), stack),
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Error:      cause.Error(),
		Stack:      stack,
		RenderedAt: time.Now(),
	}, err
}

// errorPage renders the 500 document. Text nodes are escaped by the
// serializer.
func errorPage(pagePath, message, stack string) string {
	doc := element(atom.Html, nil,
		element(atom.Head, nil,
			element(atom.Meta, []html.Attribute{{Key: "charset", Val: "utf-8"}}),
			element(atom.Title, nil, text("500 - Render failed")),
		),
		element(atom.Body, nil,
			element(atom.H1, nil, text("Render failed")),
			element(atom.P, nil, element(atom.Code, nil, text(pagePath))),
			element(atom.Pre, []html.Attribute{{Key: "class", Val: "error"}}, text(message)),
			element(atom.Pre, []html.Attribute{{Key: "class", Val: "stack"}}, text(stack)),
		),
	)
	return renderDocument(doc)
}

func element(a atom.Atom, attrs []html.Attribute, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func renderDocument(root *html.Node) string {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "<!DOCTYPE html><title>500 - Render failed</title>"
	}
	return buf.String()
}
