// Package renderer caches rendered pages and isolates render failures.
//
// The render cache is keyed by page path and query. A page path's entries
// are dropped together when any module in its stack changes; a shell
// module change drops everything. StackRenderer is the default page
// renderer: it emits the document that boots a route's module stack.
package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/pagegraph/internal/routing"
	"github.com/conneroisu/pagegraph/internal/types"
)

// ArtifactResolver maps a module URL to its current artifact path.
type ArtifactResolver func(moduleURL string) (artifactPath string, ok bool)

// StackRenderer renders the HTML document that loads a module stack.
type StackRenderer struct {
	// BasePath prefixes artifact paths ("/_pagegraph").
	BasePath string
	// Shell lists shell modules loaded before the page stack.
	Shell []string
	// Artifacts resolves module URLs to artifact paths.
	Artifacts ArtifactResolver
}

// pageData is embedded as JSON for the client bootstrap.
type pageData struct {
	URL                routing.RouterURL `json:"url"`
	Modules            []string          `json:"modules"`
	RequiresServerData bool              `json:"requiresServerData,omitempty"`
}

// RenderFunc returns the render function for one resolved route.
func (r *StackRenderer) RenderFunc(u routing.RouterURL, stack []types.RouteModule) RenderFunc {
	return func(ctx context.Context) (*RenderResult, error) {
		return r.Render(ctx, u, stack)
	}
}

// Render builds the document for u. Every module of the shell and the
// stack must have an artifact.
func (r *StackRenderer) Render(ctx context.Context, u routing.RouterURL, stack []types.RouteModule) (*RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modules := make([]string, 0, len(r.Shell)+len(stack))
	data := pageData{URL: u}

	for _, url := range r.Shell {
		artifact, err := r.artifact(url)
		if err != nil {
			return nil, err
		}
		modules = append(modules, artifact)
	}
	for _, m := range stack {
		artifact, err := r.artifact(m.URL)
		if err != nil {
			return nil, err
		}
		modules = append(modules, artifact)
		data.RequiresServerData = data.RequiresServerData || m.RequiresServerData
	}
	data.Modules = modules

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	head := element(atom.Head, nil,
		element(atom.Meta, []html.Attribute{{Key: "charset", Val: "utf-8"}}),
	)
	for _, m := range modules {
		head.AppendChild(element(atom.Link, []html.Attribute{
			{Key: "rel", Val: "modulepreload"},
			{Key: "href", Val: m},
		}))
	}

	body := element(atom.Body, nil,
		element(atom.Div, []html.Attribute{{Key: "id", Val: "__pagegraph"}}),
		element(atom.Script, []html.Attribute{
			{Key: "id", Val: "page-data"},
			{Key: "type", Val: "application/json"},
		}, text(strings.ReplaceAll(string(payload), "</", `<\/`))),
	)
	for _, m := range modules {
		body.AppendChild(element(atom.Script, []html.Attribute{
			{Key: "type", Val: "module"},
			{Key: "src", Val: m},
		}))
	}

	lang := u.Locale
	if lang == "" {
		lang = "en"
	}
	doc := element(atom.Html, []html.Attribute{{Key: "lang", Val: lang}}, head, body)

	return &RenderResult{
		Status:  http.StatusOK,
		Body:    renderDocument(doc),
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}, nil
}

func (r *StackRenderer) artifact(moduleURL string) (string, error) {
	if r.Artifacts == nil {
		return "", fmt.Errorf("no artifact resolver configured")
	}
	artifact, ok := r.Artifacts(moduleURL)
	if !ok || artifact == "" {
		return "", fmt.Errorf("module %s has no artifact", moduleURL)
	}
	return path.Join("/", r.BasePath, artifact), nil
}

// NotFound is the result for an unmatched location.
func NotFound(pathname string) *RenderResult {
	doc := element(atom.Html, nil,
		element(atom.Head, nil, element(atom.Title, nil, text("404 - Not Found"))),
		element(atom.Body, nil,
			element(atom.H1, nil, text("Not Found")),
			element(atom.P, nil, element(atom.Code, nil, text(pathname))),
		),
	)
	return &RenderResult{
		Status:  http.StatusNotFound,
		Body:    renderDocument(doc),
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
}
