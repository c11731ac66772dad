package renderer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/conneroisu/pagegraph/internal/errors"
)

func TestSafeRender_Success(t *testing.T) {
	result, err := SafeRender(context.Background(), "/", func(ctx context.Context) (*RenderResult, error) {
		return &RenderResult{Body: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, result.Status)
	assert.Equal(t, "ok", result.Body)
}

func TestSafeRender_NilResult(t *testing.T) {
	result, err := SafeRender(context.Background(), "/", func(ctx context.Context) (*RenderResult, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, result.Status)
	assert.Empty(t, result.Body)
}

func TestSafeRender_Panic(t *testing.T) {
	result, err := SafeRender(context.Background(), "/blog/[slug]", func(ctx context.Context) (*RenderResult, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, pgerrors.ErrRenderFailed)
	assert.True(t, result.Failed())
	assert.Equal(t, 500, result.Status)
	assert.Equal(t, "panic: boom", result.Error)
	assert.Contains(t, result.Stack, "goroutine")
	assert.Contains(t, result.Body, "Render failed")
	assert.Contains(t, result.Body, "/blog/[slug]")
}

func TestSafeRender_ErrorBodyIsEscaped(t *testing.T) {
	result, err := SafeRender(context.Background(), "/", func(ctx context.Context) (*RenderResult, error) {
		return nil, errors.New("<script>alert(1)</script>")
	})
	require.Error(t, err)
	assert.NotContains(t, result.Body, "<script>")
	assert.Contains(t, result.Body, "&lt;script&gt;")
	assert.Equal(t, "text/html; charset=utf-8", result.Headers["Content-Type"])
}
