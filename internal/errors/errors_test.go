package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorSeverityString(t *testing.T) {
	testCases := []struct {
		severity ErrorSeverity
		expected string
	}{
		{ErrorSeverityInfo, "info"},
		{ErrorSeverityWarning, "warning"},
		{ErrorSeverityError, "error"},
		{ErrorSeverityFatal, "fatal"},
		{ErrorSeverity(999), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.severity.String())
		})
	}
}

func TestPagegraphError_Error(t *testing.T) {
	err := NewTransformFailure("/pages/index.tsx", fmt.Errorf("unexpected token"))

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_TRANSFORM_FAILED]")
	assert.Contains(t, msg, "module:/pages/index.tsx")
	assert.Contains(t, msg, "unexpected token")
}

func TestPagegraphError_Is(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"source not found", NewSourceNotFound("/a.ts", nil), IsSourceNotFound},
		{"download failure", NewDownloadFailure("https://x.dev/a.js", 3, nil), IsDownloadFailure},
		{"unsupported loader", NewUnsupportedLoader("/a.bin"), IsUnsupportedLoader},
		{"transform failure", NewTransformFailure("/a.ts", nil), IsTransformFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("compiling: %w", tt.err)
			assert.True(t, tt.check(wrapped), "predicate should see through wrapping")
		})
	}

	assert.False(t, IsSourceNotFound(NewTransformFailure("/a.ts", nil)))
	assert.False(t, IsDownloadFailure(stderrors.New("plain")))
}

func TestPagegraphError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewDownloadFailure("https://esm.sh/react", 3, cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "https://esm.sh/react", ModuleOf(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, ErrCodeDownloadFailed, CodeOf(err))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(NewSourceNotFound("/a.ts", nil)))
	assert.True(t, IsRecoverable(NewRenderFailure("/blog", nil)))
	assert.False(t, IsRecoverable(NewDownloadFailure("https://x.dev/a.js", 1, nil)))
	assert.False(t, IsRecoverable(stderrors.New("plain")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "X", "msg"))

	inner := NewSourceNotFound("/a.ts", nil)
	wrapped := Wrap(inner, ErrorTypeBuild, "ERR_OUTER", "outer")
	require.NotNil(t, wrapped)
	assert.Equal(t, "/a.ts", wrapped.Module)
	assert.True(t, wrapped.Recoverable)
	assert.True(t, IsSourceNotFound(wrapped))

	plain := Wrap(stderrors.New("boom"), ErrorTypeBuild, "ERR_OUTER", "outer")
	assert.True(t, plain.Recoverable)
}

func TestFlatten(t *testing.T) {
	a := stderrors.New("a")
	b := stderrors.New("b")
	c := stderrors.New("c")

	assert.Nil(t, Flatten(nil))
	assert.Equal(t, []error{a}, Flatten(a))
	assert.Equal(t, []error{a, b, c}, Flatten(stderrors.Join(a, stderrors.Join(b, c), nil)))
}

func TestNewErrorCollector(t *testing.T) {
	collector := NewErrorCollector()

	assert.NotNil(t, collector)
	assert.Empty(t, collector.GetErrors())
	assert.False(t, collector.HasErrors())
}

func TestErrorCollector_Add(t *testing.T) {
	collector := NewErrorCollector()

	before := time.Now()
	collector.Add(BuildError{
		Module:   "/pages/index.tsx",
		Message:  "syntax error",
		Severity: ErrorSeverityError,
	})

	require.Len(t, collector.GetErrors(), 1)
	added := collector.GetErrors()[0]
	assert.Equal(t, "/pages/index.tsx", added.Module)
	assert.False(t, added.Timestamp.Before(before))
	assert.Contains(t, added.Error(), "syntax error")
}

func TestErrorCollector_AddError(t *testing.T) {
	collector := NewErrorCollector()

	collector.AddError(nil)
	assert.False(t, collector.HasErrors())

	collector.AddError(NewSourceNotFound("/components/missing.tsx", nil))
	assert.True(t, collector.HasErrors())
	assert.False(t, collector.HasFatal(), "missing sources are warnings")

	collector.AddError(NewDownloadFailure("https://esm.sh/react", 3, nil))
	assert.True(t, collector.HasFatal())

	collector.AddError(stderrors.New("unscoped"))
	assert.Len(t, collector.GetAllErrors(), 3)

	assert.Equal(t,
		[]string{"/components/missing.tsx", "https://esm.sh/react"},
		collector.FailingModules())

	byModule := collector.GetErrorsByModule("https://esm.sh/react")
	require.Len(t, byModule, 1)
	assert.Equal(t, ErrCodeDownloadFailed, byModule[0].Code)

	collector.Clear()
	assert.False(t, collector.HasErrors())
}
