package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeSourceNotFound     = "ERR_SOURCE_NOT_FOUND"
	ErrCodeDownloadFailed     = "ERR_DOWNLOAD_FAILED"
	ErrCodeUnsupportedLoader  = "ERR_UNSUPPORTED_LOADER"
	ErrCodeTransformFailed    = "ERR_TRANSFORM_FAILED"
	ErrCodeRenderFailed       = "ERR_RENDER_FAILED"
	ErrCodeArtifactWrite      = "ERR_ARTIFACT_WRITE"
	ErrCodeInvalidModuleURL   = "ERR_INVALID_MODULE_URL"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeConflictingSegment = "ERR_CONFLICTING_SEGMENT"
	ErrCodeInternalError      = "ERR_INTERNAL"
)

// PagegraphError is a structured error type with context.
type PagegraphError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Module      string
	Recoverable bool
}

// Error implements the error interface.
func (e *PagegraphError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Module != "" {
		parts = append(parts, "module:"+e.Module)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PagegraphError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PagegraphError) Is(target error) bool {
	var t *PagegraphError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PagegraphError) WithContext(key string, value interface{}) *PagegraphError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithModule adds module context.
func (e *PagegraphError) WithModule(url string) *PagegraphError {
	e.Module = url

	return e
}

// Sentinels for errors.Is comparisons. Only Type and Code are compared.
var (
	ErrSourceNotFound     = &PagegraphError{Type: ErrorTypeIO, Code: ErrCodeSourceNotFound}
	ErrDownloadFailed     = &PagegraphError{Type: ErrorTypeNetwork, Code: ErrCodeDownloadFailed}
	ErrUnsupportedLoader  = &PagegraphError{Type: ErrorTypeBuild, Code: ErrCodeUnsupportedLoader}
	ErrTransformFailed    = &PagegraphError{Type: ErrorTypeBuild, Code: ErrCodeTransformFailed}
	ErrRenderFailed       = &PagegraphError{Type: ErrorTypeRender, Code: ErrCodeRenderFailed}
	ErrArtifactWrite      = &PagegraphError{Type: ErrorTypeIO, Code: ErrCodeArtifactWrite}
	ErrInvalidModuleURL   = &PagegraphError{Type: ErrorTypeValidation, Code: ErrCodeInvalidModuleURL}
	ErrConflictingSegment = &PagegraphError{Type: ErrorTypeValidation, Code: ErrCodeConflictingSegment}
)

// NewSourceNotFound records a missing local source. It is recoverable: the
// graph as a whole keeps compiling.
func NewSourceNotFound(url string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeIO,
		Code:        ErrCodeSourceNotFound,
		Message:     "source not found",
		Cause:       cause,
		Module:      url,
		Recoverable: true,
	}
}

// NewDownloadFailure reports a remote fetch that exhausted its retries.
func NewDownloadFailure(url string, attempts int, cause error) *PagegraphError {
	return &PagegraphError{
		Type:    ErrorTypeNetwork,
		Code:    ErrCodeDownloadFailed,
		Message: fmt.Sprintf("download failed after %d attempts", attempts),
		Cause:   cause,
		Module:  url,
	}
}

// NewUnsupportedLoader reports that no loader recognizes the module.
func NewUnsupportedLoader(url string) *PagegraphError {
	return &PagegraphError{
		Type:    ErrorTypeBuild,
		Code:    ErrCodeUnsupportedLoader,
		Message: "no loader matches module",
		Module:  url,
	}
}

// NewTransformFailure wraps an error returned by a loader transform.
func NewTransformFailure(url string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeBuild,
		Code:        ErrCodeTransformFailed,
		Message:     "transform failed",
		Cause:       cause,
		Module:      url,
		Recoverable: true,
	}
}

// NewRenderFailure wraps an error or panic raised while rendering a page.
func NewRenderFailure(pagePath string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeRender,
		Code:        ErrCodeRenderFailed,
		Message:     "render failed for page " + pagePath,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewArtifactWriteError reports a failure persisting a module's artifacts.
func NewArtifactWriteError(url string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:    ErrorTypeIO,
		Code:    ErrCodeArtifactWrite,
		Message: "failed to persist artifacts",
		Cause:   cause,
		Module:  url,
	}
}

// NewInvalidModuleURL reports a malformed module identifier.
func NewInvalidModuleURL(url, reason string) *PagegraphError {
	return &PagegraphError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidModuleURL,
		Message: "invalid module url: " + reason,
		Module:  url,
	}
}

// NewConflictingSegment reports a route whose dynamic or catch-all segment
// names a different parameter than an existing sibling.
func NewConflictingSegment(routePath, existing, segment string) *PagegraphError {
	return &PagegraphError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeConflictingSegment,
		Message: fmt.Sprintf("route %s: segment %s conflicts with %s", routePath, segment, existing),
		Context: map[string]interface{}{"existing": existing, "segment": segment},
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PagegraphError {
	return &PagegraphError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PagegraphError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsSourceNotFound checks if an error reports a missing local source.
func IsSourceNotFound(err error) bool {
	return errors.Is(err, ErrSourceNotFound)
}

// IsDownloadFailure checks if an error reports an exhausted remote fetch.
func IsDownloadFailure(err error) bool {
	return errors.Is(err, ErrDownloadFailed)
}

// IsUnsupportedLoader checks if an error reports a module no loader accepts.
func IsUnsupportedLoader(err error) bool {
	return errors.Is(err, ErrUnsupportedLoader)
}

// IsTransformFailure checks if an error was raised by a loader transform.
func IsTransformFailure(err error) bool {
	return errors.Is(err, ErrTransformFailed)
}

// ModuleOf returns the module URL attached to err, if any.
func ModuleOf(err error) string {
	var pe *PagegraphError
	if errors.As(err, &pe) {
		return pe.Module
	}

	return ""
}

// CodeOf returns the error code attached to err, if any.
func CodeOf(err error) string {
	var pe *PagegraphError
	if errors.As(err, &pe) {
		return pe.Code
	}

	return ""
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level that matches its recoverability.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var pe *PagegraphError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	if pe.Recoverable {
		h.logger.Warn(ctx, err, "Module error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"module", pe.Module)
		return
	}

	h.logger.Error(ctx, err, "Error occurred",
		"type", pe.Type,
		"code", pe.Code,
		"module", pe.Module)
}
