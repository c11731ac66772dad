// Package errors defines the error taxonomy shared by the compiler, the
// route resolver and the render cache, plus a collector used to report
// per-module failures at the end of a build.
package errors

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// BuildError represents a failure recorded for a single module.
type BuildError struct {
	Module    string        `json:"module" yaml:"module"`
	Code      string        `json:"code" yaml:"code"`
	Message   string        `json:"message" yaml:"message"`
	Severity  ErrorSeverity `json:"severity" yaml:"severity"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (be *BuildError) Error() string {
	return fmt.Sprintf("%s: %s: %s", be.Module, be.Severity, be.Message)
}

// ErrorCollector collects and manages build errors and general errors
type ErrorCollector struct {
	buildErrors []BuildError
	errors      []error
	mutex       sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		buildErrors: make([]BuildError, 0),
		errors:      make([]error, 0),
	}
}

// Add adds a build error to the collector
func (ec *ErrorCollector) Add(err BuildError) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	err.Timestamp = time.Now()
	ec.buildErrors = append(ec.buildErrors, err)
}

// AddError records err. Structured errors that name a module become build
// errors; recoverable ones are downgraded to warnings.
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}

	if module := ModuleOf(err); module != "" {
		severity := ErrorSeverityError
		if IsRecoverable(err) {
			severity = ErrorSeverityWarning
		}
		ec.Add(BuildError{
			Module:   module,
			Code:     CodeOf(err),
			Message:  err.Error(),
			Severity: severity,
		})
		return
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetErrors returns all collected build errors
func (ec *ErrorCollector) GetErrors() []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]BuildError, len(ec.buildErrors))
	copy(result, ec.buildErrors)
	return result
}

// GetAllErrors returns all collected errors (build and general)
func (ec *ErrorCollector) GetAllErrors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	allErrors := make([]error, 0, len(ec.buildErrors)+len(ec.errors))
	for i := range ec.buildErrors {
		allErrors = append(allErrors, &ec.buildErrors[i])
	}
	allErrors = append(allErrors, ec.errors...)

	return allErrors
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.buildErrors) > 0 || len(ec.errors) > 0
}

// HasFatal reports whether any collected error is at error severity or above.
func (ec *ErrorCollector) HasFatal() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	if len(ec.errors) > 0 {
		return true
	}
	for _, err := range ec.buildErrors {
		if err.Severity >= ErrorSeverityError {
			return true
		}
	}
	return false
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.buildErrors = ec.buildErrors[:0]
	ec.errors = ec.errors[:0]
}

// GetErrorsByModule returns errors for a specific module
func (ec *ErrorCollector) GetErrorsByModule(url string) []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var moduleErrors []BuildError
	for _, err := range ec.buildErrors {
		if err.Module == url {
			moduleErrors = append(moduleErrors, err)
		}
	}
	return moduleErrors
}

// FailingModules returns the distinct module URLs with recorded errors, sorted.
func (ec *ErrorCollector) FailingModules() []string {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	seen := make(map[string]bool)
	modules := make([]string, 0)
	for _, err := range ec.buildErrors {
		if !seen[err.Module] {
			seen[err.Module] = true
			modules = append(modules, err.Module)
		}
	}
	sort.Strings(modules)
	return modules
}
