package config

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/language"

	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// validateConfig returns the first validation error, if any.
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if result.HasErrors() {
		first := result.Errors[0]
		return &first
	}
	return nil
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateProjectConfigDetails(&config.Project, result)
	validateBuildConfigDetails(&config.Build, result)
	validateRoutingConfigDetails(&config.Routing, result)
	validateDevelopmentConfigDetails(&config.Development, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateProjectConfigDetails(config *ProjectConfig, result *ValidationResult) {
	if err := validation.ValidateRelativeDir(config.PagesDir); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "project.pages_dir",
			Value:   config.PagesDir,
			Message: err.Error(),
			Suggestions: []string{
				"Use a directory relative to the project root, e.g. 'pages'",
			},
		})
	}

	for _, shell := range config.ShellModules {
		if err := validation.ValidateModuleURL(shell); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "project.shell_modules",
				Value:   shell,
				Message: err.Error(),
				Suggestions: []string{
					"Shell modules are project-rooted module URLs, e.g. '/app.tsx'",
				},
			})
		}
	}

	for _, ext := range config.PageExtensions {
		if !strings.HasPrefix(ext, ".") || strings.Contains(ext, "/") {
			result.Errors = append(result.Errors, ValidationError{
				Field:       "project.page_extensions",
				Value:       ext,
				Message:     fmt.Sprintf("invalid extension %q", ext),
				Suggestions: []string{"Extensions start with a dot, e.g. '.md'"},
			})
		}
	}
}

func validateBuildConfigDetails(config *BuildConfig, result *ValidationResult) {
	if err := validation.ValidateRelativeDir(config.OutDir); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "build.out_dir",
			Value:   config.OutDir,
			Message: err.Error(),
			Suggestions: []string{
				"Use a directory relative to the project root, e.g. '.pagegraph'",
			},
		})
	}

	if config.FetchRetries < 1 || config.FetchRetries > 10 {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "build.fetch_retries",
			Value:       config.FetchRetries,
			Message:     fmt.Sprintf("fetch_retries %d is not in range 1-10", config.FetchRetries),
			Suggestions: []string{"The default of 3 attempts suits most CDNs"},
		})
	}

	if config.FetchTimeout <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "build.fetch_timeout",
			Value:   config.FetchTimeout,
			Message: "fetch_timeout must be positive",
		})
	}

	if config.FetchBackoff < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "build.fetch_backoff",
			Value:   config.FetchBackoff,
			Message: "fetch_backoff cannot be negative",
		})
	}

	if config.CacheSize < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "build.cache_size",
			Value:   config.CacheSize,
			Message: "cache_size cannot be negative",
		})
	}

	if config.Concurrency < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "build.concurrency",
			Value:       config.Concurrency,
			Message:     "concurrency must be at least 1",
			Suggestions: []string{"Start with the number of CPU cores"},
		})
	} else if config.Concurrency > 64 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "build.concurrency",
			Value:   config.Concurrency,
			Message: "very high concurrency rarely speeds up builds",
		})
	}
}

func validateRoutingConfigDetails(config *RoutingConfig, result *ValidationResult) {
	if config.DefaultLocale != "" {
		if _, err := language.Parse(config.DefaultLocale); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:       "routing.default_locale",
				Value:       config.DefaultLocale,
				Message:     fmt.Sprintf("invalid language tag: %v", err),
				Suggestions: []string{"Use a BCP 47 tag such as 'en' or 'zh-CN'"},
			})
		}
	}

	seen := make(map[string]bool, len(config.Locales))
	for _, locale := range config.Locales {
		tag, err := language.Parse(locale)
		if err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:       "routing.locales",
				Value:       locale,
				Message:     fmt.Sprintf("invalid language tag: %v", err),
				Suggestions: []string{"Use BCP 47 tags such as 'fr' or 'pt-BR'"},
			})
			continue
		}
		if seen[tag.String()] {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   "routing.locales",
				Value:   locale,
				Message: fmt.Sprintf("duplicate locale %s", tag),
			})
		}
		seen[tag.String()] = true
	}

	from := make(map[string]bool, len(config.Rewrites))
	for _, rewrite := range config.Rewrites {
		for _, p := range []string{rewrite.From, rewrite.To} {
			if !strings.HasPrefix(p, "/") || path.Clean(p) != p {
				result.Errors = append(result.Errors, ValidationError{
					Field:       "routing.rewrites",
					Value:       p,
					Message:     fmt.Sprintf("rewrite path %q must be a clean absolute path", p),
					Suggestions: []string{"Write rewrites as {from: /old, to: /new}"},
				})
			}
		}
		if from[rewrite.From] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "routing.rewrites",
				Value:   rewrite.From,
				Message: fmt.Sprintf("duplicate rewrite for %s", rewrite.From),
			})
		}
		from[rewrite.From] = true
	}
}

func validateDevelopmentConfigDetails(config *DevelopmentConfig, result *ValidationResult) {
	if config.Debounce < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "development.debounce",
			Value:   config.Debounce,
			Message: "debounce cannot be negative",
		})
	}

	for _, pattern := range config.Ignore {
		if _, err := path.Match(pattern, ""); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "development.ignore",
				Value:   pattern,
				Message: fmt.Sprintf("malformed pattern: %v", err),
			})
		}
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.level",
			Value:       config.Level,
			Message:     err.Error(),
			Suggestions: []string{"One of: debug, info, warn, error"},
		})
	}

	switch config.Format {
	case "", "text", "json":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.format",
			Value:       config.Format,
			Message:     fmt.Sprintf("unknown log format %q", config.Format),
			Suggestions: []string{"Use 'text' or 'json'"},
		})
	}
}
