// Package validation checks identifiers and paths that cross a trust
// boundary: module URLs handed to the compiler and project-relative paths
// read from configuration.
package validation

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ValidateModuleURL validates a module identifier. Local modules must be
// clean absolute paths inside the project root ("/pages/index.tsx"); remote
// modules must be absolute http(s) locators with a host.
func ValidateModuleURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("module url cannot be empty")
	}

	if strings.ContainsAny(raw, "\x00\n\r") {
		return fmt.Errorf("module url contains control characters")
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return ValidateRemoteURL(raw)
	}

	return ValidateLocalPath(raw)
}

// ValidateRemoteURL validates an absolute http(s) module locator.
func ValidateRemoteURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	if strings.Contains(raw, " ") {
		return fmt.Errorf("URL contains spaces")
	}

	return nil
}

// ValidateLocalPath validates a project-rooted module path.
func ValidateLocalPath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("local module path must start with '/': %s", p)
	}

	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal detected: %s", p)
		}
	}

	if path.Clean(p) != p {
		return fmt.Errorf("local module path is not clean: %s", p)
	}

	if strings.HasSuffix(p, "/") {
		return fmt.Errorf("local module path names a directory: %s", p)
	}

	return nil
}

// ValidateRelativeDir validates a project-relative directory taken from
// configuration (pages dir, build output dir).
func ValidateRelativeDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if path.IsAbs(dir) {
		return fmt.Errorf("path should be relative: %s", dir)
	}

	for _, segment := range strings.Split(path.Clean(dir), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains traversal: %s", dir)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">"}
	for _, char := range dangerousChars {
		if strings.Contains(dir, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
