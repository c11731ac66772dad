package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"table", "json", "yaml"}

// OutputFlags are shared by commands that print structured results.
type OutputFlags struct {
	Format  string
	Verbose bool
	Quiet   bool
}

// AddOutputFlags adds --output, --verbose and --quiet to cmd.
func AddOutputFlags(cmd *cobra.Command) *OutputFlags {
	flags := &OutputFlags{}
	cmd.Flags().StringVarP(&flags.Format, "output", "o", "table", "Output format (table|json|yaml)")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress output")

	AddFlagValidation(cmd, "output", func(format string) error {
		return ValidateFormatWithSuggestion(format, outputFormats)
	})
	return flags
}

// ValidateFlags validates flag combinations and values
func (f *OutputFlags) ValidateFlags() error {
	if err := ValidateFormatWithSuggestion(f.Format, outputFormats); err != nil {
		return err
	}
	if f.Quiet && f.Verbose {
		return fmt.Errorf("cannot specify both --quiet and --verbose")
	}
	return nil
}

// Write prints v as JSON or YAML, or calls table for the table format.
// Quiet suppresses table output only.
func (f *OutputFlags) Write(w io.Writer, v interface{}, table func(w io.Writer) error) error {
	switch strings.ToLower(f.Format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		if f.Quiet {
			return nil
		}
		return table(w)
	}
}

// ValidateFormatWithSuggestion rejects an unknown format, suggesting the
// closest valid one.
func ValidateFormatWithSuggestion(format string, valid []string) error {
	format = strings.ToLower(format)
	for _, v := range valid {
		if format == v {
			return nil
		}
	}

	msg := fmt.Sprintf("invalid format %q, must be one of: %s", format, strings.Join(valid, ", "))
	for _, v := range valid {
		if format != "" && (strings.HasPrefix(v, format) || strings.HasPrefix(format, v)) {
			msg += fmt.Sprintf(" (did you mean %q?)", v)
			break
		}
	}
	return fmt.Errorf("%s", msg)
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	originalSet := flag.Value.Set
	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: originalSet,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}
