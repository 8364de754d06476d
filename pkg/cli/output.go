package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatSummary renders a styled summary for terminals
	FormatSummary OutputFormat = "summary"
	// FormatYAML outputs as YAML
	FormatYAML OutputFormat = "yaml"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatSummary, FormatYAML, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// Output encodes result to w as YAML or JSON.
func Output(w io.Writer, result any, format OutputFormat) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// PrintSuccess prints a success message with checkmark
func PrintSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "✓ "+format+"\n", args...)
}
