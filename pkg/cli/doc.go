// Package cli holds terminal output helpers shared by the speechprep
// commands: structured output (YAML or JSON), a styled run summary and
// human-readable number formatting.
package cli
