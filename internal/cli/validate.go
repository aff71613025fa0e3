package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arcbond/bondengine/internal/config"
	"github.com/arcbond/bondengine/internal/harness"
)

// File kinds accepted by validate.
const (
	KindSeries   = "series"
	KindScenario = "scenario"
)

// ValidationIssue is one problem found in a file.
type ValidationIssue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	File   string            `json:"file"`
	Kind   string            `json:"kind"`
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a series or scenario file",
		Long: `Validate a series configuration (YAML or CUE) or a scenario file.

The kind is detected from the file: CUE files are series, YAML files with a
top-level steps list are scenarios. Use --kind to override.

Exit codes:
  0 - File is valid
  1 - File has errors
  2 - Command error (file not found, etc.)

Examples:
  bondctl validate series.yaml
  bondctl validate series.cue --format json
  bondctl validate scenarios/end_to_end.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, kind, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "file kind (series|scenario), detected when empty")

	return cmd
}

func runValidate(opts *RootOptions, kind, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("file not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "failed to read file", err)
	}
	if kind == "" {
		kind = detectKind(path, data)
	}
	formatter.VerboseLog("Validating %s as %s", path, kind)

	result := ValidationResult{File: path, Kind: kind}
	switch kind {
	case KindSeries:
		result.Errors = validateSeries(path)
	case KindScenario:
		result.Errors = validateScenario(data)
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q: must be %s or %s", kind, KindSeries, KindScenario))
	}
	result.Valid = len(result.Errors) == 0

	if formatter.JSON() {
		if result.Valid {
			if err := formatter.Success(result); err != nil {
				return err
			}
		} else if err := formatter.Error(ErrCodeInvalid, "validation failed", result); err != nil {
			return err
		}
	} else {
		printValidation(cmd, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// detectKind tells a scenario from a series file. Files that do not parse
// are treated as series so the CUE errors describe them.
func detectKind(path string, data []byte) string {
	if filepath.Ext(path) == ".cue" {
		return KindSeries
	}
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return KindSeries
	}
	if _, ok := top["steps"]; ok {
		return KindScenario
	}
	return KindSeries
}

func validateSeries(path string) []ValidationIssue {
	series, err := config.Load(path)
	if err == nil {
		_, err = series.Params()
	}
	if err == nil {
		return nil
	}

	var issues []ValidationIssue
	for _, ce := range config.Errors(err) {
		issue := ValidationIssue{Path: ce.Path, Message: ce.Message}
		if ce.Pos.IsValid() {
			issue.Line = ce.Pos.Line()
			issue.Column = ce.Pos.Column()
		}
		issues = append(issues, issue)
	}
	return issues
}

func validateScenario(data []byte) []ValidationIssue {
	if _, err := harness.ParseScenario(data); err != nil {
		return []ValidationIssue{{Message: err.Error()}}
	}
	return nil
}

func printValidation(cmd *cobra.Command, result ValidationResult) {
	w := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(w, "✓ %s: valid %s\n", result.File, result.Kind)
		return
	}
	fmt.Fprintf(w, "✗ %s: %d error(s)\n", result.File, len(result.Errors))
	for _, issue := range result.Errors {
		loc := issue.Path
		if issue.Line > 0 {
			loc = fmt.Sprintf("%d:%d %s", issue.Line, issue.Column, issue.Path)
		}
		if loc == "" {
			fmt.Fprintf(w, "  %s\n", issue.Message)
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", loc, issue.Message)
	}
}
