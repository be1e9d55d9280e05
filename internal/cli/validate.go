package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pipewright/internal/compiler"
	"github.com/roach88/pipewright/internal/module"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                        `json:"valid"`
	Modules  []string                    `json:"modules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <modules-dir>",
		Short: "Validate module definitions",
		Long: `Validate the CUE module definitions in a directory.

Checks every module against the module schema, then checks the set as a
whole: unique names, known kinds, and group-by items that some module
consumes or produces. Cycles between modules are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadModules(dir, LoadModeCollectAll)
	if loadResult == nil {
		code, msg := loadErrorCode(loadErrors[0])
		return formatter.Fail(ExitCommandError, code, msg, nil)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	result := ValidationResult{
		Modules:  make([]string, 0, len(loadResult.Definitions)),
		Warnings: compiler.AnalyzeCycles(loadResult.Definitions),
	}
	for _, def := range loadResult.Definitions {
		formatter.VerboseLog("Validating module: %s", def.Name)
		result.Modules = append(result.Modules, def.Name)
	}
	for _, err := range loadErrors {
		verr := compiler.ValidationError{Module: "load", Message: err.Error(), Code: ErrCodeGeneric}
		var le *LoadError
		if errors.As(err, &le) {
			verr.Code = le.Code
			verr.Message = le.Message
			if le.Pos.IsValid() {
				verr.Message = fmt.Sprintf("%s:%d: %s", le.Pos.Filename(), le.Pos.Line(), le.Message)
			}
		}
		result.Errors = append(result.Errors, verr)
	}
	result.Errors = append(result.Errors,
		compiler.Validate(loadResult.Definitions, module.DefaultRegistry().Kinds())...)
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "%s: %s\n", w.Level, w.Message)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d module(s) valid\n", len(result.Modules))
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	first := result.Errors[0]
	if formatter.Format == "json" {
		_ = json.NewEncoder(formatter.Writer).Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    first.Code,
				Message: first.Message,
			},
		})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %d validation error(s):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s), first: %s", len(result.Errors), first.Error()))
}
