package cli

import (
	"errors"
	"io/fs"

	"github.com/roach88/cfgset/internal/cfg"
)

// Error codes
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStoreFailed = "E008" // Run ledger error

	ErrCodeMismatch      = "E201" // Structural mismatch between inputs
	ErrCodeUnknownRef    = "E202" // Reference to an absent routine or node
	ErrCodeFormat        = "E203" // Malformed dataset or trace
	ErrCodeConfiguration = "E204" // Invalid config or flags
)

// classify maps an error to its response code and exit code.
// Only a structural mismatch exits with ExitFailure: the inputs were read
// fine but cannot be reconciled.
func classify(err error) (code string, exit int) {
	switch cfg.KindOf(err) {
	case cfg.ErrStructuralMismatch:
		return ErrCodeMismatch, ExitFailure
	case cfg.ErrUnknownReference:
		return ErrCodeUnknownRef, ExitCommandError
	case cfg.ErrFormat:
		return ErrCodeFormat, ExitCommandError
	case cfg.ErrConfiguration:
		return ErrCodeConfiguration, ExitCommandError
	}
	if errors.Is(err, fs.ErrNotExist) {
		return ErrCodeNotFound, ExitCommandError
	}
	return ErrCodeGeneric, ExitCommandError
}

// fail reports err through the formatter and returns the matching ExitError.
func fail(f *OutputFormatter, message string, err error) error {
	code, exit := classify(err)
	_ = f.Error(code, message+": "+err.Error(), errorDetails(err))
	return WrapExitError(exit, message, err)
}

// failCode is fail with a fixed response code, for errors outside the
// cfg taxonomy.
func failCode(f *OutputFormatter, code, message string, err error) error {
	_ = f.Error(code, message+": "+err.Error(), nil)
	return WrapExitError(ExitCommandError, message, err)
}

func errorDetails(err error) interface{} {
	var e *cfg.Error
	if !errors.As(err, &e) {
		return nil
	}
	details := map[string]interface{}{"kind": string(e.Kind)}
	if e.Routine != nil {
		details["routine"] = e.Routine.String()
		if e.Node >= 0 {
			details["node"] = e.Node
		}
	}
	return details
}
