package cli

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitFindings means the command ran but reported problems, such as
	// invalid rules or a broken audit chain.
	ExitFindings = 2
	ExitConfig   = 3
)

// ConfigError reports an unusable configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// NewConfigError creates a ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// FindingsError reports that a command completed with findings.
type FindingsError struct {
	Command string
	Count   int
}

func (e *FindingsError) Error() string {
	return fmt.Sprintf("%s: %d problem(s) found", e.Command, e.Count)
}

// CommandError wraps a failure of a command.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{Command: command, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *ConfigError
	var findings *FindingsError
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &findings):
		return ExitFindings
	default:
		return ExitFailure
	}
}
