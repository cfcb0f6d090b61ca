// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/jeranaias/servechat/internal/config"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates the endpoint rejected the token
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitServingError indicates the endpoint answered with an error
	ExitServingError = 6
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "report", "sessions")
	Action  string // Action being performed (e.g., "export", "delete")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError represents invalid user input.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += "\nExample: " + e.Example
	}
	return msg
}

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// ErrMissingArgument reports a required argument that was not given.
func ErrMissingArgument(argName, usage string) error {
	return &UsageError{Field: argName, Reason: "required argument missing", Example: usage}
}

// ErrUnsupportedFormat reports an output format outside supported.
func ErrUnsupportedFormat(format string, supported []string) error {
	return &UsageError{
		Field:  "format",
		Value:  format,
		Reason: "supported formats: " + strings.Join(supported, ", "),
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to stderr with a hint when one applies.
func DisplayError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(os.Stderr, DimStyle.Render(hint))
	}
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, config.ErrNoEndpoint):
		return "Run 'servechat config init' or export SERVING_ENDPOINT."
	case errors.Is(err, serving.ErrAuthFailed):
		return "Check DATABRICKS_TOKEN or [endpoint] token in the config file."
	case errors.Is(err, serving.ErrEndpointNotFound):
		return "Check the endpoint name and workspace host."
	case errors.Is(err, storage.ErrSessionNotFound):
		return "Run 'servechat sessions' to list saved sessions."
	}
	return ""
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) || errors.Is(err, config.ErrNoEndpoint) || errors.Is(err, serving.ErrNotConfigured) {
		return ExitConfigError
	}

	if errors.Is(err, serving.ErrAuthFailed) {
		return ExitAuthError
	}

	if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, serving.ErrEndpointNotFound) {
		return ExitNotFoundError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ExitTimeoutError
		}
		return ExitNetworkError
	}

	var apiErr *serving.APIError
	if errors.As(err, &apiErr) || errors.Is(err, serving.ErrRateLimited) {
		return ExitServingError
	}

	return ExitGeneralError
}
