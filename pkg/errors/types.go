// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrInterrupted marks an operator-issued interrupt. The supervisor treats it
// as terminal: unlike every other failure, an interrupted attempt is never
// restarted.
var ErrInterrupted = errors.New("interrupted by operator")

// IsInterrupt reports whether err represents an operator interrupt, either
// directly or via context cancellation.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

// ValidationError represents input validation failures.
// Use this for invalid config values, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConfigError represents configuration problems.
// Use this for config file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "val_every")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// CheckpointExistsError is returned when an initial checkpoint write finds
// prior checkpoint data and overwrite was not authorized. Run initialization
// recovers from it locally by loading the latest checkpoint instead.
type CheckpointExistsError struct {
	// Location is the checkpoint address that already holds data
	Location string

	// Step is the latest step found at the location
	Step uint64
}

// Error implements the error interface.
func (e *CheckpointExistsError) Error() string {
	return fmt.Sprintf("checkpoint data already exists at %s (latest step %d)", e.Location, e.Step)
}

// TaskError represents a benchmark task failure. Task failures are isolated:
// the evaluation round records the error for the failing task and carries on
// with the remaining tasks.
type TaskError struct {
	// Task is the benchmark task name (e.g., "lambada")
	Task string

	// Step is the training step the evaluation round was measuring
	Step uint64

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("benchmark task %s failed at step %d: %v", e.Task, e.Step, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "checkpoint", "dataset")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
