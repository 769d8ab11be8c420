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

// Package prompt collects interactive confirmations on the terminal, with a
// non-interactive mode for CI and scripted runs.
package prompt

import (
	"context"
	"os"

	"golang.org/x/term"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Prompter asks the operator for confirmation before destructive operations.
// Implementations: SurveyPrompter (production) and MockPrompter (testing).
type Prompter interface {
	// Confirm asks a yes/no question and returns the answer.
	Confirm(ctx context.Context, message string, def bool) (bool, error)

	// IsInteractive reports whether prompts can be displayed.
	IsInteractive() bool
}

// ErrNotInteractive is returned when a confirmation is required but no
// terminal is attached and the operation was not pre-approved.
var ErrNotInteractive = maestroerrors.New("confirmation required but not running interactively")

// StdinIsTerminal reports whether stdin is attached to a terminal.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
