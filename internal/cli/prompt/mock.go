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

package prompt

import "context"

// MockPrompter is a scripted Prompter for tests.
type MockPrompter struct {
	// Answer is returned by every Confirm call.
	Answer bool

	// Err, when set, is returned instead.
	Err error

	// Asked records the messages Confirm was called with.
	Asked []string

	// Interactive is what IsInteractive reports.
	Interactive bool
}

// Confirm returns the scripted answer and records the question.
func (mp *MockPrompter) Confirm(_ context.Context, message string, _ bool) (bool, error) {
	mp.Asked = append(mp.Asked, message)
	if mp.Err != nil {
		return false, mp.Err
	}
	return mp.Answer, nil
}

// IsInteractive reports the scripted interactivity.
func (mp *MockPrompter) IsInteractive() bool {
	return mp.Interactive
}
