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

package train

// RunState is the explicit progress record of one attempt. It is the single
// source of truth for the current step; schedules and telemetry all key off
// it rather than off any implicit counter inside the model.
type RunState struct {
	// Step is the next step to execute. Starts at 0 on a fresh run, or at
	// the checkpointed step on resume.
	Step uint64

	// Resumed is true when the attempt restored model parameters and (when
	// available) the dataset cursor from a prior checkpoint.
	Resumed bool

	// RunningLoss is the model's smoothed running loss average as of the
	// most recently completed step.
	RunningLoss float64
}
