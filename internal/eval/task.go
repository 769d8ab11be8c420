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

// Package eval schedules and runs evaluation rounds: validation-set losses
// first, then the benchmark task suite, in a fixed order so rounds at the
// same step are comparable.
package eval

import (
	"context"

	"github.com/tombee/maestro/internal/model"
)

// Task is a self-contained benchmark scorer. Given a model handle and a
// batch size it runs a fixed evaluation protocol and returns named metrics
// (e.g. lambada/ppl, piqa/acc). Tasks own their data and their scoring; the
// scheduler only sequences them.
type Task interface {
	// Name identifies the task in metrics, logs and errors.
	Name() string

	// Run scores the model. Metric names returned should be prefixed with
	// the task name.
	Run(ctx context.Context, batchSize int, m model.Handle) (map[string]float64, error)
}
