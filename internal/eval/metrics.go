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

package eval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// roundsCompleted tracks evaluation rounds run to completion
	roundsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_eval_rounds_total",
			Help: "Total evaluation rounds completed",
		},
	)

	// taskFailures tracks benchmark tasks that failed within a round
	taskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_eval_task_failures_total",
			Help: "Total benchmark task failures, by task",
		},
		[]string{"task"},
	)
)
