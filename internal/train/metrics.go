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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stepsTotal tracks training steps completed across all attempts
	stepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_steps_total",
			Help: "Total training steps completed",
		},
	)

	// restartsTotal tracks supervisor restarts after attempt failures
	restartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_restarts_total",
			Help: "Total pipeline restarts triggered by attempt failures",
		},
	)

	// currentStep tracks the step the runner is currently at
	currentStep = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_current_step",
			Help: "Current training step",
		},
	)

	// trainLoss tracks the most recent per-step training loss
	trainLoss = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_train_loss",
			Help: "Training loss of the most recent step",
		},
	)
)
