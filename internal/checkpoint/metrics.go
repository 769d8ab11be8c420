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

package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checkpointsWritten tracks durable checkpoint writes
	checkpointsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_checkpoints_written_total",
			Help: "Total checkpoints durably written",
		},
	)

	// checkpointsDeleted tracks transient checkpoints removed by retention
	checkpointsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_checkpoints_deleted_total",
			Help: "Total superseded transient checkpoints deleted",
		},
	)

	// checkpointStep tracks the step of the latest durable checkpoint
	checkpointStep = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_checkpoint_step",
			Help: "Step of the most recently written checkpoint",
		},
	)
)
