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

package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exposes the latest value of every reported metric as a Prometheus
// gauge labeled by metric name and run.
type PromSink struct {
	run    string
	values *prometheus.GaugeVec
	step   *prometheus.GaugeVec
}

// NewPromSink creates a Prometheus sink registered against reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewPromSink(run string, reg prometheus.Registerer) *PromSink {
	s := &PromSink{
		run: run,
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maestro_metric",
			Help: "Latest reported value of each training/evaluation metric",
		}, []string{"run", "metric"}),
		step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maestro_metric_step",
			Help: "Training step the latest report of each metric was measured at",
		}, []string{"run", "metric"}),
	}
	reg.MustRegister(s.values, s.step)
	return s
}

// Log updates the gauges for each reported metric.
func (s *PromSink) Log(ctx context.Context, step uint64, metrics map[string]float64) error {
	for name, value := range metrics {
		s.values.WithLabelValues(s.run, name).Set(value)
		s.step.WithLabelValues(s.run, name).Set(float64(step))
	}
	return nil
}

// Close implements Sink.
func (s *PromSink) Close() error {
	return nil
}
