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

// Package telemetry fans training and evaluation metrics out to reporting
// backends: structured logs, Prometheus gauges, and a durable SQLite run
// store.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/tombee/maestro/internal/log"
)

// Sink receives metric tuples attributed to a training step. Metric names
// follow the run's reporting convention, e.g. train/loss, val/loss_pile,
// lambada/ppl.
type Sink interface {
	// Log reports a set of metrics measured at step.
	Log(ctx context.Context, step uint64, metrics map[string]float64) error

	// Close flushes and releases the sink.
	Close() error
}

// LogSink reports metrics as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that writes metrics to a logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Log reports metrics at info level, one attribute per metric, with names
// sorted so output is stable.
func (s *LogSink) Log(ctx context.Context, step uint64, metrics map[string]float64) error {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	attrs := make([]any, 0, len(names)+1)
	attrs = append(attrs, slog.Uint64(log.StepKey, step))
	for _, name := range names {
		attrs = append(attrs, slog.Float64(name, metrics[name]))
	}

	s.logger.Info("metrics", attrs...)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error {
	return nil
}

// MultiSink fans every report out to a set of sinks. All sinks see every
// report; failures are joined rather than short-circuiting.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Log reports to every sink.
func (m *MultiSink) Log(ctx context.Context, step uint64, metrics map[string]float64) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Log(ctx, step, metrics); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
