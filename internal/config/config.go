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

// Package config loads and validates experiment configuration files.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Positional-encoding modes accepted by the model.
const (
	PEFixed  = "fixed"
	PERotary = "rotary"
	PET5     = "t5"
)

// Config describes one training experiment. It is loaded from a YAML file
// named on the command line and stays immutable for the life of the process.
type Config struct {
	// Name is the experiment name, used as the run identity for telemetry.
	Name string `yaml:"name"`

	// Bucket is the checkpoint storage root. Plain paths select the
	// filesystem store; s3:// URLs select the S3 store.
	Bucket string `yaml:"bucket"`

	// ModelDir is the directory under Bucket holding this run's checkpoints.
	ModelDir string `yaml:"model_dir"`

	// Model shape. Owned by the model handle; the supervisor only carries
	// them through to construction and telemetry.
	Layers int    `yaml:"layers"`
	DModel int    `yaml:"d_model"`
	NHeads int    `yaml:"n_heads"`
	NVocab int    `yaml:"n_vocab"`
	Seq    int    `yaml:"seq"`
	Norm   string `yaml:"norm"`

	// PE is the positional-encoding mode: fixed, rotary or t5.
	PE string `yaml:"pe"`

	// Replica topology.
	PerReplicaBatch int `yaml:"per_replica_batch"`
	TPUSize         int `yaml:"tpu_size"`
	CoresPerReplica int `yaml:"cores_per_replica"`

	// GradientAccumulationSteps is the number of sub-batches folded into one
	// optimizer update. Default: 1.
	GradientAccumulationSteps int `yaml:"gradient_accumulation_steps"`

	// DataDir is the directory holding dataset record files. Default: data.
	DataDir string `yaml:"data_dir"`

	// TrainSet is the training dataset file, relative to DataDir.
	TrainSet string `yaml:"train_set"`

	// ValSet maps validation set names to dataset files relative to DataDir.
	ValSet map[string]string `yaml:"val_set"`

	// ValBatches bounds how many batches each validation set contributes
	// per evaluation round.
	ValBatches int `yaml:"val_batches"`

	// Scheduling intervals, in steps.
	ValEvery  uint64 `yaml:"val_every"`
	CkptEvery uint64 `yaml:"ckpt_every"`
	KeepEvery uint64 `yaml:"keep_every"`

	// Tasks configures the benchmark task suite. Order is significant: tasks
	// run in the order listed, every round. Empty means no benchmark tasks.
	Tasks []TaskConfig `yaml:"tasks,omitempty"`

	// RunDB is the path of the local SQLite telemetry database.
	// Empty disables durable telemetry.
	RunDB string `yaml:"run_db,omitempty"`

	// MetricsListen is the address for the Prometheus /metrics endpoint.
	// Empty disables the listener.
	MetricsListen string `yaml:"metrics_listen,omitempty"`
}

// TaskConfig configures one benchmark task.
type TaskConfig struct {
	// Name selects the scorer: lambada, winogrande, piqa or hellaswag.
	Name string `yaml:"name"`

	// Path is the task's examples file (JSONL), relative to DataDir.
	Path string `yaml:"path"`

	// Limit bounds the task to its first N examples. 0 means all.
	Limit int `yaml:"limit,omitempty"`
}

// Load reads, parses and validates an experiment config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &maestroerrors.ConfigError{Reason: "cannot read config file", Cause: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &maestroerrors.ConfigError{Reason: "cannot parse config file", Cause: err}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GradientAccumulationSteps == 0 {
		c.GradientAccumulationSteps = 1
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &maestroerrors.ConfigError{Key: "name", Reason: "experiment name is required"}
	}
	if c.Bucket == "" {
		return &maestroerrors.ConfigError{Key: "bucket", Reason: "checkpoint bucket is required"}
	}
	if c.ModelDir == "" {
		return &maestroerrors.ConfigError{Key: "model_dir", Reason: "checkpoint model_dir is required"}
	}

	switch c.PE {
	case PEFixed, PERotary, PET5:
	default:
		return &maestroerrors.ValidationError{
			Field:      "pe",
			Message:    "must be one of fixed, rotary, t5",
			Suggestion: "set pe to the positional-encoding mode the model was built with",
		}
	}

	for key, v := range map[string]int{
		"layers":            c.Layers,
		"d_model":           c.DModel,
		"n_heads":           c.NHeads,
		"n_vocab":           c.NVocab,
		"seq":               c.Seq,
		"per_replica_batch": c.PerReplicaBatch,
		"tpu_size":          c.TPUSize,
		"cores_per_replica": c.CoresPerReplica,
		"val_batches":       c.ValBatches,
	} {
		if v <= 0 {
			return &maestroerrors.ConfigError{Key: key, Reason: "must be a positive integer"}
		}
	}

	if c.GradientAccumulationSteps < 1 {
		return &maestroerrors.ConfigError{Key: "gradient_accumulation_steps", Reason: "must be at least 1"}
	}
	if c.TPUSize%c.CoresPerReplica != 0 {
		return &maestroerrors.ConfigError{
			Key:    "cores_per_replica",
			Reason: "must evenly divide tpu_size",
		}
	}

	for key, v := range map[string]uint64{
		"val_every":  c.ValEvery,
		"ckpt_every": c.CkptEvery,
		"keep_every": c.KeepEvery,
	} {
		if v == 0 {
			return &maestroerrors.ConfigError{Key: key, Reason: "must be a positive step interval"}
		}
	}

	if c.TrainSet == "" {
		return &maestroerrors.ConfigError{Key: "train_set", Reason: "training dataset is required"}
	}

	for _, task := range c.Tasks {
		switch strings.ToLower(task.Name) {
		case "lambada", "winogrande", "piqa", "hellaswag":
		default:
			return &maestroerrors.ValidationError{
				Field:      "tasks",
				Message:    "unknown benchmark task " + task.Name,
				Suggestion: "supported tasks: lambada, winogrande, piqa, hellaswag",
			}
		}
		if task.Path == "" {
			return &maestroerrors.ConfigError{Key: "tasks", Reason: "task " + task.Name + " needs a path"}
		}
	}

	return nil
}

// Replicas returns the number of model replicas across the accelerator set.
func (c *Config) Replicas() int {
	return c.TPUSize / c.CoresPerReplica
}

// GlobalBatch returns the per-pass batch size aggregated across replicas.
// This is both the evaluation batch size and the second axis of the
// training batch shape.
func (c *Config) GlobalBatch() int {
	return c.PerReplicaBatch * c.Replicas()
}

// CheckpointLocation returns the checkpoint address for this run.
func (c *Config) CheckpointLocation() string {
	return strings.TrimRight(c.Bucket, "/") + "/" + strings.Trim(c.ModelDir, "/")
}
