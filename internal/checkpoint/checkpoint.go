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

// Package checkpoint persists run state durably and enforces the retention
// policy that decides which past checkpoints survive.
package checkpoint

import (
	"context"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tombee/maestro/internal/dataset"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Checkpoint is one durable snapshot of run state. Once written it is fully
// self-sufficient: loading it and nothing else reproduces a consistent run.
type Checkpoint struct {
	// Step is the training step the snapshot was taken at.
	Step uint64 `json:"step"`

	// Params is the model-parameter snapshot, opaque to this package.
	Params []byte `json:"params"`

	// Cursor is the training dataset position at Step. A nil cursor means
	// the position was not captured; resuming from such a checkpoint loses
	// exact data-order resumption but is otherwise sound.
	Cursor *dataset.Cursor `json:"cursor,omitempty"`

	// CreatedAt records when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Store is durable checkpoint storage keyed by step. Save must be atomic from
// the caller's perspective: after a failed Save the store holds either the
// complete new checkpoint or no trace of it.
type Store interface {
	// Save durably writes a checkpoint, overwriting any checkpoint already
	// stored at the same step.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load reads the checkpoint at a step. Returns *errors.NotFoundError if
	// no checkpoint exists there.
	Load(ctx context.Context, step uint64) (*Checkpoint, error)

	// List returns the steps of all stored checkpoints in ascending order.
	List(ctx context.Context) ([]uint64, error)

	// Delete removes the checkpoint at a step. Deleting a step that holds
	// no checkpoint is not an error.
	Delete(ctx context.Context, step uint64) error

	// Location describes the store's address for logs and errors.
	Location() string
}

// Open constructs a Store for a checkpoint location. Locations beginning with
// s3:// get the S3 store; everything else is treated as a local directory.
func Open(ctx context.Context, location string) (Store, error) {
	if !strings.HasPrefix(location, "s3://") {
		return NewFSStore(location)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, maestroerrors.Wrap(err, "loading AWS config")
	}
	return NewS3Store(s3.NewFromConfig(cfg), location)
}
