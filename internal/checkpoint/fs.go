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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

const ckptSuffix = ".ckpt"

// FSStore stores checkpoints as JSON files in a local directory, one file per
// step. Writes go to a temp file first and are renamed into place, so a
// partially written checkpoint is never visible under its final name.
type FSStore struct {
	dir string
}

// NewFSStore creates a filesystem checkpoint store rooted at dir, creating
// the directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, maestroerrors.Wrap(err, "creating checkpoint directory")
	}
	return &FSStore{dir: dir}, nil
}

// Save durably writes a checkpoint.
func (s *FSStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return maestroerrors.Wrap(err, "marshaling checkpoint")
	}

	final := s.path(cp.Step)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(final)+".tmp-*")
	if err != nil {
		return maestroerrors.Wrap(err, "creating checkpoint temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return maestroerrors.Wrap(err, "writing checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return maestroerrors.Wrap(err, "syncing checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return maestroerrors.Wrap(err, "closing checkpoint temp file")
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		return maestroerrors.Wrap(err, "publishing checkpoint")
	}
	return nil
}

// Load reads the checkpoint at a step.
func (s *FSStore) Load(ctx context.Context, step uint64) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(step))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &maestroerrors.NotFoundError{
				Resource: "checkpoint",
				ID:       fmt.Sprintf("%s step %d", s.dir, step),
			}
		}
		return nil, maestroerrors.Wrap(err, "reading checkpoint")
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, maestroerrors.Wrapf(err, "parsing checkpoint at step %d", step)
	}
	return &cp, nil
}

// List returns the steps of all stored checkpoints in ascending order.
func (s *FSStore) List(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, maestroerrors.Wrap(err, "reading checkpoint directory")
	}

	var steps []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "step_") || !strings.HasSuffix(name, ckptSuffix) {
			continue
		}
		step, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "step_"), ckptSuffix), 10, 64)
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps, nil
}

// Delete removes the checkpoint at a step.
func (s *FSStore) Delete(ctx context.Context, step uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(step)); err != nil && !os.IsNotExist(err) {
		return maestroerrors.Wrapf(err, "deleting checkpoint at step %d", step)
	}
	return nil
}

// Location describes the store's address for logs and errors.
func (s *FSStore) Location() string {
	return s.dir
}

func (s *FSStore) path(step uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("step_%012d%s", step, ckptSuffix))
}
