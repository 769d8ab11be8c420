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
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/internal/checkpoint"
	"github.com/tombee/maestro/internal/config"
)

// recordingSink captures everything logged to it, keyed by step.
type recordingSink struct {
	mu      sync.Mutex
	entries map[uint64]map[string]float64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{entries: map[uint64]map[string]float64{}}
}

func (s *recordingSink) Log(_ context.Context, step uint64, metrics map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[step] == nil {
		s.entries[step] = map[string]float64{}
	}
	for k, v := range metrics {
		s.entries[step][k] = v
	}
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) at(step uint64) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[step]
}

func writeRecords(t *testing.T, path string, n, length int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := 0; i < n; i++ {
		tokens := make([]int32, length)
		for j := range tokens {
			tokens[j] = int32(i*length + j)
		}
		require.NoError(t, enc.Encode(tokens))
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "train.jsonl"), 17, 16)
	writeRecords(t, filepath.Join(dir, "val.jsonl"), 5, 16)

	return &config.Config{
		Name:            "test-run",
		Seq:             16,
		PerReplicaBatch: 2,
		TPUSize:         8,
		CoresPerReplica: 8,

		GradientAccumulationSteps: 1,

		DataDir:  dir,
		TrainSet: "train.jsonl",
		ValSet:   map[string]string{"pile": "val.jsonl"},

		ValBatches: 1,
		ValEvery:   3,
		CkptEvery:  2,
		KeepEvery:  4,
	}
}

func newTestStore(t *testing.T) checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestRunnerFreshStart(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r, err := NewRunner(ctx, AttemptConfig{
		Config: testConfig(t),
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), r.State().Step)
	assert.False(t, r.State().Resumed)

	// Initialization writes the step-0 checkpoint.
	steps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, steps)
}

func TestRunnerStepAdvancesAndReports(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()

	r, err := NewRunner(ctx, AttemptConfig{
		Config: testConfig(t),
		Store:  newTestStore(t),
		Sink:   sink,
	})
	require.NoError(t, err)

	require.NoError(t, r.Step(ctx))
	assert.Equal(t, uint64(1), r.State().Step)

	got := sink.at(0)
	require.NotNil(t, got)
	assert.Contains(t, got, "train/loss")
	assert.Contains(t, got, "train/last_loss")
}

func TestRunnerCheckpointScheduleAndRetention(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r, err := NewRunner(ctx, AttemptConfig{
		Config: testConfig(t),
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	// ckpt_every=2, keep_every=4: checkpoints land at 2 and 4, and step 2
	// is transient so the write at 4 sweeps it away.
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Step(ctx))
	}

	steps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 4}, steps)

	cp, err := store.Load(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, cp.Cursor)
	assert.Equal(t, uint64(4), cp.Step)
}

func TestRunnerEvalFiresAtStepZero(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()

	r, err := NewRunner(ctx, AttemptConfig{
		Config: testConfig(t),
		Store:  newTestStore(t),
		Sink:   sink,
	})
	require.NoError(t, err)

	require.NoError(t, r.Step(ctx))

	got := sink.at(0)
	require.NotNil(t, got)
	assert.Contains(t, got, "val/loss_pile",
		"a fresh run must get a baseline evaluation at step 0")

	require.NoError(t, r.Step(ctx))
	assert.NotContains(t, sink.at(1), "val/loss_pile")
}

func TestRunnerResumesFromLatestCheckpoint(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := newTestStore(t)

	r, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	// Run past the checkpoint at step 4, then abandon the runner as if the
	// attempt crashed at step 6.
	for i := 0; i < 7; i++ {
		require.NoError(t, r.Step(ctx))
	}
	require.Equal(t, uint64(7), r.State().Step)

	resumed, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(6), resumed.State().Step,
		"resume must land on the latest checkpointed step, not the crash step")
	assert.True(t, resumed.State().Resumed)

	cp, err := store.Load(ctx, 6)
	require.NoError(t, err)
	require.NotNil(t, cp.Cursor)
	assert.Equal(t, *cp.Cursor, resumed.train.Cursor(),
		"the training provider must continue from the checkpointed cursor")
}

func TestRunnerResumesWithoutCursorFromInitCheckpoint(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := newTestStore(t)

	// Crash after initialization but before the first scheduled write: the
	// only checkpoint is the step-0 one, which carries no cursor.
	_, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	cp, err := store.Load(ctx, 0)
	require.NoError(t, err)
	require.Nil(t, cp.Cursor)

	resumed, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), resumed.State().Step)
	assert.True(t, resumed.State().Resumed)

	cursor := resumed.train.Cursor()
	assert.Equal(t, uint64(0), cursor.Record, "without a saved cursor the data pass starts fresh")
	assert.Equal(t, uint64(0), cursor.Epoch)
}

func TestRunnerResumesWithoutCursorMidRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := newTestStore(t)

	r, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Step(ctx))
	}

	// Strip the cursor off the latest checkpoint, as an older writer that
	// never captured data position would have left it.
	cp, err := store.Load(ctx, 4)
	require.NoError(t, err)
	cp.Cursor = nil
	require.NoError(t, store.Save(ctx, cp))

	resumed, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(4), resumed.State().Step,
		"parameters and step must still resume without a cursor")
	assert.True(t, resumed.State().Resumed)

	cursor := resumed.train.Cursor()
	assert.Equal(t, uint64(0), cursor.Record)
	assert.Equal(t, uint64(0), cursor.Epoch)
}

func TestRunnerCleanStartWipesStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := newTestStore(t)

	r, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Step(ctx))
	}

	fresh, err := NewRunner(ctx, AttemptConfig{
		Config:     cfg,
		Store:      store,
		Sink:       newRecordingSink(),
		CleanStart: true,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), fresh.State().Step)
	assert.False(t, fresh.State().Resumed)

	steps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, steps)
}

func TestRunnerStaleCursorFallsBackToFreshPass(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := newTestStore(t)

	r, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Step(ctx))
	}

	// Point the config at a different training file. The checkpointed
	// cursor no longer applies; the runner should keep the parameters but
	// restart the data pass.
	writeRecords(t, filepath.Join(cfg.DataDir, "train2.jsonl"), 9, 16)
	cfg.TrainSet = "train2.jsonl"

	resumed, err := NewRunner(ctx, AttemptConfig{
		Config: cfg,
		Store:  store,
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(4), resumed.State().Step)
	cursor := resumed.train.Cursor()
	assert.Equal(t, uint64(0), cursor.Record)
	assert.Equal(t, uint64(0), cursor.Epoch)
}

func TestRunnerWarmUpConsumesOneBatch(t *testing.T) {
	ctx := context.Background()

	r, err := NewRunner(ctx, AttemptConfig{
		Config: testConfig(t),
		Store:  newTestStore(t),
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	before := r.train.Cursor()
	require.NoError(t, r.warmUp(ctx))
	after := r.train.Cursor()

	assert.Equal(t, before.Record+uint64(r.cfg.GlobalBatch()), after.Record)
	assert.Equal(t, uint64(0), r.State().Step, "warm-up must not advance the step")
}

func TestRunnerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRunner(context.Background(), AttemptConfig{
		Config: testConfig(t),
		Store:  newTestStore(t),
		Sink:   newRecordingSink(),
	})
	require.NoError(t, err)

	err = r.Run(ctx)
	require.Error(t, err)
}
