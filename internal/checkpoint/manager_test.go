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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/internal/dataset"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

func newTestManager(t *testing.T, ckptEvery, keepEvery uint64) (*Manager, Store) {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return NewManager(store, ckptEvery, keepEvery, nil), store
}

func TestManager_Due(t *testing.T) {
	m, _ := newTestManager(t, 100, 500)

	tests := []struct {
		step uint64
		want bool
	}{
		{0, false}, // step 0 is covered by Init, not the schedule
		{1, false},
		{99, false},
		{100, true},
		{150, false},
		{200, true},
		{500, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Due(tt.step), "step %d", tt.step)
	}
}

func TestManager_InitFreshStore(t *testing.T) {
	m, store := newTestManager(t, 100, 500)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx, []byte("init-params"), false))

	cp, err := store.Load(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("init-params"), cp.Params)
	assert.Nil(t, cp.Cursor)
}

func TestManager_InitConflict(t *testing.T) {
	m, _ := newTestManager(t, 100, 500)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx, []byte("first"), false))
	require.NoError(t, m.Write(ctx, &Checkpoint{Step: 100, Params: []byte("p100")}))

	err := m.Init(ctx, []byte("second"), false)
	var exists *maestroerrors.CheckpointExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, uint64(100), exists.Step)

	// The conflicting init must not have touched anything.
	latest, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), latest.Step)
}

func TestManager_InitOverwrite(t *testing.T) {
	m, store := newTestManager(t, 100, 500)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx, []byte("old"), false))
	require.NoError(t, m.Write(ctx, &Checkpoint{Step: 500, Params: []byte("p500")}))

	require.NoError(t, m.Init(ctx, []byte("new"), true))

	steps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, steps)

	cp, err := store.Load(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), cp.Params)
}

// Retention scenario: ckpt_every=100, keep_every=500. Steps 100..400 are
// transient; step 500 is a milestone and survives the write at step 600.
func TestManager_RetentionScenario(t *testing.T) {
	m, store := newTestManager(t, 100, 500)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx, []byte("init"), false))

	for step := uint64(100); step <= 600; step += 100 {
		require.NoError(t, m.Write(ctx, &Checkpoint{Step: step, Params: []byte("p")}))

		steps, err := store.List(ctx)
		require.NoError(t, err)

		switch step {
		case 100:
			assert.Equal(t, []uint64{0, 100}, steps)
		case 200:
			assert.Equal(t, []uint64{0, 200}, steps)
		case 500:
			assert.Equal(t, []uint64{0, 500}, steps)
		case 600:
			// 500 is a milestone: still present after 600 lands.
			assert.Equal(t, []uint64{0, 500, 600}, steps)
		}
	}
}

func TestManager_WriteKeepsCursorStepPaired(t *testing.T) {
	m, _ := newTestManager(t, 100, 500)
	ctx := context.Background()

	cursor := &dataset.Cursor{File: "data/pile.jsonl", Record: 3200}
	require.NoError(t, m.Write(ctx, &Checkpoint{Step: 100, Params: []byte("p"), Cursor: cursor}))

	latest, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), latest.Step)
	require.NotNil(t, latest.Cursor)
	assert.Equal(t, uint64(3200), latest.Cursor.Record)
}

func TestManager_LatestEmpty(t *testing.T) {
	m, _ := newTestManager(t, 100, 500)

	_, err := m.Latest(context.Background())
	var notFound *maestroerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestManager_LatestPicksHighestStep(t *testing.T) {
	m, _ := newTestManager(t, 100, 100)
	ctx := context.Background()

	// keep_every == ckpt_every: everything is a milestone, nothing deleted.
	require.NoError(t, m.Init(ctx, []byte("init"), false))
	for step := uint64(100); step <= 300; step += 100 {
		require.NoError(t, m.Write(ctx, &Checkpoint{Step: step, Params: []byte("p")}))
	}

	latest, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), latest.Step)
}
