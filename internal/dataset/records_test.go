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

package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// writeRecords writes n records, record i holding the single token i.
func writeRecords(t *testing.T, n int) string {
	t.Helper()
	var sb strings.Builder
	for i := range n {
		fmt.Fprintf(&sb, "[%d]\n", i)
	}
	path := filepath.Join(t.TempDir(), "train.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))
	return path
}

func firstToken(b Batch, i int) int32 {
	return b.Sequences[i][0]
}

func TestRecordProvider_Next(t *testing.T) {
	path := writeRecords(t, 10)
	shape := BatchShape{AccumSteps: 2, BatchSize: 2, SeqLen: 4}

	p, err := NewRecordProvider(path, shape, nil)
	require.NoError(t, err)
	require.Equal(t, 10, p.Len())

	batch, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Sequences, 4)

	for i := range 4 {
		assert.Equal(t, int32(i), firstToken(batch, i))
		assert.Len(t, batch.Sequences[i], 4)
	}
	assert.Equal(t, Cursor{File: path, Record: 4}, p.Cursor())
}

func TestRecordProvider_WrapsAndCountsEpochs(t *testing.T) {
	path := writeRecords(t, 3)
	shape := BatchShape{AccumSteps: 1, BatchSize: 2, SeqLen: 2}

	p, err := NewRecordProvider(path, shape, nil)
	require.NoError(t, err)

	// 3 records, 2 per batch: second batch wraps.
	_, err = p.Next(context.Background())
	require.NoError(t, err)
	batch, err := p.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), firstToken(batch, 0))
	assert.Equal(t, int32(0), firstToken(batch, 1))
	assert.Equal(t, uint64(1), p.Cursor().Epoch)
}

func TestRecordProvider_ResumeFromCursor(t *testing.T) {
	path := writeRecords(t, 10)
	shape := BatchShape{AccumSteps: 1, BatchSize: 3, SeqLen: 2}

	p1, err := NewRecordProvider(path, shape, nil)
	require.NoError(t, err)
	_, err = p1.Next(context.Background())
	require.NoError(t, err)
	saved := p1.Cursor()

	// A fresh provider resumed from the cursor continues where p1 left off.
	p2, err := NewRecordProvider(path, shape, &saved)
	require.NoError(t, err)
	batch, err := p2.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(3), firstToken(batch, 0))
	assert.Equal(t, int32(4), firstToken(batch, 1))
	assert.Equal(t, int32(5), firstToken(batch, 2))
}

func TestRecordProvider_ResumeWrongFile(t *testing.T) {
	path := writeRecords(t, 5)
	cursor := &Cursor{File: "/elsewhere/other.jsonl", Record: 2}

	_, err := NewRecordProvider(path, BatchShape{AccumSteps: 1, BatchSize: 1, SeqLen: 2}, cursor)

	var valErr *maestroerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "cursor", valErr.Field)
}

func TestRecordProvider_Reset(t *testing.T) {
	path := writeRecords(t, 6)
	p, err := NewRecordProvider(path, BatchShape{AccumSteps: 1, BatchSize: 2, SeqLen: 2}, nil)
	require.NoError(t, err)

	first, err := p.Next(context.Background())
	require.NoError(t, err)
	_, err = p.Next(context.Background())
	require.NoError(t, err)

	p.Reset()
	again, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Sequences, again.Sequences)
	assert.Equal(t, Cursor{File: path, Record: 2}, p.Cursor())
}

func TestRecordProvider_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := NewRecordProvider(path, BatchShape{AccumSteps: 1, BatchSize: 1, SeqLen: 2}, nil)

	var valErr *maestroerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestRecordProvider_CancelledContext(t *testing.T) {
	path := writeRecords(t, 5)
	p, err := NewRecordProvider(path, BatchShape{AccumSteps: 1, BatchSize: 1, SeqLen: 2}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchShape_Sequences(t *testing.T) {
	assert.Equal(t, 8, BatchShape{AccumSteps: 4, BatchSize: 2}.Sequences())
	assert.Equal(t, 2, BatchShape{BatchSize: 2}.Sequences())
}
