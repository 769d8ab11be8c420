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
	"bufio"
	"context"
	"encoding/json"
	"os"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// RecordProvider reads pre-tokenized sequences from a line-delimited JSON
// file, one token array per line. It satisfies Provider for both training
// (endless, cursor-snapshotable) and validation (Reset per pass) use.
type RecordProvider struct {
	path    string
	shape   BatchShape
	records [][]int32
	pos     uint64
	epoch   uint64
}

// NewRecordProvider opens a record file and positions the provider at resume,
// or at the beginning when resume is nil. A resume cursor naming a different
// file is rejected rather than silently honored.
func NewRecordProvider(path string, shape BatchShape, resume *Cursor) (*RecordProvider, error) {
	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &maestroerrors.ValidationError{
			Field:   "dataset",
			Message: "file " + path + " contains no records",
		}
	}

	p := &RecordProvider{
		path:    path,
		shape:   shape,
		records: records,
	}

	if resume != nil {
		if resume.File != path {
			return nil, &maestroerrors.ValidationError{
				Field:      "cursor",
				Message:    "cursor points at " + resume.File + ", not " + path,
				Suggestion: "change train_set back, or start a new run to drop the saved cursor",
			}
		}
		p.pos = resume.Record % uint64(len(records))
		p.epoch = resume.Epoch
	}

	return p, nil
}

func readRecords(path string) ([][]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, maestroerrors.Wrapf(err, "opening dataset %s", path)
	}
	defer f.Close()

	var records [][]int32
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var tokens []int32
		if err := json.Unmarshal(raw, &tokens); err != nil {
			return nil, maestroerrors.Wrapf(err, "parsing dataset %s line %d", path, line)
		}
		records = append(records, tokens)
	}
	if err := scanner.Err(); err != nil {
		return nil, maestroerrors.Wrapf(err, "reading dataset %s", path)
	}
	return records, nil
}

// Next returns the next batch, wrapping to the start of the file when the
// records run out.
func (p *RecordProvider) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	n := p.shape.Sequences()
	sequences := make([][]int32, 0, n)
	for range n {
		sequences = append(sequences, fit(p.records[p.pos], p.shape.SeqLen))
		p.pos++
		if p.pos == uint64(len(p.records)) {
			p.pos = 0
			p.epoch++
		}
	}

	return Batch{Shape: p.shape, Sequences: sequences}, nil
}

// Cursor snapshots the provider's position. The snapshot points at the first
// record Next has not yet returned.
func (p *RecordProvider) Cursor() Cursor {
	return Cursor{File: p.path, Record: p.pos, Epoch: p.epoch}
}

// Reset rewinds to the beginning of the file.
func (p *RecordProvider) Reset() {
	p.pos = 0
	p.epoch = 0
}

// Len returns the number of records in the file.
func (p *RecordProvider) Len() int {
	return len(p.records)
}

// fit pads or trims a token sequence to length n.
func fit(tokens []int32, n int) []int32 {
	out := make([]int32, n)
	copy(out, tokens)
	return out
}
