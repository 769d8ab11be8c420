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
	"bytes"
	"context"
	"io"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/internal/dataset"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// fakeS3 is an in-memory S3API.
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for key := range f.objects {
		if params.Prefix == nil || len(*params.Prefix) <= len(key) && key[:len(*params.Prefix)] == *params.Prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestNewS3Store_ParsesLocation(t *testing.T) {
	store, err := NewS3Store(newFakeS3(), "s3://experiments/gptj-6b")
	require.NoError(t, err)
	assert.Equal(t, "s3://experiments/gptj-6b", store.Location())

	store, err = NewS3Store(newFakeS3(), "s3://experiments")
	require.NoError(t, err)
	assert.Equal(t, "s3://experiments", store.Location())
}

func TestNewS3Store_RejectsBadLocations(t *testing.T) {
	var valErr *maestroerrors.ValidationError

	_, err := NewS3Store(newFakeS3(), "/local/path")
	require.ErrorAs(t, err, &valErr)

	_, err = NewS3Store(newFakeS3(), "s3://")
	require.ErrorAs(t, err, &valErr)
}

func TestS3Store_RoundTrip(t *testing.T) {
	store, err := NewS3Store(newFakeS3(), "s3://experiments/gptj-6b")
	require.NoError(t, err)
	ctx := context.Background()

	cp := &Checkpoint{
		Step:   1000,
		Params: []byte("params"),
		Cursor: &dataset.Cursor{File: "data/pile.jsonl", Record: 32000},
	}
	require.NoError(t, store.Save(ctx, cp))

	loaded, err := store.Load(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, cp.Params, loaded.Params)
	assert.Equal(t, *cp.Cursor, *loaded.Cursor)
}

func TestS3Store_LoadMissing(t *testing.T) {
	store, err := NewS3Store(newFakeS3(), "s3://experiments/gptj-6b")
	require.NoError(t, err)

	_, err = store.Load(context.Background(), 9)
	var notFound *maestroerrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestS3Store_ListAndDelete(t *testing.T) {
	fake := newFakeS3()
	store, err := NewS3Store(fake, "s3://experiments/gptj-6b")
	require.NoError(t, err)
	ctx := context.Background()

	for _, step := range []uint64{500, 0, 100} {
		require.NoError(t, store.Save(ctx, &Checkpoint{Step: step, Params: []byte("p")}))
	}
	// A foreign object under the prefix is ignored.
	fake.objects["gptj-6b/notes.txt"] = []byte("x")

	steps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 100, 500}, steps)

	require.NoError(t, store.Delete(ctx, 100))
	require.NoError(t, store.Delete(ctx, 100))

	steps, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 500}, steps)
}

// The manager's behavior is store-agnostic; run the retention policy against
// the S3 store as well.
func TestManager_RetentionOnS3(t *testing.T) {
	store, err := NewS3Store(newFakeS3(), "s3://experiments/gptj-6b")
	require.NoError(t, err)
	m := NewManager(store, 100, 500, nil)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx, []byte("init"), false))
	for step := uint64(100); step <= 600; step += 100 {
		require.NoError(t, m.Write(ctx, &Checkpoint{Step: step, Params: []byte("p")}))
	}

	steps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 500, 600}, steps)
}
