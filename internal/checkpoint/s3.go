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
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// S3API is the subset of the S3 client the store uses. Declared here so tests
// can substitute a fake.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store stores checkpoints as S3 objects, one object per step. S3 object
// writes are atomic per key, which satisfies the Store atomicity contract.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store creates an S3 checkpoint store for a location of the form
// s3://bucket/prefix.
func NewS3Store(client S3API, location string) (*S3Store, error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return nil, &maestroerrors.ValidationError{
			Field:   "bucket",
			Message: "S3 checkpoint location must start with s3://",
		}
	}

	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, &maestroerrors.ValidationError{
			Field:   "bucket",
			Message: "S3 checkpoint location is missing a bucket name",
		}
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Save durably writes a checkpoint.
func (s *S3Store) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return maestroerrors.Wrap(err, "marshaling checkpoint")
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(cp.Step)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return maestroerrors.Wrapf(err, "writing checkpoint at step %d to %s", cp.Step, s.Location())
}

// Load reads the checkpoint at a step.
func (s *S3Store) Load(ctx context.Context, step uint64) (*Checkpoint, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(step)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if maestroerrors.As(err, &noSuchKey) {
			return nil, &maestroerrors.NotFoundError{
				Resource: "checkpoint",
				ID:       fmt.Sprintf("%s step %d", s.Location(), step),
			}
		}
		return nil, maestroerrors.Wrapf(err, "reading checkpoint at step %d", step)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, maestroerrors.Wrap(err, "reading checkpoint body")
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, maestroerrors.Wrapf(err, "parsing checkpoint at step %d", step)
	}
	return &cp, nil
}

// List returns the steps of all stored checkpoints in ascending order.
func (s *S3Store) List(ctx context.Context) ([]uint64, error) {
	var steps []uint64
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.keyPrefix()),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, maestroerrors.Wrap(err, "listing checkpoints")
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			name := path.Base(*obj.Key)
			if !strings.HasPrefix(name, "step_") || !strings.HasSuffix(name, ckptSuffix) {
				continue
			}
			step, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "step_"), ckptSuffix), 10, 64)
			if err != nil {
				continue
			}
			steps = append(steps, step)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps, nil
}

// Delete removes the checkpoint at a step. S3 deletes of absent keys succeed,
// matching the Store contract.
func (s *S3Store) Delete(ctx context.Context, step uint64) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(step)),
	})
	return maestroerrors.Wrapf(err, "deleting checkpoint at step %d", step)
}

// Location describes the store's address for logs and errors.
func (s *S3Store) Location() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3Store) keyPrefix() string {
	if s.prefix == "" {
		return "step_"
	}
	return s.prefix + "/step_"
}

func (s *S3Store) key(step uint64) string {
	name := fmt.Sprintf("step_%012d%s", step, ckptSuffix)
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
