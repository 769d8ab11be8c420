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

package tasks

import (
	"path/filepath"
	"strings"

	"github.com/tombee/maestro/internal/config"
	"github.com/tombee/maestro/internal/eval"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Build constructs the benchmark task suite from config, preserving the
// configured order.
func Build(cfg *config.Config) ([]eval.Task, error) {
	var suite []eval.Task
	for _, tc := range cfg.Tasks {
		path := filepath.Join(cfg.DataDir, tc.Path)

		var task eval.Task
		var err error
		switch strings.ToLower(tc.Name) {
		case "lambada":
			task, err = NewLambada(path, cfg.Seq)
		case "winogrande":
			task, err = NewWinogrande(path, cfg.Seq)
		case "piqa":
			task, err = NewPIQA(path, cfg.Seq)
		case "hellaswag":
			task, err = NewHellaSwag(path, cfg.Seq, tc.Limit)
		default:
			return nil, &maestroerrors.ValidationError{
				Field:   "tasks",
				Message: "unknown benchmark task " + tc.Name,
			}
		}
		if err != nil {
			return nil, maestroerrors.Wrapf(err, "building task %s", tc.Name)
		}
		suite = append(suite, task)
	}
	return suite, nil
}
