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

package model

import (
	"sort"
	"sync"

	"github.com/tombee/maestro/internal/config"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Options carries the accelerator placement requested on the command line.
type Options struct {
	// Backend names the execution backend. Empty selects "sim".
	Backend string

	// TPU is the accelerator slice to run on (backend-specific).
	TPU string

	// Region is the accelerator region (backend-specific).
	Region string

	// Preemptible marks the accelerator as preemptible capacity. The
	// supervisor's restart loop is what makes preemption survivable; the
	// backend only needs to surface preemption as an error.
	Preemptible bool
}

// Factory builds a Handle for one experiment.
type Factory func(cfg *config.Config, opts Options) (Handle, error)

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{}
)

// RegisterBackend registers a backend factory under a name. It is typically
// called from init() functions in backend packages.
func RegisterBackend(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a model handle using the named backend.
func Build(cfg *config.Config, opts Options) (Handle, error) {
	name := opts.Backend
	if name == "" {
		name = "sim"
	}

	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, &maestroerrors.NotFoundError{Resource: "model backend", ID: name}
	}
	return factory(cfg, opts)
}
