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

package shared

var (
	verboseFlag bool
	jsonFlag    bool
)

// RegisterFlagPointers hands the root command storage for the global flags.
func RegisterFlagPointers() (verbose, json *bool) {
	return &verboseFlag, &jsonFlag
}

// GetVerbose reports whether --verbose was set.
func GetVerbose() bool {
	return verboseFlag
}

// GetJSON reports whether --json was set.
func GetJSON() bool {
	return jsonFlag
}
