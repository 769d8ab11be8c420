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

package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurveyPrompterNonInteractive(t *testing.T) {
	sp := NewSurveyPrompter(false)

	assert.False(t, sp.IsInteractive())

	_, err := sp.Confirm(context.Background(), "delete everything?", false)
	require.ErrorIs(t, err, ErrNotInteractive)
}

func TestMockPrompterRecordsQuestions(t *testing.T) {
	mp := &MockPrompter{Answer: true, Interactive: true}

	ok, err := mp.Confirm(context.Background(), "proceed?", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"proceed?"}, mp.Asked)
}
