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

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchDebouncesBursts(t *testing.T) {
	root := t.TempDir()

	var triggers atomic.Int32
	w := New(root).WithDebounce(150 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(context.Context) { triggers.Add(1) })
	}()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	// A burst of writes must produce one trigger.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return triggers.Load() == 1 },
		2*time.Second, 25*time.Millisecond)

	// A later separate change fires again.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "other.go"), []byte("package main"), 0o644))

	require.Eventually(t, func() bool { return triggers.Load() == 2 },
		2*time.Second, 25*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchIgnoresArtifactDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "artifacts"), 0o755))

	var triggers atomic.Int32
	w := New(root).WithDebounce(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx, func(context.Context) { triggers.Add(1) })

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "artifacts", "run-report.txt"), []byte("x"), 0o644))

	// Give any wrongly-armed debounce time to fire.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(0), triggers.Load(), "artifact writes must not retrigger runs")
}

func TestIgnoredPaths(t *testing.T) {
	w := New("/work")

	assert.True(t, w.ignored("/work/.git/HEAD"))
	assert.True(t, w.ignored("/work/artifacts/report.txt"))
	assert.True(t, w.ignored("/work/node_modules/pkg/index.js"))
	assert.True(t, w.ignored("/work/.cache/tmp"))
	assert.False(t, w.ignored("/work/src/main.go"))
	assert.False(t, w.ignored("/work"))
}
