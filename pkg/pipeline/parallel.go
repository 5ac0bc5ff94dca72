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

package pipeline

import (
	"context"
	"sync"

	"github.com/tombee/foundry/internal/log"
)

// executeGroup runs every member stage concurrently and joins before
// returning. Concurrency is bounded by the member count, never a global
// pool. A member's failure does not cancel its siblings: they run to
// their own completion so the report covers the whole group, and the
// group's fatality is decided only at the join barrier.
func (e *Executor) executeGroup(ctx context.Context, g *GroupDefinition) []StageResult {
	logger := e.logger.With(log.RunIDKey, e.cfg.RunID)
	logger.Info("parallel group started", log.UnitKey, g.Name, "members", len(g.Stages))

	results := make([]StageResult, len(g.Stages))
	var wg sync.WaitGroup
	for i := range g.Stages {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.executeStage(ctx, &g.Stages[i], g.Name)
		}(i)
	}
	wg.Wait()

	logger.Info("parallel group joined", log.UnitKey, g.Name)
	return results
}
