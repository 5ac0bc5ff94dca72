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
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/foundry/pkg/container"
)

func testExecutor(t *testing.T, inputs map[string]any) *Executor {
	t.Helper()
	work := t.TempDir()
	return NewExecutor(RunConfig{
		RunID:       "test-run",
		WorkDir:     work,
		ArtifactDir: filepath.Join(work, "artifacts"),
		Inputs:      inputs,
	}).WithRunner(NewRunner().WithSink(io.Discard))
}

func mustParse(t *testing.T, src string) *Definition {
	t.Helper()
	def, err := Parse([]byte(src))
	require.NoError(t, err)
	return def
}

func TestRunSequentialSuccess(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: first
      commands:
        - run: "echo one > one.txt"
  - stage:
      name: second
      commands:
        - run: "test -f one.txt"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	require.Len(t, report.Stages, 2)
	assert.Equal(t, "first", report.Stages[0].Name)
	assert.Equal(t, "second", report.Stages[1].Name)
	assert.Equal(t, StatusSucceeded, report.Stages[0].Status)
	// The second stage saw the first stage's file, proving ordering.
	assert.Equal(t, StatusSucceeded, report.Stages[1].Status)
	assert.False(t, report.StartedAt.IsZero())
	assert.False(t, report.CompletedAt.IsZero())
}

func TestRunFatalFailureHalts(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: boom
      commands:
        - run: "exit 3"
  - stage:
      name: never
      commands:
        - run: "echo unreachable"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Verdict)
	require.Len(t, report.Stages, 1, "no stage after the fatal one may run")
	assert.Equal(t, StatusFailed, report.Stages[0].Status)
	assert.True(t, report.Stages[0].Fatal)
	require.Len(t, report.Stages[0].Commands, 1)
	assert.Equal(t, 3, report.Stages[0].Commands[0].ExitCode)

	fatal := report.FatalStage()
	require.NotNil(t, fatal)
	assert.Equal(t, "boom", fatal.Name)
}

func TestRunTolerantFailureContinues(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: lint
      policy: tolerant
      commands:
        - run: "exit 1"
  - stage:
      name: build
      commands:
        - run: "true"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	// The run succeeds despite the recorded failure.
	assert.Equal(t, StatusSucceeded, report.Verdict)
	require.Len(t, report.Stages, 2)
	assert.Equal(t, StatusFailed, report.Stages[0].Status)
	assert.False(t, report.Stages[0].Fatal)
	assert.Equal(t, StatusSucceeded, report.Stages[1].Status)

	tf := report.TolerantFailures()
	require.Len(t, tf, 1)
	assert.Equal(t, "lint", tf[0].Name)
}

func TestRunBestEffortCommandNeverFailsStage(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: scan
      commands:
        - run: "exit 7"
          best_effort: true
        - run: "echo still-running"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	require.Len(t, report.Stages[0].Commands, 2)
	assert.Equal(t, 7, report.Stages[0].Commands[0].ExitCode)
	assert.True(t, report.Stages[0].Commands[0].BestEffort)
	assert.False(t, report.Stages[0].Commands[0].HardFailure())
	assert.False(t, report.Stages[0].Commands[1].Skipped)
}

func TestRunHardFailureSkipsRemainingCommands(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: build
      policy: tolerant
      commands:
        - run: "true"
        - run: "exit 2"
        - run: "echo never"
        - run: "echo never-either"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	cmds := report.Stages[0].Commands
	require.Len(t, cmds, 4)
	assert.False(t, cmds[0].Skipped)
	assert.Equal(t, 2, cmds[1].ExitCode)
	assert.True(t, cmds[2].Skipped, "commands after a hard failure are marked skipped")
	assert.True(t, cmds[3].Skipped)
}

func TestRunCommandTimeout(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: slow
      policy: tolerant
      commands:
        - run: "sleep 5"
          timeout: 1
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	cmd := report.Stages[0].Commands[0]
	assert.True(t, cmd.TimedOut)
	assert.Equal(t, ExitTimedOut, cmd.ExitCode)
	assert.Equal(t, StatusFailed, report.Stages[0].Status)
}

func TestRunArtifactsCollectedOnFailure(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: test
      policy: tolerant
      commands:
        - run: "echo '<report/>' > results.xml"
        - run: "exit 1"
      artifacts:
        - pattern: "results.xml"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	st := report.Stages[0]
	assert.Equal(t, StatusFailed, st.Status)
	require.Len(t, st.Artifacts, 1, "artifacts must be collected even when the stage failed")
	assert.Equal(t, "test", st.Artifacts[0].ProducedBy)
	assert.Greater(t, st.Artifacts[0].SizeBytes, int64(0))
}

func TestRunRequiredArtifactMissIsAlwaysFatal(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: package
      policy: tolerant
      commands:
        - run: "true"
      artifacts:
        - pattern: "dist/*.tar.gz"
  - stage:
      name: never
      commands:
        - run: "true"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	// Tolerant policy does not soften a missing required artifact.
	assert.Equal(t, StatusFailed, report.Verdict)
	require.Len(t, report.Stages, 1)
	assert.True(t, report.Stages[0].Fatal)
	assert.Contains(t, report.Stages[0].Error, "dist/*.tar.gz")
}

func TestRunAllowEmptyArtifactPattern(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: scan
      commands:
        - run: "true"
      artifacts:
        - pattern: "reports/**/*.json"
          allow_empty: true
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	assert.Empty(t, report.Stages[0].Artifacts)
}

func TestRunConditionSkipsStage(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: scan
      when: "inputs.run_scans == true"
      commands:
        - run: "echo scanning"
  - stage:
      name: build
      commands:
        - run: "true"
`)

	exec := testExecutor(t, map[string]any{"run_scans": false})
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	assert.Equal(t, StatusSkipped, report.Stages[0].Status)
	assert.Empty(t, report.Stages[0].Commands, "skipped stages run nothing")
	assert.Equal(t, StatusSucceeded, report.Stages[1].Status)
}

func TestRunConditionSeesPriorStageStatus(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: build
      commands:
        - run: "true"
  - stage:
      name: publish
      when: "stages.build == \"succeeded\""
      commands:
        - run: "true"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Stages[1].Status)
}

func TestRunParallelGroupJoins(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - group:
      name: checks
      stages:
        - name: fast
          commands:
            - run: "echo fast > fast.txt"
        - name: slow
          commands:
            - run: "sleep 0.3 && echo slow > slow.txt"
        - name: flaky
          policy: tolerant
          commands:
            - run: "exit 1"
  - stage:
      name: after
      commands:
        - run: "test -f fast.txt && test -f slow.txt"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	require.Len(t, report.Stages, 4)

	byName := map[string]StageResult{}
	for _, s := range report.Stages {
		byName[s.Name] = s
	}
	assert.Equal(t, "checks", byName["fast"].Group)
	assert.Equal(t, StatusSucceeded, byName["fast"].Status)
	assert.Equal(t, StatusSucceeded, byName["slow"].Status)
	assert.Equal(t, StatusFailed, byName["flaky"].Status)
	assert.False(t, byName["flaky"].Fatal)
	// The join barrier held: the follow-up stage saw both files.
	assert.Equal(t, StatusSucceeded, byName["after"].Status)
}

func TestRunGroupFatalMemberWaitsForSiblings(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - group:
      name: checks
      stages:
        - name: doomed
          commands:
            - run: "exit 1"
        - name: straggler
          commands:
            - run: "sleep 0.4"
  - stage:
      name: never
      commands:
        - run: "true"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Verdict)
	require.Len(t, report.Stages, 2, "units after a fatal group must not run")

	byName := map[string]StageResult{}
	for _, s := range report.Stages {
		byName[s.Name] = s
	}
	// The sibling was not cancelled early: it ran to its own completion.
	assert.Equal(t, StatusSucceeded, byName["straggler"].Status)
	assert.GreaterOrEqual(t, byName["straggler"].Duration, 300*time.Millisecond)
	assert.True(t, byName["doomed"].Fatal)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: build
      commands:
        - run: "true"
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := testExecutor(t, nil)
	report, err := exec.Run(ctx, def)
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Equal(t, StatusFailed, report.Verdict)
	assert.Empty(t, report.Stages)
}

func TestRunCancellationLetsInFlightCommandFinish(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: build
      commands:
        - run: "sleep 0.3 && echo done > done.txt"
        - run: "echo never"
  - stage:
      name: after
      commands:
        - run: "true"
`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	exec := testExecutor(t, nil)
	report, err := exec.Run(ctx, def)
	require.NoError(t, err)

	// The in-flight command completed despite the cancellation; only
	// further scheduling stopped.
	require.NotEmpty(t, report.Stages)
	first := report.Stages[0]
	require.Len(t, first.Commands, 2)
	assert.Equal(t, 0, first.Commands[0].ExitCode)
	assert.False(t, first.Commands[0].TimedOut)
	assert.True(t, first.Commands[1].Skipped)
	assert.True(t, report.Cancelled)

	// A stage that only half-ran must not read as green in the report.
	assert.Equal(t, StatusFailed, first.Status)
	assert.Contains(t, first.Error, "cancelled")
	assert.True(t, first.Fatal)
}

func TestRunDeployStage(t *testing.T) {
	rt := container.NewFakeRuntime()
	mgr := container.NewManager(rt)

	def := mustParse(t, `
name: demo
units:
  - stage:
      name: deploy
      deploy:
        image: "demo:latest"
        container: "webapp"
        health:
          interval: 1
          max_wait: 2
`)

	exec := testExecutor(t, nil).WithManager(mgr)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	st := report.Stages[0]
	require.NotNil(t, st.Health)
	assert.True(t, st.Health.Healthy)
	require.NotNil(t, st.Stats)
	assert.Equal(t, []string{"webapp"}, rt.Running())
}

func TestRunDeployWithoutRuntimeFails(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: deploy
      deploy:
        image: "demo:latest"
        container: "webapp"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Verdict)
	assert.True(t, report.Stages[0].Fatal)
	assert.Contains(t, report.Stages[0].Error, "runtime unavailable")
}

func TestRunHealthPolicyClassifiesFailedWait(t *testing.T) {
	tests := []struct {
		name        string
		policy      string
		wantVerdict Status
		wantFatal   bool
	}{
		{name: "tolerant health failure", policy: "tolerant", wantVerdict: StatusSucceeded, wantFatal: false},
		{name: "fatal health failure", policy: "fatal", wantVerdict: StatusFailed, wantFatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := container.NewFakeRuntime()
			rt.DeclaresHealth = true // container stays in starting, never healthy
			mgr := container.NewManager(rt)

			def := mustParse(t, `
name: demo
units:
  - stage:
      name: deploy
      deploy:
        image: "demo:latest"
        container: "webapp"
        health:
          interval: 1
          max_wait: 1
          policy: `+tt.policy+`
  - stage:
      name: after
      commands:
        - run: "true"
`)

			exec := testExecutor(t, nil).WithManager(mgr)
			report, err := exec.Run(context.Background(), def)
			require.NoError(t, err)

			assert.Equal(t, tt.wantVerdict, report.Verdict)
			st := report.Stages[0]
			assert.Equal(t, StatusFailed, st.Status)
			assert.Equal(t, tt.wantFatal, st.Fatal)
			require.NotNil(t, st.Health)
			assert.False(t, st.Health.Healthy)
		})
	}
}

func TestRunHooks(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: boom
      commands:
        - run: "exit 1"
`)

	var succeeded, failed bool
	exec := testExecutor(t, nil).WithHooks(
		func(*RunReport) { succeeded = true },
		func(*RunReport) { failed = true },
	)
	_, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.False(t, succeeded)
	assert.True(t, failed)
}

// TestRunFullScenario walks a build, a parallel test/lint group with a
// tolerated lint failure, a packaging stage, and a deploy with health
// wait, asserting the overall verdict stays green.
func TestRunFullScenario(t *testing.T) {
	rt := container.NewFakeRuntime()
	mgr := container.NewManager(rt)

	def := mustParse(t, `
name: webapp-delivery
units:
  - stage:
      name: build
      commands:
        - run: "echo binary > app.bin"
      artifacts:
        - pattern: "app.bin"
  - group:
      name: verify
      stages:
        - name: unit-test
          commands:
            - run: "echo '<testsuite/>' > junit.xml"
          artifacts:
            - pattern: "junit.xml"
        - name: lint
          policy: tolerant
          commands:
            - run: "echo 'warnings' > lint.txt; exit 1"
          artifacts:
            - pattern: "lint.txt"
  - stage:
      name: package
      commands:
        - run: "tar czf app.tar.gz app.bin"
      artifacts:
        - pattern: "*.tar.gz"
  - stage:
      name: deploy
      deploy:
        image: "webapp:latest"
        container: "webapp"
        health:
          interval: 1
          max_wait: 2
`)

	exec := testExecutor(t, nil).WithManager(mgr)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	require.Len(t, report.Stages, 5)

	tf := report.TolerantFailures()
	require.Len(t, tf, 1)
	assert.Equal(t, "lint", tf[0].Name)

	// Artifacts from every stage, including the failed lint, landed in
	// the shared directory.
	total := 0
	for _, s := range report.Stages {
		total += len(s.Artifacts)
	}
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"webapp"}, rt.Running())
}

func TestRunSpawnFailureTerminatesStage(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: build
      dir: "does/not/exist"
      commands:
        - run: "true"
        - run: "echo never"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Verdict)
	st := report.Stages[0]
	assert.Equal(t, StatusFailed, st.Status)
	assert.True(t, st.Fatal)
	require.Len(t, st.Commands, 2)
	assert.True(t, st.Commands[1].Skipped)
	assert.Contains(t, st.Error, "spawning")
}

func TestRunToolWarningDoesNotFailStage(t *testing.T) {
	def := mustParse(t, `
name: demo
units:
  - stage:
      name: scan
      tools:
        - name: definitely-not-a-real-tool-zzz
      commands:
        - run: "true"
`)

	exec := testExecutor(t, nil)
	report, err := exec.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Verdict)
	require.Len(t, report.Stages[0].Warnings, 1)
	assert.Contains(t, report.Stages[0].Warnings[0], "definitely-not-a-real-tool-zzz")
}

func TestRunGeneratesRunID(t *testing.T) {
	exec := NewExecutor(RunConfig{WorkDir: t.TempDir()})
	assert.NotEmpty(t, exec.cfg.RunID)
}
