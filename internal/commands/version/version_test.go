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

package version

import (
	"strings"
	"testing"
)

func TestBuildInfoKeepsLdflagsValues(t *testing.T) {
	info := buildInfo("1.2.3", "abc1234", "2026-08-23")

	if info.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", info.Version)
	}
	if info.Commit != "abc1234" {
		t.Errorf("Commit = %q, want abc1234 (ldflags value must win)", info.Commit)
	}
	if info.BuildDate != "2026-08-23" {
		t.Errorf("BuildDate = %q, want 2026-08-23", info.BuildDate)
	}
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Errorf("GoVersion = %q, want a go toolchain version", info.GoVersion)
	}
}

func TestBuildInfoWithoutLdflags(t *testing.T) {
	// Test binaries carry no VCS stamp; the placeholders survive unless
	// the build metadata provides better values.
	info := buildInfo("dev", "unknown", "unknown")

	if info.Version != "dev" {
		t.Errorf("Version = %q, want dev", info.Version)
	}
	if info.Commit == "" {
		t.Error("Commit is empty, want unknown or a VCS revision")
	}
}
