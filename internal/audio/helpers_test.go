/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// isCIEnvironment detects if we're running in a CI environment where audio hardware is unavailable
func isCIEnvironment() bool {
	ciEnvVars := []string{
		"CI", // Generic CI indicator
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",   // GitHub Actions
		"GITLAB_CI",        // GitLab CI
		"JENKINS_URL",      // Jenkins
		"TRAVIS",           // Travis CI
		"CIRCLECI",         // CircleCI
		"BUILDKITE",        // Buildkite
		"TEAMCITY_VERSION", // TeamCity
	}

	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}

	return false
}

func testLogger(t testing.TB) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// constantInput returns a generator filling every sample with v
func constantInput(v float32) func([]float32) {
	return func(buf []float32) {
		for i := range buf {
			buf[i] = v
		}
	}
}

// rampInput returns a generator filling buf with 0, step, 2*step, ...
func rampInput(step float32) func([]float32) {
	return func(buf []float32) {
		for i := range buf {
			buf[i] = float32(i) * step
		}
	}
}

// newManualBackend returns an initialized mock backend whose streams only run when pumped
func newManualBackend(t testing.TB) *MockAudioBackend {
	t.Helper()

	backend := NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	if err := backend.Initialize(); err != nil {
		t.Fatalf("mock backend failed to initialize: %v", err)
	}
	t.Cleanup(func() { _ = backend.Terminate() })
	return backend
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
