// Copyright 2025 The fpcore authors
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

package constants

import "time"

const (
	// DefaultEnrollStages is the number of scan stages a driver reports
	// unless it declares its own count.
	DefaultEnrollStages = 5

	// WatcherQueueSize bounds per-watcher notification channels for finger
	// status and temperature changes. Watchers that fall behind lose the
	// oldest notification first.
	WatcherQueueSize = 16

	// DefaultShutdownTimeout is how long the daemon waits for the event
	// loop and HTTP surfaces to drain on termination.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultMetricsAddr is where the daemon serves /metrics and /health.
	DefaultMetricsAddr = ":9100"

	// DefaultAppVersion marks a local development build; issue reporting
	// stays disabled for it.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the issue-reporting environment used
	// for prerelease builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the issue-reporting environment used
	// for tagged release builds.
	DefaultProductionEnvironment = "production"
)
