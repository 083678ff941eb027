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

// Package sentry wires optional issue reporting for the daemon. Reporting is
// disabled unless FPCORE_SENTRY_DSN is set and the build carries a real
// version.
package sentry

import (
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"github.com/openbiometrics/fpcore/pkg/constants"
	"go.uber.org/zap"
)

// InitSentry initializes sentry with the given app version. The DSN comes
// from the FPCORE_SENTRY_DSN environment variable; without it reporting
// stays off entirely.
func InitSentry(appVersion string) {
	dsn := os.Getenv("FPCORE_SENTRY_DSN")
	if dsn == "" {
		zap.S().Debug("Issue reporting disabled, no DSN configured")

		return
	}

	// Local development builds never report.
	if appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Issue reporting disabled for local development build")

		return
	}

	environment := constants.DefaultDevelopmentEnvironment

	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
	} else if version.Prerelease() == "" {
		environment = constants.DefaultProductionEnvironment
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environment,
		Release:       "fpcore@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// Extract the first phrase (until period, comma or a colon).
	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	// Limit length of Sentry title
	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()

	exception := &sentry.Exception{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}
	event.Exception = []sentry.Exception{*exception}

	// Stack trace-based fingerprinting groups similar errors; the level
	// hint keeps warnings and errors apart.
	event.Fingerprint = []string{
		"{{ default }}",
		"level: " + string(level),
	}

	return event
}

// createSentryEventWithContext adds context data as tags so issues can be
// filtered by device and action in the Sentry UI.
func createSentryEventWithContext(level sentry.Level, err error, context map[string]string) *sentry.Event {
	event := createSentryEvent(level, err)

	if context != nil {
		if event.Tags == nil {
			event.Tags = make(map[string]string)
		}

		for key, value := range context {
			event.Tags[key] = value

			if key == "action" {
				event.Fingerprint = append(event.Fingerprint, "action: "+value)
			}

			if key == "driver" {
				event.Fingerprint = append(event.Fingerprint, "driver: "+value)
			}
		}
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}
