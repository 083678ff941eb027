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

package sentry

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// Non-fatal issues are debounced so a wedged driver cannot flood the
// reporting backend. Tests disable this via EnableTestMode.
var shouldDebounceErrors = true

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounceErrors = false
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	shouldDebounceErrors = true
}

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	if log == nil {
		// If logger initialization failed somehow, create a no-op logger to avoid nil panics
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log)
	case IssueTypeError:
		reportError(err, log)
	case IssueTypeWarning:
		reportWarning(err, log)
	}
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportDeviceError reports a device-framework error tagged with the device
// and the action that was running.
func ReportDeviceError(log *zap.SugaredLogger, deviceID, driver, action string, err error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	log.Error(err)

	if debounced(&errorLastSent, &errorLastSentMutex) {
		return
	}

	event := createSentryEventWithContext(sentry.LevelError, err, map[string]string{
		"device_id": deviceID,
		"driver":    driver,
		"action":    action,
	})
	sendSentryEvent(event)
}

// reportFatal sends a fatal error, logs it and panics.
func reportFatal(err error, log *zap.SugaredLogger) {
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	event := createSentryEvent(sentry.LevelFatal, err)
	sendSentryEvent(event)
	sentry.Flush(time.Second * 5)

	log.Panic("Fatal error")
}

var errorLastSent time.Time = time.Now().Add(-time.Hour * 24)
var errorLastSentMutex sync.Mutex

func reportError(err error, log *zap.SugaredLogger) {
	log.Error(err)

	if debounced(&errorLastSent, &errorLastSentMutex) {
		return
	}

	sendSentryEvent(createSentryEvent(sentry.LevelError, err))
}

var warningLastSent time.Time = time.Now().Add(-time.Hour * 24)
var warningLastSentMutex sync.Mutex

func reportWarning(err error, log *zap.SugaredLogger) {
	log.Warn(err)

	if debounced(&warningLastSent, &warningLastSentMutex) {
		return
	}

	sendSentryEvent(createSentryEvent(sentry.LevelWarning, err))
}

func debounced(lastSent *time.Time, mu *sync.Mutex) bool {
	if !shouldDebounceErrors {
		return false
	}

	mu.Lock()
	defer mu.Unlock()

	if time.Since(*lastSent) < time.Hour*2 {
		return true
	}

	*lastSent = time.Now()

	return false
}
