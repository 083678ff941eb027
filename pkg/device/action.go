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

package device

import (
	"github.com/openbiometrics/fpcore/pkg/print"
)

// Action identifies the operation currently occupying a device.
type Action int

const (
	ActionNone Action = iota
	ActionProbe
	ActionOpen
	ActionClose
	ActionEnroll
	ActionVerify
	ActionIdentify
	ActionCapture
	ActionDelete
	ActionList
	ActionClearStorage
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionProbe:
		return "probe"
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	case ActionEnroll:
		return "enroll"
	case ActionVerify:
		return "verify"
	case ActionIdentify:
		return "identify"
	case ActionCapture:
		return "capture"
	case ActionDelete:
		return "delete"
	case ActionList:
		return "list"
	case ActionClearStorage:
		return "clear_storage"
	default:
		return "unknown"
	}
}

// longRunning reports whether an action kind scans a finger and may run
// indefinitely. Only these are subject to thermal throttling and driver
// suspend handling.
func (a Action) longRunning() bool {
	switch a {
	case ActionEnroll, ActionVerify, ActionIdentify, ActionCapture:
		return true
	default:
		return false
	}
}

// MatchResult is the outcome a driver reports for one verify attempt.
type MatchResult int

const (
	MatchError MatchResult = iota
	MatchFail
	MatchSuccess
)

// EnrollProgressFunc receives per-stage enroll feedback. err, when set, is a
// retry error describing why the stage must be rescanned.
type EnrollProgressFunc func(completedStages int, p *print.Print, err error)

// MatchCallback receives the verify/identify result as soon as the driver
// reports it, before the action itself completes.
type MatchCallback func(match *print.Print, scanned *print.Print, err error)

// EnrollResult is delivered once per enroll action.
type EnrollResult struct {
	Print *print.Print
	Err   error
}

// VerifyResult is delivered once per verify action.
type VerifyResult struct {
	Match bool
	Print *print.Print
	Err   error
}

// IdentifyResult is delivered once per identify action. Match is the gallery
// print that matched (nil for no match); Print is the scanned print.
type IdentifyResult struct {
	Match *print.Print
	Print *print.Print
	Err   error
}

// CaptureResult is delivered once per capture action.
type CaptureResult struct {
	Image []byte
	Err   error
}

// ListResult is delivered once per list action.
type ListResult struct {
	Prints []*print.Print
	Err    error
}

// task is the per-action payload. Exactly one of the kind-specific fields is
// set, keyed by action.
type task struct {
	action Action

	enroll  *enrollTask
	match   *matchTask
	capture *captureTask
	list    *listTask
	del     *deleteTask
	simple  *simpleTask
}

// simpleTask covers the error-only actions (probe, open, close, clear
// storage).
type simpleTask struct {
	result chan error
}

type enrollTask struct {
	print    *print.Print
	progress EnrollProgressFunc
	result   chan EnrollResult
}

// matchTask backs both verify and identify. For verify the gallery holds the
// single enrolled print being verified against.
type matchTask struct {
	gallery []*print.Print

	reported bool
	match    *print.Print
	scanned  *print.Print
	err      error

	matchCb MatchCallback

	verifyResult   chan VerifyResult
	identifyResult chan IdentifyResult
}

type captureTask struct {
	image  []byte
	result chan CaptureResult
}

type listTask struct {
	result chan ListResult
}

type deleteTask struct {
	print  *print.Print
	result chan error
}
