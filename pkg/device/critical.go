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
	"context"

	"github.com/openbiometrics/fpcore/pkg/fperr"
)

// Critical sections let a driver hold off external interference (cancel,
// suspend, resume) during hardware sequences that must not be interrupted.
// Sections nest; queued requests are flushed one per event loop turn after
// the last section ends. Driver API, loop goroutine only.

// EnterCriticalSection begins a critical section. Only valid while an
// action is in flight.
func (d *Device) EnterCriticalSection() {
	if d.action == ActionNone {
		d.log.Errorf("BUG: device %s entered a critical section while idle", d.id)

		return
	}

	d.critical++

	if d.critical == 1 {
		// A flush scheduled by an earlier leave is void now.
		d.flushPending = false
	}
}

// LeaveCriticalSection ends a critical section. Leaving the outermost
// section schedules the flush of queued cancel/suspend/resume requests.
func (d *Device) LeaveCriticalSection() {
	if d.action == ActionNone {
		d.log.Errorf("BUG: device %s left a critical section while idle", d.id)

		return
	}

	if d.critical == 0 {
		d.log.Errorf("BUG: device %s left a critical section it never entered", d.id)

		return
	}

	d.critical--

	if d.critical == 0 {
		d.flushPending = true
		d.loop.PostIdle(d.flushCriticalStep)
	}
}

// InCriticalSection reports whether a critical section is active. Loop
// goroutine only.
func (d *Device) InCriticalSection() bool {
	return d.critical > 0
}

// flushCriticalStep applies at most one queued request, re-checking the
// critical section each turn since an applied request may start new driver
// code that enters one again.
func (d *Device) flushCriticalStep() {
	if !d.flushPending || d.critical > 0 {
		return
	}

	switch {
	case d.cancelQueued:
		d.cancelQueued = false

		if d.action.longRunning() && !d.finalizing && d.caps.canceller != nil {
			d.log.Debugf("Device %s delivering queued cancellation", d.id)
			d.caps.canceller.Cancel(d)
		}

	case d.suspendQueued:
		d.suspendQueued = false
		d.deviceSuspend()

	case d.resumeQueued:
		d.resumeQueued = false
		d.deviceResume()

	default:
		d.flushPending = false

		return
	}

	d.loop.PostIdle(d.flushCriticalStep)
}

// Cancel requests abort of the in-flight action. Safe from any goroutine.
// Cancellation is advisory: the action's context is cancelled right away,
// the driver's cancel hook runs on a later turn (or after the critical
// section ends), and the driver still reports a completion.
func (d *Device) Cancel() {
	d.loop.Post(func() {
		if d.current == nil || d.finalizing {
			return
		}

		if !d.action.longRunning() {
			d.log.Debugf("Device %s ignoring cancellation of %s", d.id, d.action)

			return
		}

		d.log.Debugf("Device %s action %s cancelled externally", d.id, d.action)
		d.cancelToken(context.Canceled)
	})
}

// Suspend prepares the device for system sleep. Safe from any goroutine.
// An idle device suspends immediately; a long scan is handed to the
// driver's suspend hook; a short action is waited out. The device counts
// as suspended once the result is delivered, even on error.
func (d *Device) Suspend() <-chan error {
	res := make(chan error, 1)

	d.loop.Post(func() {
		if d.suspendResult != nil {
			res <- fperr.Newf(fperr.Busy,
				"device %s already has a suspend or resume in progress", d.id)

			return
		}

		if d.isSuspended {
			d.log.Warnf("Device %s suspended twice", d.id)
			res <- nil

			return
		}

		d.log.Debugf("Device %s suspending", d.id)
		d.suspendResult = res
		d.suspendErr = nil

		d.deviceSuspend()
	})

	return res
}

// Resume wakes the device after system sleep. Safe from any goroutine.
func (d *Device) Resume() <-chan error {
	res := make(chan error, 1)

	d.loop.Post(func() {
		if d.suspendResult != nil {
			res <- fperr.Newf(fperr.Busy,
				"device %s already has a suspend or resume in progress", d.id)

			return
		}

		if !d.isSuspended {
			res <- fperr.Newf(fperr.General, "device %s is not suspended", d.id)

			return
		}

		d.log.Debugf("Device %s resuming", d.id)
		d.suspendResult = res
		d.suspendErr = nil

		d.deviceResume()
	})

	return res
}

// deviceSuspend dispatches the suspend request against the current action.
func (d *Device) deviceSuspend() {
	switch {
	case d.action == ActionNone:
		d.CompleteSuspend(nil)

	case d.action.longRunning():
		if d.caps.suspender == nil {
			d.CompleteSuspend(fperr.New(fperr.NotSupported))

			return
		}

		if d.critical > 0 {
			d.suspendQueued = true

			return
		}

		d.caps.suspender.Suspend(d)

	default:
		// Short actions finish on their own shortly; suspend after.
		d.taskDoneHooks = append(d.taskDoneHooks, d.deviceSuspend)
	}
}

// deviceResume dispatches the resume request against the current action.
func (d *Device) deviceResume() {
	switch {
	case d.action == ActionNone:
		d.CompleteResume(nil)

	case d.action.longRunning():
		if d.caps.resumer == nil {
			d.CompleteResume(fperr.New(fperr.NotSupported))

			return
		}

		if d.critical > 0 {
			d.resumeQueued = true

			return
		}

		d.caps.resumer.Resume(d)

	default:
		// Suspend waited short actions out; nothing to restart here.
		d.CompleteResume(nil)
	}
}

// CompleteSuspend finishes a suspend request. Driver API, loop goroutine
// only. The device counts as suspended even on error; a failed suspend
// with an action still in flight forces that action out first and reports
// BUSY as its result, delivering the suspend result once it finalized.
func (d *Device) CompleteSuspend(err error) {
	if d.suspendResult == nil {
		d.log.Errorf("BUG: device %s completed a suspend that was never requested", d.id)

		return
	}

	d.log.Debugf("Device %s reported suspend completion", d.id)
	d.suspendErr = err
	d.isSuspended = true

	if err != nil && d.current != nil {
		d.taskDoneHooks = append(d.taskDoneHooks, d.suspendCompleted)

		if d.cancelReason == nil {
			d.cancelReason = fperr.Newf(fperr.Busy, "cannot run while suspended")
		}

		d.cancelToken(d.cancelReason)

		return
	}

	d.suspendCompleted()
}

// CompleteResume finishes a resume request. Driver API, loop goroutine
// only.
func (d *Device) CompleteResume(err error) {
	if d.suspendResult == nil {
		d.log.Errorf("BUG: device %s completed a resume that was never requested", d.id)

		return
	}

	d.log.Debugf("Device %s reported resume completion", d.id)
	d.isSuspended = false
	d.suspendErr = err
	d.suspendCompleted()
}

// suspendCompleted delivers the stored suspend/resume result.
func (d *Device) suspendCompleted() {
	if d.critical > 0 {
		d.log.Warnf("Device %s completed suspend or resume inside a critical section", d.id)
	}

	res := d.suspendResult
	d.suspendResult = nil

	res <- d.suspendErr
	d.suspendErr = nil
}

// IsSuspended reports whether the device is suspended. Loop goroutine only.
func (d *Device) IsSuspended() bool {
	return d.isSuspended
}
