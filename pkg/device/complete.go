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
	"github.com/openbiometrics/fpcore/pkg/metrics"
	"github.com/openbiometrics/fpcore/pkg/print"
)

// Completion reporters. Drivers call exactly one of these per action, on
// the event loop goroutine. Calling a reporter that does not match the
// current action is a driver bug and panics immediately.
//
// Completion never finalizes synchronously: the result is delivered on a
// later event loop turn, so a driver's call into a reporter never re-enters
// driver code.

// CompleteProbe finishes a probe. A non-empty deviceID or deviceName
// updates the device identity on success.
func (d *Device) CompleteProbe(deviceID, deviceName string, err error) {
	d.mustComplete(ActionProbe)
	d.log.Debugf("Device %s reported probe completion", d.id)

	t := d.current.simple
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "probe")

	if err == nil {
		if deviceID != "" {
			d.id = deviceID
		}

		if deviceName != "" {
			d.name = deviceName
		}
	}

	d.returnInIdle(err, func(e error) {
		t.result <- e
	})
}

// CompleteOpen finishes an open.
func (d *Device) CompleteOpen(err error) {
	d.mustComplete(ActionOpen)
	d.log.Debugf("Device %s reported open completion", d.id)

	t := d.current.simple
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "open")

	d.returnInIdle(err, func(e error) {
		t.result <- e
	})
}

// CompleteClose finishes a close. The device counts as closed regardless of
// err.
func (d *Device) CompleteClose(err error) {
	d.mustComplete(ActionClose)
	d.log.Debugf("Device %s reported close completion", d.id)

	t := d.current.simple
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "close")

	d.returnInIdle(err, func(e error) {
		t.result <- e
	})
}

// CompleteEnroll finishes an enroll with the newly enrolled print. Passing
// both a print and an error is a driver bug: the error wins and the print
// is discarded. Passing neither is demoted to a general error.
func (d *Device) CompleteEnroll(p *print.Print, err error) {
	d.mustComplete(ActionEnroll)
	d.log.Debugf("Device %s reported enroll completion", d.id)

	t := d.current.enroll
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "enroll")

	if err == nil && p == nil {
		d.log.Warnf("Driver did not provide a valid print and failed to provide an error!")

		err = fperr.Newf(fperr.General, "driver failed to provide print data")
	}

	if err != nil && p != nil {
		d.log.Warnf("Driver passed an error but also provided a print, returning error!")

		p = nil
	}

	d.returnInIdle(err, func(e error) {
		if e != nil {
			t.result <- EnrollResult{Err: e}

			return
		}

		t.result <- EnrollResult{Print: p}
	})
}

// CompleteVerify finishes a verify. err must be a hard error; retry
// outcomes go through ReportVerify first, followed by a nil err here.
// Success without a prior report is demoted to a general error.
func (d *Device) CompleteVerify(err error) {
	d.mustComplete(ActionVerify)
	d.log.Debugf("Device %s reported verify completion", d.id)

	t := d.current.match
	d.ReportFingerStatus(FingerStatusNone)

	if err == nil {
		switch {
		case !t.reported:
			d.log.Warnf("Driver reported successful verify complete but did not report the result earlier. Reporting error instead")

			err = fperr.New(fperr.General)
		case t.err != nil:
			err = t.err
		}
	} else {
		err = d.demoteRetry(err, "verify")
	}

	match := t.match != nil
	scanned := t.scanned

	d.returnInIdle(err, func(e error) {
		if e != nil {
			t.verifyResult <- VerifyResult{Err: e}

			return
		}

		t.verifyResult <- VerifyResult{Match: match, Print: scanned}
	})
}

// CompleteIdentify finishes an identify. Same contract as CompleteVerify.
func (d *Device) CompleteIdentify(err error) {
	d.mustComplete(ActionIdentify)
	d.log.Debugf("Device %s reported identify completion", d.id)

	t := d.current.match
	d.ReportFingerStatus(FingerStatusNone)

	if err == nil {
		switch {
		case !t.reported:
			d.log.Warnf("Driver reported successful identify complete but did not report the result earlier. Reporting error instead")

			err = fperr.New(fperr.General)
		case t.err != nil:
			err = t.err
		}
	} else {
		err = d.demoteRetry(err, "identify")
	}

	match := t.match
	scanned := t.scanned

	d.returnInIdle(err, func(e error) {
		if e != nil {
			t.identifyResult <- IdentifyResult{Err: e}

			return
		}

		t.identifyResult <- IdentifyResult{Match: match, Print: scanned}
	})
}

// CompleteCapture finishes a capture.
func (d *Device) CompleteCapture(image []byte, err error) {
	d.mustComplete(ActionCapture)
	d.log.Debugf("Device %s reported capture completion", d.id)

	t := d.current.capture
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "capture")

	if err == nil && image == nil {
		d.log.Warnf("Driver did not provide an error for a failed capture operation!")

		err = fperr.Newf(fperr.General, "driver failed to provide an error")
	}

	if err != nil && image != nil {
		d.log.Warnf("Driver passed an error but also provided an image, returning error!")

		image = nil
	}

	d.returnInIdle(err, func(e error) {
		if e != nil {
			t.result <- CaptureResult{Err: e}

			return
		}

		t.result <- CaptureResult{Image: image}
	})
}

// CompleteDelete finishes a delete.
func (d *Device) CompleteDelete(err error) {
	d.mustComplete(ActionDelete)
	d.log.Debugf("Device %s reported deletion completion", d.id)

	t := d.current.del
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "delete")

	d.returnInIdle(err, func(e error) {
		t.result <- e
	})
}

// CompleteList finishes a list with the prints in on-sensor storage.
func (d *Device) CompleteList(prints []*print.Print, err error) {
	d.mustComplete(ActionList)
	d.log.Debugf("Device %s reported listing completion", d.id)

	t := d.current.list
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "list")

	if prints != nil && err != nil {
		d.log.Warnf("Driver reported back prints and error, ignoring prints")

		prints = nil
	} else if prints == nil && err == nil {
		d.log.Warnf("Driver did not pass a print list but failed to provide an error")

		err = fperr.Newf(fperr.General, "driver failed to provide a list of prints")
	}

	d.returnInIdle(err, func(e error) {
		if e != nil {
			t.result <- ListResult{Err: e}

			return
		}

		t.result <- ListResult{Prints: prints}
	})
}

// CompleteClearStorage finishes a clear-storage.
func (d *Device) CompleteClearStorage(err error) {
	d.mustComplete(ActionClearStorage)
	d.log.Debugf("Device %s reported storage clearing completion", d.id)

	t := d.current.simple
	d.ReportFingerStatus(FingerStatusNone)

	err = d.demoteRetry(err, "clear_storage")

	d.returnInIdle(err, func(e error) {
		t.result <- e
	})
}

// ActionError finishes whatever action is current with err. Prefer the
// matching Complete reporter; this generic fallback exists for shared error
// paths in drivers.
func (d *Device) ActionError(err error) {
	if d.action == ActionNone {
		d.log.Errorf("BUG: device %s reported an action error while idle", d.id)

		return
	}

	if err != nil {
		d.log.Debugf("Device %s reported generic error (%v) during action; action was: %s",
			d.id, err, d.action)
	} else {
		d.log.Warnf("Device failed to pass an error to generic action error function")

		err = fperr.Newf(fperr.General, "device reported error but did not provide an error condition")
	}

	switch d.action {
	case ActionProbe:
		d.CompleteProbe("", "", err)
	case ActionOpen:
		d.CompleteOpen(err)
	case ActionClose:
		d.CompleteClose(err)
	case ActionEnroll:
		d.CompleteEnroll(nil, err)
	case ActionVerify:
		d.CompleteVerify(err)
	case ActionIdentify:
		d.CompleteIdentify(err)
	case ActionCapture:
		d.CompleteCapture(nil, err)
	case ActionDelete:
		d.CompleteDelete(err)
	case ActionList:
		d.CompleteList(nil, err)
	case ActionClearStorage:
		d.CompleteClearStorage(err)
	}
}

// ReportVerify announces the verify outcome before completion. err, if set,
// must be a retry error; hard errors belong in CompleteVerify.
func (d *Device) ReportVerify(result MatchResult, scanned *print.Print, err error) {
	d.mustComplete(ActionVerify)

	t := d.current.match
	if t.reported {
		d.log.Warnf("Driver reported a verify result twice, ignoring the second report")

		return
	}

	t.reported = true
	d.log.Debugf("Device %s reported verify result", d.id)

	callCb := true

	if err != nil || result == MatchError {
		if result != MatchError {
			d.log.Warnf("Driver reported an error code without setting match result to error!")
		}

		if err == nil {
			d.log.Warnf("Driver reported an error without specifying a retry code, assuming general retry error!")

			err = fperr.Retry(fperr.RetryGeneral)
		}

		if scanned != nil {
			d.log.Warnf("Driver reported a print together with an error!")

			scanned = nil
		}

		t.err = err

		if !fperr.IsRetry(err) {
			d.log.Warnf("Driver reported a verify error that was not in the retry domain, delaying report!")

			callCb = false
		}
	} else {
		if result == MatchSuccess {
			t.match = t.gallery[0]
		}

		t.scanned = scanned
	}

	if callCb && t.matchCb != nil {
		t.matchCb(t.match, t.scanned, t.err)
	}
}

// ReportIdentify announces the identify outcome before completion. match
// must be a print from the gallery; scanned is the print that was read from
// the sensor. err, if set, must be a retry error.
func (d *Device) ReportIdentify(match *print.Print, scanned *print.Print, err error) {
	d.mustComplete(ActionIdentify)

	t := d.current.match
	if t.reported {
		d.log.Warnf("Driver reported an identify result twice, ignoring the second report")

		return
	}

	t.reported = true
	d.log.Debugf("Device %s reported identify result", d.id)

	if match != nil && !inGallery(t.gallery, match) {
		d.log.Warnf("Driver reported a match to a print that was not in the gallery, ignoring match.")

		match = nil
	}

	callCb := true

	if err != nil {
		if match != nil {
			d.log.Warnf("Driver reported an error code but also provided a match!")

			match = nil
		}

		if scanned != nil {
			d.log.Warnf("Driver reported a print together with an error!")

			scanned = nil
		}

		t.err = err

		if !fperr.IsRetry(err) {
			d.log.Warnf("Driver reported an identify error that was not in the retry domain, delaying report!")

			callCb = false
		}
	} else {
		t.match = match
		t.scanned = scanned
	}

	if callCb && t.matchCb != nil {
		t.matchCb(t.match, t.scanned, t.err)
	}
}

// EnrollProgress reports per-stage enroll feedback. err, if set, must be a
// retry error describing why the stage has to be rescanned.
func (d *Device) EnrollProgress(completedStages int, p *print.Print, err error) {
	d.mustComplete(ActionEnroll)

	if err != nil && !fperr.IsRetry(err) {
		d.log.Errorf("BUG: enroll progress got a non-retry error: %v", err)

		return
	}

	d.log.Debugf("Device %s reported enroll progress, %d of %d stages completed",
		d.id, completedStages, d.enrollStages)

	if err != nil && p != nil {
		d.log.Warnf("Driver passed an error and also provided a print, returning error!")

		p = nil
	}

	t := d.current.enroll
	if t.progress != nil {
		t.progress(completedStages, p, err)
	}
}

// mustComplete enforces the reporter/current-action match. Mismatches and
// double completions fail fast.
func (d *Device) mustComplete(a Action) {
	if d.action != a {
		d.log.Panicf("Driver completed %s but current action is %s on device %s",
			a, d.action, d.id)
	}

	if d.finalizing {
		d.log.Panicf("Driver completed %s twice on device %s", a, d.id)
	}
}

// demoteRetry turns a retry error passed to a hard completion into a
// general error. Retry errors are only legal in verify/identify reports.
func (d *Device) demoteRetry(err error, op string) error {
	if err == nil || !fperr.IsRetry(err) {
		return err
	}

	d.log.Warnf("Driver reported a retry error to the %s completion. "+
		"This is not permissible, reporting general failure instead.", op)
	metrics.IncErrorCount(metrics.ComponentDevice, d.id)

	return fperr.New(fperr.General)
}

// returnInIdle schedules task finalization on a later event loop turn.
func (d *Device) returnInIdle(errResult error, deliver func(err error)) {
	d.finalizing = true

	d.loop.PostIdle(func() {
		d.finalizeTask(errResult, deliver)
	})
}

// finalizeTask clears the action slot, releases the cancellation token,
// applies the REMOVED and internal-cancellation overrides and delivers the
// result.
func (d *Device) finalizeTask(errResult error, deliver func(err error)) {
	action := d.action
	d.log.Debugf("Device %s completing action %s in idle", d.id, action)

	d.current = nil
	d.action = ActionNone
	d.finalizing = false

	reason := d.cancelReason
	d.cancelReason = nil

	d.cancelToken(context.Canceled)
	d.cancelCtx = nil
	d.cancelCause = nil

	d.updateTemp(false)

	success := errResult == nil

	switch action {
	case ActionOpen:
		if success {
			d.lifecycle.event(lifecycleEventOpened)
		} else {
			d.lifecycle.event(lifecycleEventOpenFail)
		}
	case ActionClose:
		d.lifecycle.event(lifecycleEventClosed)
	}

	err := errResult

	// REMOVED takes priority over everything the driver reported, except
	// for a successful open, which is an odd corner case.
	if d.isRemoved && !(action == ActionOpen && success) {
		err = fperr.New(fperr.Removed)
	} else if reason != nil {
		// An internal cancellation reason (TOO_HOT, suspend failure)
		// overrides the driver's result so the true cause surfaces.
		err = reason
	}

	metrics.ObserveActionDuration(d.id, action.String(), d.now().Sub(d.actionStart))

	outcome := "ok"
	if err != nil {
		outcome = "error"
		metrics.IncErrorCount(metrics.ComponentDevice, d.id)
	}

	metrics.IncActionCount(d.id, action.String(), outcome)

	deliver(err)

	// Suspend requests waiting for natural completion of a short action
	// resolve here.
	hooks := d.taskDoneHooks
	d.taskDoneHooks = nil

	for _, hook := range hooks {
		hook()
	}

	if d.isRemoved {
		d.emitRemoved()
	}
}

func inGallery(gallery []*print.Print, p *print.Print) bool {
	for _, g := range gallery {
		if g == p {
			return true
		}
	}

	return false
}
