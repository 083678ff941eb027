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
	"github.com/openbiometrics/fpcore/pkg/print"
)

// Entry wrappers. Each is safe from any goroutine, returns a buffered
// channel delivering the single result, and occupies the device's one
// action slot for the duration.

// Probe refines the device identity before open.
func (d *Device) Probe() <-chan error {
	res := make(chan error, 1)

	d.loop.Post(func() {
		if err := d.checkIdle(); err != nil {
			res <- err

			return
		}

		if !d.lifecycle.isClosed() {
			res <- fperr.New(fperr.AlreadyOpen)

			return
		}

		d.beginAction(ActionProbe, &task{simple: &simpleTask{result: res}})

		if d.caps.prober == nil {
			// No probe support simply keeps the static identity.
			d.CompleteProbe("", "", nil)

			return
		}

		d.caps.prober.Probe(d)
	})

	return res
}

// Open prepares the device for use.
func (d *Device) Open() <-chan error {
	res := make(chan error, 1)

	d.loop.Post(func() {
		if err := d.checkIdle(); err != nil {
			res <- err

			return
		}

		switch {
		case d.isRemoved:
			res <- fperr.New(fperr.Removed)
		case !d.lifecycle.isClosed():
			res <- fperr.New(fperr.AlreadyOpen)
		default:
			d.lifecycle.event(lifecycleEventOpening)
			d.beginAction(ActionOpen, &task{simple: &simpleTask{result: res}})
			d.driver.Open(d)
		}
	})

	return res
}

// Close releases the device. Drivers try hard to close; the device counts
// as closed afterwards even if the driver reported an error.
func (d *Device) Close() <-chan error {
	res := make(chan error, 1)

	d.loop.Post(func() {
		if err := d.checkIdle(); err != nil {
			res <- err

			return
		}

		if !d.lifecycle.isOpen() {
			res <- fperr.New(fperr.NotOpen)

			return
		}

		d.lifecycle.event(lifecycleEventClosing)
		d.beginAction(ActionClose, &task{simple: &simpleTask{result: res}})
		d.driver.Close(d)
	})

	return res
}

// Enroll captures a new print. p carries caller metadata (finger, username)
// and may be nil; progress, when set, receives per-stage feedback including
// retry errors.
func (d *Device) Enroll(p *print.Print, progress EnrollProgressFunc) <-chan EnrollResult {
	res := make(chan EnrollResult, 1)

	d.loop.Post(func() {
		if err := d.checkBusyOpen(); err != nil {
			res <- EnrollResult{Err: err}

			return
		}

		if p == nil {
			p = print.New(d.driver.ID(), d.id)
		} else {
			p.Driver = d.driver.ID()
			p.DeviceID = d.id
		}

		d.beginAction(ActionEnroll, &task{enroll: &enrollTask{
			print:    p,
			progress: progress,
			result:   res,
		}})

		if d.caps.enroller == nil {
			d.CompleteEnroll(nil, fperr.New(fperr.NotSupported))

			return
		}

		d.caps.enroller.Enroll(d)
	})

	return res
}

// Verify matches a scan against enrolled. cb, when set, receives the result
// as soon as the driver reports it, including retry errors.
func (d *Device) Verify(enrolled *print.Print, cb MatchCallback) <-chan VerifyResult {
	res := make(chan VerifyResult, 1)

	d.loop.Post(func() {
		if err := d.checkBusyOpen(); err != nil {
			res <- VerifyResult{Err: err}

			return
		}

		switch {
		case !d.features.Has(FeatureVerify):
			res <- VerifyResult{Err: fperr.New(fperr.NotSupported)}
		case enrolled == nil || !enrolled.Compatible(d.driver.ID()):
			res <- VerifyResult{Err: fperr.Newf(fperr.DataInvalid,
				"print is not compatible with driver %s", d.driver.ID())}
		default:
			d.beginAction(ActionVerify, &task{match: &matchTask{
				gallery:      []*print.Print{enrolled},
				matchCb:      cb,
				verifyResult: res,
			}})
			d.caps.verifier.Verify(d)
		}
	})

	return res
}

// Identify matches a scan against gallery. Incompatible gallery prints fail
// the action up front.
func (d *Device) Identify(gallery []*print.Print, cb MatchCallback) <-chan IdentifyResult {
	res := make(chan IdentifyResult, 1)

	d.loop.Post(func() {
		if err := d.checkBusyOpen(); err != nil {
			res <- IdentifyResult{Err: err}

			return
		}

		if !d.features.Has(FeatureIdentify) {
			res <- IdentifyResult{Err: fperr.New(fperr.NotSupported)}

			return
		}

		for _, p := range gallery {
			if p == nil || !p.Compatible(d.driver.ID()) {
				res <- IdentifyResult{Err: fperr.Newf(fperr.DataInvalid,
					"gallery print is not compatible with driver %s", d.driver.ID())}

				return
			}
		}

		d.beginAction(ActionIdentify, &task{match: &matchTask{
			gallery:        gallery,
			matchCb:        cb,
			identifyResult: res,
		}})
		d.caps.identifier.Identify(d)
	})

	return res
}

// Capture returns a raw sample without matching.
func (d *Device) Capture() <-chan CaptureResult {
	res := make(chan CaptureResult, 1)

	d.loop.Post(func() {
		if err := d.checkBusyOpen(); err != nil {
			res <- CaptureResult{Err: err}

			return
		}

		switch {
		case !d.features.Has(FeatureCapture):
			res <- CaptureResult{Err: fperr.New(fperr.NotSupported)}
		default:
			d.beginAction(ActionCapture, &task{capture: &captureTask{result: res}})
			d.caps.capturer.Capture(d)
		}
	})

	return res
}

// List enumerates prints in on-sensor storage.
func (d *Device) List() <-chan ListResult {
	res := make(chan ListResult, 1)

	d.loop.Post(func() {
		if err := d.checkBusyOpen(); err != nil {
			res <- ListResult{Err: err}

			return
		}

		switch {
		case !d.features.Has(FeatureStorageList):
			res <- ListResult{Err: fperr.New(fperr.NotSupported)}
		default:
			d.beginAction(ActionList, &task{list: &listTask{result: res}})
			d.caps.lister.List(d)
		}
	})

	return res
}

// Delete removes p from on-sensor storage.
func (d *Device) Delete(p *print.Print) <-chan error {
	res := make(chan error, 1)

	d.loop.Post(func() {
		if err := d.checkBusyOpen(); err != nil {
			res <- err

			return
		}

		switch {
		case !d.features.Has(FeatureStorageDelete):
			res <- fperr.New(fperr.NotSupported)
		case p == nil || !p.Compatible(d.driver.ID()):
			res <- fperr.Newf(fperr.DataInvalid,
				"print is not compatible with driver %s", d.driver.ID())
		default:
			d.beginAction(ActionDelete, &task{del: &deleteTask{print: p, result: res}})
			d.caps.deleter.Delete(d)
		}
	})

	return res
}

// ClearStorage wipes on-sensor storage.
func (d *Device) ClearStorage() <-chan error {
	res := make(chan error, 1)

	d.loop.Post(func() {
		if err := d.checkBusyOpen(); err != nil {
			res <- err

			return
		}

		switch {
		case !d.features.Has(FeatureStorageClear):
			res <- fperr.New(fperr.NotSupported)
		default:
			d.beginAction(ActionClearStorage, &task{simple: &simpleTask{result: res}})
			d.caps.clearer.ClearStorage(d)
		}
	})

	return res
}

// checkIdle rejects a second action while one is current.
func (d *Device) checkIdle() error {
	if d.current != nil {
		return fperr.Newf(fperr.Busy,
			"device %s is still busy with %s", d.id, d.action)
	}

	return nil
}

// checkBusyOpen is the gate for all post-open operations.
func (d *Device) checkBusyOpen() error {
	if err := d.checkIdle(); err != nil {
		return err
	}

	if !d.lifecycle.isOpen() {
		return fperr.New(fperr.NotOpen)
	}

	return nil
}

// beginAction occupies the action slot and allocates the cancellation
// token. Loop goroutine only; callers have already verified the slot is
// free.
func (d *Device) beginAction(a Action, t *task) {
	if d.current != nil {
		panic("device: action slot already occupied")
	}

	t.action = a
	d.action = a
	d.current = t
	d.actionStart = d.now()
	d.cancelNotified = false
	d.cancelCtx, d.cancelCause = context.WithCancelCause(context.Background())

	d.log.Debugf("Device %s starting action %s", d.id, a)

	if a.longRunning() {
		d.updateTemp(true)
	}
}

// EnrollPrint returns the print under enrollment. Driver API; panics unless
// an enroll action is current.
func (d *Device) EnrollPrint() *print.Print {
	d.assertAction(ActionEnroll, "EnrollPrint")

	return d.current.enroll.print
}

// VerifyPrint returns the enrolled print a verify runs against. Driver API;
// panics unless a verify action is current.
func (d *Device) VerifyPrint() *print.Print {
	d.assertAction(ActionVerify, "VerifyPrint")

	return d.current.match.gallery[0]
}

// IdentifyGallery returns the gallery an identify runs against. Driver API;
// panics unless an identify action is current.
func (d *Device) IdentifyGallery() []*print.Print {
	d.assertAction(ActionIdentify, "IdentifyGallery")

	return d.current.match.gallery
}

// DeletePrint returns the print being deleted. Driver API; panics unless a
// delete action is current.
func (d *Device) DeletePrint() *print.Print {
	d.assertAction(ActionDelete, "DeletePrint")

	return d.current.del.print
}

// assertAction enforces that driver calls match the current action. A
// mismatch is a driver bug caught immediately.
func (d *Device) assertAction(a Action, op string) {
	if d.action != a {
		d.log.Panicf("Driver called %s during action %s on device %s", op, d.action, d.id)
	}
}
