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

package virtual

import (
	"time"

	"github.com/openbiometrics/fpcore/pkg/device"
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/print"
	"github.com/openbiometrics/fpcore/pkg/ssm"
	"github.com/openbiometrics/fpcore/pkg/transfer"
	"github.com/tiendc/go-deepcopy"
)

// Open/close protocol and the scan state machines. Every machine follows
// the same shape: an optional wait state imitating finger placement, a scan
// state doing one loopback exchange, and a cleanup tail that runs on every
// exit path including failure and cancellation.

const (
	openStateHello = iota
	openStateSync
	openStateCleanup
	openStateCount
)

func (d *Driver) Open(dev *device.Device) {
	s := d.session(dev)

	m := ssm.NewFull(d.loop, "virtual-open", func(m *ssm.Machine) {
		switch m.CurrentState() {
		case openStateHello:
			t := &transfer.Transfer{Machine: m, Out: []byte("HELO"), ShortIsError: true}
			s.transport.Submit(dev.ActionContext(), t, transfer.StepMachine)

		case openStateSync:
			t := &transfer.Transfer{Machine: m, Out: []byte("SYNC"), ShortIsError: true}
			s.transport.Submit(dev.ActionContext(), t, func(_ *transfer.Transfer, err error) {
				if err != nil {
					m.MarkFailed(err)

					return
				}

				dev.SetEnrollStages(d.cfg.Stages)
				m.NextState()
			})

		case openStateCleanup:
			m.NextState()
		}
	}, openStateCount, openStateCleanup)

	m.Start(func(err error) {
		dev.CompleteOpen(err)
	})
}

func (d *Driver) Close(dev *device.Device) {
	s := d.session(dev)

	// Storage survives a close; only the scripted outcomes are dropped.
	s.script = nil

	t := &transfer.Transfer{Out: []byte("BYE")}
	s.transport.Submit(dev.ActionContext(), t, func(_ *transfer.Transfer, err error) {
		dev.CompleteClose(err)
	})
}

const (
	enrollStateWaitFinger = iota
	enrollStateScan
	enrollStateCommit
	enrollStateCleanup
	enrollStateCount
)

// Enroll implements device.Enroller.
func (d *Driver) Enroll(dev *device.Device) {
	s := d.session(dev)

	completed := 0
	var sample []byte

	m := ssm.NewFull(d.loop, "virtual-enroll", func(m *ssm.Machine) {
		switch m.CurrentState() {
		case enrollStateWaitFinger:
			dev.ReportFingerStatusChanges(device.FingerStatusNeeded, 0)
			d.waitFinger(m)

		case enrollStateScan:
			dev.ReportFingerStatusChanges(device.FingerStatusPresent, device.FingerStatusNeeded)

			d.scan(dev, s, m, func(o outcome) {
				if o.retry != nil {
					dev.EnrollProgress(completed, nil, o.retry)
					m.JumpToState(enrollStateWaitFinger)

					return
				}

				completed++
				sample = o.data
				dev.EnrollProgress(completed, nil, nil)

				if completed < dev.EnrollStages() {
					m.JumpToState(enrollStateWaitFinger)

					return
				}

				m.NextState()
			})

		case enrollStateCommit:
			p := dev.EnrollPrint()
			p.Data = sample
			p.EnrollDate = time.Now()

			if dev.Features().Has(device.FeatureStorage) {
				// The commit must not be torn apart by a queued
				// cancellation.
				dev.EnterCriticalSection()
				err := s.store(p)
				dev.LeaveCriticalSection()

				if err != nil {
					m.MarkFailed(err)

					return
				}

				p.DeviceStored = true
			}

			m.NextState()

		case enrollStateCleanup:
			dev.ReportFingerStatus(device.FingerStatusNone)
			m.NextState()
		}
	}, enrollStateCount, enrollStateCleanup)

	s.machine = m

	m.Start(func(err error) {
		s.machine = nil

		if err != nil {
			dev.CompleteEnroll(nil, err)

			return
		}

		dev.CompleteEnroll(dev.EnrollPrint(), nil)
	})
}

const (
	matchStateWaitFinger = iota
	matchStateScan
	matchStateCleanup
	matchStateCount
)

// Verify implements device.Verifier.
func (d *Driver) Verify(dev *device.Device) {
	s := d.session(dev)

	m := ssm.NewFull(d.loop, "virtual-verify", func(m *ssm.Machine) {
		switch m.CurrentState() {
		case matchStateWaitFinger:
			dev.ReportFingerStatusChanges(device.FingerStatusNeeded, 0)
			d.waitFinger(m)

		case matchStateScan:
			dev.ReportFingerStatusChanges(device.FingerStatusPresent, device.FingerStatusNeeded)

			d.scan(dev, s, m, func(o outcome) {
				if o.retry != nil {
					dev.ReportVerify(device.MatchError, nil, o.retry)
					m.MarkCompleted()

					return
				}

				scanned := scannedPrint(dev, o.data)

				result := device.MatchFail
				if dev.VerifyPrint().EqualData(scanned) {
					result = device.MatchSuccess
				}

				dev.ReportVerify(result, scanned, nil)
				m.NextState()
			})

		case matchStateCleanup:
			dev.ReportFingerStatus(device.FingerStatusNone)
			m.NextState()
		}
	}, matchStateCount, matchStateCleanup)

	s.machine = m

	m.Start(func(err error) {
		s.machine = nil
		dev.CompleteVerify(err)
	})
}

// Identify implements device.Identifier.
func (d *Driver) Identify(dev *device.Device) {
	s := d.session(dev)

	m := ssm.NewFull(d.loop, "virtual-identify", func(m *ssm.Machine) {
		switch m.CurrentState() {
		case matchStateWaitFinger:
			dev.ReportFingerStatusChanges(device.FingerStatusNeeded, 0)
			d.waitFinger(m)

		case matchStateScan:
			dev.ReportFingerStatusChanges(device.FingerStatusPresent, device.FingerStatusNeeded)

			d.scan(dev, s, m, func(o outcome) {
				if o.retry != nil {
					dev.ReportIdentify(nil, nil, o.retry)
					m.MarkCompleted()

					return
				}

				scanned := scannedPrint(dev, o.data)

				var match *print.Print
				for _, g := range dev.IdentifyGallery() {
					if g.EqualData(scanned) {
						match = g

						break
					}
				}

				dev.ReportIdentify(match, scanned, nil)
				m.NextState()
			})

		case matchStateCleanup:
			dev.ReportFingerStatus(device.FingerStatusNone)
			m.NextState()
		}
	}, matchStateCount, matchStateCleanup)

	s.machine = m

	m.Start(func(err error) {
		s.machine = nil
		dev.CompleteIdentify(err)
	})
}

// Capture implements device.Capturer.
func (d *Driver) Capture(dev *device.Device) {
	s := d.session(dev)

	var image []byte

	m := ssm.NewFull(d.loop, "virtual-capture", func(m *ssm.Machine) {
		switch m.CurrentState() {
		case matchStateWaitFinger:
			dev.ReportFingerStatusChanges(device.FingerStatusNeeded, 0)
			d.waitFinger(m)

		case matchStateScan:
			dev.ReportFingerStatusChanges(device.FingerStatusPresent, device.FingerStatusNeeded)

			d.scan(dev, s, m, func(o outcome) {
				if o.retry != nil {
					// Capture has no retry protocol.
					m.MarkFailed(o.retry)

					return
				}

				image = o.data
				m.NextState()
			})

		case matchStateCleanup:
			dev.ReportFingerStatus(device.FingerStatusNone)
			m.NextState()
		}
	}, matchStateCount, matchStateCleanup)

	s.machine = m

	m.Start(func(err error) {
		s.machine = nil

		if err != nil {
			dev.CompleteCapture(nil, err)

			return
		}

		dev.CompleteCapture(image, nil)
	})
}

// waitFinger delays the transition to the scan state by the configured
// placement time.
func (d *Driver) waitFinger(m *ssm.Machine) {
	if d.cfg.ScanDelay > 0 {
		m.NextStateDelayed(d.cfg.ScanDelay)

		return
	}

	m.NextState()
}

// scan performs one loopback exchange and applies the next scripted
// outcome. Hard errors (scripted or transport) fail the machine; anything
// else is handed to done.
func (d *Driver) scan(dev *device.Device, s *session, m *ssm.Machine, done func(o outcome)) {
	o := s.popOutcome()

	t := &transfer.Transfer{Machine: m, Out: []byte("SCAN"), ShortIsError: true}
	s.transport.Submit(dev.ActionContext(), t, func(_ *transfer.Transfer, err error) {
		if err != nil {
			m.MarkFailed(err)

			return
		}

		if o.err != nil {
			m.MarkFailed(o.err)

			return
		}

		done(o)
	})
}

// store appends a copy of p to the session storage, rejecting duplicates.
func (s *session) store(p *print.Print) error {
	for _, stored := range s.storage {
		if stored.EqualData(p) {
			return fperr.New(fperr.DataDuplicate)
		}
	}

	var copied print.Print
	if err := deepcopy.Copy(&copied, p); err != nil {
		return fperr.Newf(fperr.General, "storing print: %v", err)
	}

	s.storage = append(s.storage, &copied)

	return nil
}

func scannedPrint(dev *device.Device, data []byte) *print.Print {
	p := print.New(DriverID, dev.ID())
	p.Data = data

	return p
}
