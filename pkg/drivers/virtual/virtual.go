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

// Package virtual implements the reference sensor backend. It speaks a
// trivial echo protocol over an in-process loopback transport, keeps its
// print storage in memory and lets tests script scan outcomes, which makes
// it the standard vehicle for exercising the framework end to end.
package virtual

import (
	"context"
	"time"

	"github.com/openbiometrics/fpcore/pkg/constants"
	"github.com/openbiometrics/fpcore/pkg/device"
	"github.com/openbiometrics/fpcore/pkg/eventloop"
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/print"
	"github.com/openbiometrics/fpcore/pkg/transfer"
	"go.uber.org/zap"
)

const DriverID = "virtual"

// Config tunes the virtual driver. The zero value gives a production-like
// device; tests shrink the thermal constants and delays.
type Config struct {
	// HotSeconds/ColdSeconds are the thermal time constants reported to
	// the framework. Zero selects the framework defaults; a negative
	// HotSeconds exempts the device from thermal modeling.
	HotSeconds  float64
	ColdSeconds float64

	// Stages is the enroll stage count. Zero selects the default.
	Stages int

	// ScanDelay spaces out scan stages, imitating finger placement time.
	ScanDelay time.Duration
}

// Driver is the virtual backend. One driver instance serves any number of
// devices; per-device state lives in sessions keyed by the device handle.
//
// All driver callbacks run on the event loop goroutine, so sessions need no
// locking. The public Script* helpers post onto the loop and are safe from
// anywhere.
type Driver struct {
	loop *eventloop.Loop
	log  *zap.SugaredLogger
	cfg  Config

	sessions map[*device.Device]*session
}

// session is the per-device driver state.
type session struct {
	transport *transfer.Loopback

	storage []*print.Print
	script  []outcome

	// sample is the payload a default (unscripted) scan produces.
	sample []byte

	// machine drives the current long-running action, nil when idle.
	machine machineRef

	suspendErr error
	suspended  bool
}

// outcome is one scripted scan result. Exactly one field is set.
type outcome struct {
	data  []byte
	retry error
	err   error
}

// machineRef is the subset of the engine the cancel hook needs.
type machineRef interface {
	MarkFailed(err error)
}

func New(loop *eventloop.Loop, cfg Config) *Driver {
	log := logger.For(logger.ComponentVirtualDriver)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if cfg.HotSeconds == 0 {
		cfg.HotSeconds = constants.DefaultTempHotSeconds
	}

	if cfg.ColdSeconds == 0 {
		cfg.ColdSeconds = constants.DefaultTempColdSeconds
	}

	if cfg.Stages <= 0 {
		cfg.Stages = constants.DefaultEnrollStages
	}

	return &Driver{
		loop:     loop,
		log:      log,
		cfg:      cfg,
		sessions: make(map[*device.Device]*session),
	}
}

func (d *Driver) ID() string {
	return DriverID
}

// TempConstants implements device.ThermalConfigurer.
func (d *Driver) TempConstants() (float64, float64) {
	return d.cfg.HotSeconds, d.cfg.ColdSeconds
}

// EnrollStages implements part of device.Enroller.
func (d *Driver) EnrollStages() int {
	return d.cfg.Stages
}

func (d *Driver) session(dev *device.Device) *session {
	s, ok := d.sessions[dev]
	if !ok {
		s = &session{
			transport: transfer.NewLoopback(d.loop),
			sample:    []byte("virtual-sample-" + dev.ID()),
		}
		d.sessions[dev] = s
	}

	return s
}

// popOutcome returns the next scripted outcome, or the default matching
// sample when the script ran dry.
func (s *session) popOutcome() outcome {
	if len(s.script) == 0 {
		return outcome{data: s.sample}
	}

	o := s.script[0]
	s.script = s.script[1:]

	return o
}

// Probe implements device.Prober.
func (d *Driver) Probe(dev *device.Device) {
	d.log.Debugf("Probing virtual device %s", dev.ID())
	dev.CompleteProbe("", "Virtual Sensor", nil)
}

// Cancel implements device.Canceller. The in-flight machine fails with the
// cancellation cause; its cleanup states still run.
func (d *Driver) Cancel(dev *device.Device) {
	s := d.session(dev)
	if s.machine == nil {
		return
	}

	cause := context.Cause(dev.ActionContext())
	if cause == nil {
		cause = context.Canceled
	}

	d.log.Debugf("Cancelling current scan on virtual device %s", dev.ID())
	s.machine.MarkFailed(cause)
}

// Suspend implements device.Suspender. The virtual sensor has no hardware
// to park, so scans survive suspend unless a test scripted a failure.
func (d *Driver) Suspend(dev *device.Device) {
	s := d.session(dev)

	if s.suspendErr != nil {
		err := s.suspendErr
		s.suspendErr = nil
		dev.CompleteSuspend(err)

		return
	}

	s.suspended = true
	dev.CompleteSuspend(nil)
}

// Resume implements device.Resumer.
func (d *Driver) Resume(dev *device.Device) {
	s := d.session(dev)
	s.suspended = false
	dev.CompleteResume(nil)
}

// ScriptScan makes the next scan yield data. Safe from any goroutine.
func (d *Driver) ScriptScan(dev *device.Device, data []byte) {
	d.loop.Post(func() {
		s := d.session(dev)
		s.script = append(s.script, outcome{data: data})
	})
}

// ScriptRetry makes the next scan report a retry error. Safe from any
// goroutine.
func (d *Driver) ScriptRetry(dev *device.Device, code fperr.RetryCode) {
	d.loop.Post(func() {
		s := d.session(dev)
		s.script = append(s.script, outcome{retry: fperr.Retry(code)})
	})
}

// ScriptFailure makes the next scan fail hard with err. Safe from any
// goroutine.
func (d *Driver) ScriptFailure(dev *device.Device, err error) {
	d.loop.Post(func() {
		s := d.session(dev)
		s.script = append(s.script, outcome{err: err})
	})
}

// ScriptSuspendFailure makes the next suspend request fail with err. Safe
// from any goroutine.
func (d *Driver) ScriptSuspendFailure(dev *device.Device, err error) {
	d.loop.Post(func() {
		d.session(dev).suspendErr = err
	})
}

// WithTransport runs fn on the loop with the device's loopback transport,
// for fault injection in tests. Safe from any goroutine.
func (d *Driver) WithTransport(dev *device.Device, fn func(lb *transfer.Loopback)) {
	d.loop.Post(func() {
		fn(d.session(dev).transport)
	})
}
