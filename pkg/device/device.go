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

// Package device implements the action lifecycle executor shared by all
// driver backends: one in-flight action per device, per-action cancellation
// tokens, critical sections queuing external cancel/suspend/resume, deferred
// result finalization, and the thermal throttle for long scans.
//
// Public entry points (Open, Enroll, ...) are safe from any goroutine and
// deliver their result on a buffered channel. Everything a driver calls
// (the Complete reporters, critical sections, finger status) must run on the
// event loop goroutine.
package device

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openbiometrics/fpcore/pkg/constants"
	"github.com/openbiometrics/fpcore/pkg/eventloop"
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/metrics"
	"github.com/openbiometrics/fpcore/pkg/thermal"
	"go.uber.org/zap"
)

// FingerStatus is the bitmask describing what the sensor wants from, or
// sees of, the user's finger.
type FingerStatus uint32

const (
	FingerStatusNone    FingerStatus = 0
	FingerStatusNeeded  FingerStatus = 1 << 0
	FingerStatusPresent FingerStatus = 1 << 1
)

func (fs FingerStatus) String() string {
	switch fs {
	case FingerStatusNone:
		return "none"
	case FingerStatusNeeded:
		return "needed"
	case FingerStatusPresent:
		return "present"
	case FingerStatusNeeded | FingerStatusPresent:
		return "needed|present"
	default:
		return "invalid"
	}
}

// Options tune device construction. The zero value is fine for production
// use; tests inject a clock and shrink the thermal constants.
type Options struct {
	// DeviceID overrides the generated device ID.
	DeviceID string

	// Name is the human readable device name. Defaults to the driver ID.
	Name string

	// Clock supplies the current time for the thermal model.
	Clock func() time.Time

	// HotSeconds/ColdSeconds override the driver's thermal constants when
	// HotSeconds is non-zero.
	HotSeconds  float64
	ColdSeconds float64
}

// Device is one sensor handle. All mutable state is owned by the event loop
// goroutine; no locks are taken anywhere in this package.
type Device struct {
	loop *eventloop.Loop
	log  *zap.SugaredLogger

	driver   Driver
	caps     caps
	features Feature

	id   string
	name string

	lifecycle *lifecycle
	isRemoved bool

	// Current action slot. current is nil iff action is ActionNone; the
	// cancellation token lives exactly as long as the action.
	action         Action
	current        *task
	actionStart    time.Time
	cancelCtx      context.Context
	cancelCause    context.CancelCauseFunc
	cancelReason   error
	cancelNotified bool
	finalizing     bool

	// Critical section bookkeeping.
	critical      int
	cancelQueued  bool
	suspendQueued bool
	resumeQueued  bool
	flushPending  bool

	// Suspend/resume request in flight.
	suspendResult chan error
	suspendErr    error
	isSuspended   bool

	// Hooks run once after the current task finalizes, then cleared.
	taskDoneHooks []func()

	removedEmitted bool
	removedCh      chan struct{}

	fingerStatus   FingerStatus
	fingerWatchers []chan FingerStatus

	model        *thermal.Model
	tempTimeout  *eventloop.Timeout
	tempWatchers []chan thermal.Temperature
	now          func() time.Time

	enrollStages int
}

// New creates a device for drv on loop. The device starts closed and cold.
func New(loop *eventloop.Loop, drv Driver, opts *Options) *Device {
	log := logger.For(logger.ComponentDevice)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if opts == nil {
		opts = &Options{}
	}

	id := opts.DeviceID
	if id == "" {
		id = uuid.NewString()
	}

	name := opts.Name
	if name == "" {
		name = drv.ID()
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	hot := float64(constants.DefaultTempHotSeconds)
	cold := float64(constants.DefaultTempColdSeconds)

	if tc, ok := drv.(ThermalConfigurer); ok {
		hot, cold = tc.TempConstants()
	}

	if opts.HotSeconds != 0 {
		hot = opts.HotSeconds
		cold = opts.ColdSeconds
	}

	c := resolveCaps(drv)
	features := c.deriveFeatures()

	if hot <= 0 {
		features |= FeatureAlwaysOn
	}

	stages := constants.DefaultEnrollStages
	if c.enroller != nil && c.enroller.EnrollStages() > 0 {
		stages = c.enroller.EnrollStages()
	}

	metrics.InitErrorCounter(metrics.ComponentDevice, id)

	return &Device{
		loop:         loop,
		log:          log,
		driver:       drv,
		caps:         c,
		features:     features,
		id:           id,
		name:         name,
		lifecycle:    newLifecycle(id, log),
		removedCh:    make(chan struct{}),
		model:        thermal.New(hot, cold, now()),
		now:          now,
		enrollStages: stages,
	}
}

// ID returns the device ID. Stable unless a probe updates it.
func (d *Device) ID() string {
	return d.id
}

// Name returns the human readable device name.
func (d *Device) Name() string {
	return d.name
}

// DriverID returns the owning driver's name.
func (d *Device) DriverID() string {
	return d.driver.ID()
}

// Features returns the supported feature bitmask.
func (d *Device) Features() Feature {
	return d.features
}

// EnrollStages returns how many scan stages an enroll takes.
func (d *Device) EnrollStages() int {
	return d.enrollStages
}

// SetEnrollStages lets a driver adjust the stage count during open.
// Loop goroutine only.
func (d *Device) SetEnrollStages(stages int) {
	if stages < 1 {
		d.log.Errorf("BUG: device %s set invalid enroll stage count %d", d.id, stages)

		return
	}

	d.enrollStages = stages
}

// CurrentAction returns the action occupying the device. Loop goroutine
// only.
func (d *Device) CurrentAction() Action {
	return d.action
}

// ActionContext returns the current action's cancellation token. Drivers
// poll it (ctx.Done/ctx.Err) to learn whether abort was requested;
// cancellation is advisory and the driver must still complete the action.
// Loop goroutine only.
func (d *Device) ActionContext() context.Context {
	if d.cancelCtx == nil {
		return context.Background()
	}

	return d.cancelCtx
}

// Temperature returns the device temperature as of the last model update.
// Loop goroutine only.
func (d *Device) Temperature() thermal.Temperature {
	return d.model.Current()
}

// FingerStatus returns the current finger status. Loop goroutine only.
func (d *Device) FingerStatus() FingerStatus {
	return d.fingerStatus
}

// Removed is closed once the removal notification has fired. For a busy
// device that happens only after the in-flight action finalized.
func (d *Device) Removed() <-chan struct{} {
	return d.removedCh
}

// WatchFingerStatus registers a finger status watcher. Notifications fire
// only on change; a watcher that falls behind loses the oldest ones.
func (d *Device) WatchFingerStatus() <-chan FingerStatus {
	ch := make(chan FingerStatus, constants.WatcherQueueSize)

	d.loop.Post(func() {
		d.fingerWatchers = append(d.fingerWatchers, ch)
	})

	return ch
}

// WatchTemperature registers a temperature watcher. Notifications fire only
// on band change.
func (d *Device) WatchTemperature() <-chan thermal.Temperature {
	ch := make(chan thermal.Temperature, constants.WatcherQueueSize)

	d.loop.Post(func() {
		d.tempWatchers = append(d.tempWatchers, ch)
	})

	return ch
}

// ReportFingerStatus sets the finger status, notifying watchers on change.
// Driver API, loop goroutine only. Returns whether the status changed.
func (d *Device) ReportFingerStatus(status FingerStatus) bool {
	if d.fingerStatus == status {
		return false
	}

	d.log.Debugf("Device %s reported finger status change: %s", d.id, status)
	d.fingerStatus = status

	for _, ch := range d.fingerWatchers {
		notify(ch, status)
	}

	return true
}

// ReportFingerStatusChanges adds and removes individual status flags.
// Driver API, loop goroutine only.
func (d *Device) ReportFingerStatusChanges(added, removed FingerStatus) bool {
	status := d.fingerStatus
	status |= added
	status &^= removed

	return d.ReportFingerStatus(status)
}

// Remove marks the device permanently removed, e.g. after an unplug. Safe
// from any goroutine. If the device is idle the removal notification fires
// right away; otherwise it is deferred until the in-flight action
// finalizes. Every later completion except a successful open reports
// REMOVED.
func (d *Device) Remove() {
	d.loop.Post(func() {
		if d.isRemoved {
			return
		}

		d.log.Infof("Device %s was removed", d.id)
		d.isRemoved = true

		if d.current == nil {
			d.emitRemoved()

			return
		}

		// The in-flight action gets an advisory cancel; the result is
		// forced to REMOVED at finalization anyway.
		d.cancelToken(fperr.New(fperr.Removed))
	})
}

func (d *Device) emitRemoved() {
	if d.removedEmitted {
		return
	}

	d.removedEmitted = true
	close(d.removedCh)
}

// cancelToken cancels the current action's token with cause, if one exists,
// and arranges for the driver's cancel hook to run. External and internal
// cancellations (removal, overheating, failed suspend) share this path.
func (d *Device) cancelToken(cause error) {
	if d.cancelCause != nil {
		d.cancelCause(cause)
	}

	d.notifyDriverCancel()
}

// notifyDriverCancel dispatches the driver's cancel hook once per action,
// on a later loop turn, or queues it while a critical section is open.
func (d *Device) notifyDriverCancel() {
	if d.cancelNotified || !d.action.longRunning() || d.caps.canceller == nil {
		return
	}

	d.cancelNotified = true

	if d.critical > 0 {
		d.cancelQueued = true

		return
	}

	cur := d.current

	d.loop.Post(func() {
		if d.current != cur || d.finalizing {
			return
		}

		d.caps.canceller.Cancel(d)
	})
}

// updateTemp advances the thermal model and re-arms the threshold timer.
// active is whether the device is scanning from now on.
func (d *Device) updateTemp(active bool) {
	if d.model.Disabled() {
		return
	}

	oldTemp := d.model.Current()
	oldRatio := d.model.Ratio()

	temp, delay := d.model.Update(d.now(), active)

	d.log.Debugf("Device %s temperature model: ratio %0.2f -> %0.2f, %s -> %s",
		d.id, oldRatio, d.model.Ratio(), oldTemp, temp)

	metrics.UpdateThermalState(d.id, d.model.Ratio(), int(temp))

	if temp != oldTemp {
		for _, ch := range d.tempWatchers {
			notify(ch, temp)
		}
	}

	// A HOT device cancels long scans internally; the stored reason wins
	// over whatever the driver later reports.
	if temp == thermal.Hot && d.action.longRunning() {
		if d.cancelReason == nil {
			d.cancelReason = fperr.New(fperr.TooHot)
		}

		d.cancelToken(d.cancelReason)
	}

	if d.tempTimeout != nil {
		d.tempTimeout.Cancel()
		d.tempTimeout = nil
	}

	if delay <= 0 {
		return
	}

	d.tempTimeout = d.loop.AddTimeout(delay, func() {
		d.tempTimeout = nil
		d.updateTemp(d.model.Active())
	})
}

// notify delivers v without blocking, dropping the oldest queued value when
// the watcher is full.
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- v:
	default:
	}
}
