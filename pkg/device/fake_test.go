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

package device_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openbiometrics/fpcore/pkg/device"
	"github.com/openbiometrics/fpcore/pkg/eventloop"
)

// fakeDriver is a scriptable backend for exercising the executor. Hooks run
// on the loop goroutine; a nil hook completes the operation successfully
// right away. The driver opts out of thermal modeling unless a test sets
// the constants.
type fakeDriver struct {
	hot  float64
	cold float64

	onOpen     func(dev *device.Device)
	onClose    func(dev *device.Device)
	onEnroll   func(dev *device.Device)
	onVerify   func(dev *device.Device)
	onIdentify func(dev *device.Device)
	onCapture  func(dev *device.Device)
	onCancel   func(dev *device.Device)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{hot: -1}
}

func (f *fakeDriver) ID() string { return "fake" }

func (f *fakeDriver) TempConstants() (float64, float64) { return f.hot, f.cold }

func (f *fakeDriver) EnrollStages() int { return 3 }

func (f *fakeDriver) Open(dev *device.Device) {
	if f.onOpen != nil {
		f.onOpen(dev)

		return
	}

	dev.CompleteOpen(nil)
}

func (f *fakeDriver) Close(dev *device.Device) {
	if f.onClose != nil {
		f.onClose(dev)

		return
	}

	dev.CompleteClose(nil)
}

func (f *fakeDriver) Enroll(dev *device.Device) {
	if f.onEnroll != nil {
		f.onEnroll(dev)

		return
	}

	dev.CompleteEnroll(dev.EnrollPrint(), nil)
}

func (f *fakeDriver) Verify(dev *device.Device) {
	if f.onVerify != nil {
		f.onVerify(dev)

		return
	}

	dev.ReportVerify(device.MatchSuccess, nil, nil)
	dev.CompleteVerify(nil)
}

func (f *fakeDriver) Identify(dev *device.Device) {
	if f.onIdentify != nil {
		f.onIdentify(dev)

		return
	}

	dev.ReportIdentify(nil, nil, nil)
	dev.CompleteIdentify(nil)
}

func (f *fakeDriver) Capture(dev *device.Device) {
	if f.onCapture != nil {
		f.onCapture(dev)

		return
	}

	dev.CompleteCapture([]byte("image"), nil)
}

func (f *fakeDriver) Cancel(dev *device.Device) {
	if f.onCancel != nil {
		f.onCancel(dev)
	}
}

// suspendableDriver adds suspend/resume support on top of fakeDriver.
type suspendableDriver struct {
	fakeDriver

	onSuspend func(dev *device.Device)
	onResume  func(dev *device.Device)
}

func (s *suspendableDriver) Suspend(dev *device.Device) {
	if s.onSuspend != nil {
		s.onSuspend(dev)

		return
	}

	dev.CompleteSuspend(nil)
}

func (s *suspendableDriver) Resume(dev *device.Device) {
	if s.onResume != nil {
		s.onResume(dev)

		return
	}

	dev.CompleteResume(nil)
}

// suspendOnlyDriver can park a scan for suspend but not restart it after.
type suspendOnlyDriver struct {
	fakeDriver

	onSuspend func(dev *device.Device)
}

func (s *suspendOnlyDriver) Suspend(dev *device.Device) {
	if s.onSuspend != nil {
		s.onSuspend(dev)

		return
	}

	dev.CompleteSuspend(nil)
}

// minimalDriver implements nothing beyond open and close.
type minimalDriver struct{}

func (minimalDriver) ID() string { return "minimal" }

func (minimalDriver) Open(dev *device.Device)  { dev.CompleteOpen(nil) }
func (minimalDriver) Close(dev *device.Device) { dev.CompleteClose(nil) }

// startLoop runs a fresh event loop and returns it with its stopper.
func startLoop() (*eventloop.Loop, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := eventloop.New()

	go func() {
		defer GinkgoRecover()
		Expect(loop.Run(ctx)).To(Succeed())
	}()

	return loop, cancel
}

// openDevice drives a device through a successful open.
func openDevice(dev *device.Device) {
	Eventually(dev.Open()).Should(Receive(BeNil()))
}

// completeActionOnCancel wires the fake cancel hook to finish the current
// action with the cancellation cause, the way cooperative drivers do.
func completeActionOnCancel(f *fakeDriver) {
	f.onCancel = func(dev *device.Device) {
		cause := context.Cause(dev.ActionContext())

		switch dev.CurrentAction() {
		case device.ActionEnroll:
			dev.CompleteEnroll(nil, cause)
		case device.ActionVerify:
			dev.CompleteVerify(cause)
		case device.ActionIdentify:
			dev.CompleteIdentify(cause)
		case device.ActionCapture:
			dev.CompleteCapture(nil, cause)
		}
	}
}
