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
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/print"
)

var _ = Describe("Device lifecycle", func() {
	var (
		loop   *eventloop.Loop
		stop   context.CancelFunc
		driver *fakeDriver
		dev    *device.Device
	)

	BeforeEach(func() {
		loop, stop = startLoop()
		driver = newFakeDriver()
		dev = device.New(loop, driver, nil)
	})

	AfterEach(func() {
		stop()
		Eventually(loop.Done()).Should(BeClosed())
	})

	It("opens and closes", func() {
		Eventually(dev.Open()).Should(Receive(BeNil()))
		Eventually(dev.Close()).Should(Receive(BeNil()))
	})

	It("rejects opening an already open device", func() {
		openDevice(dev)

		var err error
		Eventually(dev.Open()).Should(Receive(&err))
		Expect(fperr.IsCode(err, fperr.AlreadyOpen)).To(BeTrue())
	})

	It("rejects operations before open", func() {
		var res device.EnrollResult
		Eventually(dev.Enroll(nil, nil)).Should(Receive(&res))
		Expect(fperr.IsCode(res.Err, fperr.NotOpen)).To(BeTrue())

		var err error
		Eventually(dev.Close()).Should(Receive(&err))
		Expect(fperr.IsCode(err, fperr.NotOpen)).To(BeTrue())
	})

	It("counts the device as closed even when the driver reports a close error", func() {
		boom := fperr.New(fperr.Proto)
		driver.onClose = func(dev *device.Device) {
			dev.CompleteClose(boom)
		}

		openDevice(dev)

		var err error
		Eventually(dev.Close()).Should(Receive(&err))
		Expect(err).To(MatchError(boom))

		// A fresh open must succeed: the close error did not leave the
		// lifecycle stuck.
		Eventually(dev.Open()).Should(Receive(BeNil()))
	})

	It("rejects a second action while one is in flight", func() {
		enrollStarted := make(chan *device.Device, 1)
		driver.onEnroll = func(dev *device.Device) {
			enrollStarted <- dev
		}

		openDevice(dev)
		enrollRes := dev.Enroll(nil, nil)

		Eventually(enrollStarted).Should(Receive())

		var err error
		Eventually(dev.Open()).Should(Receive(&err))
		Expect(fperr.IsCode(err, fperr.Busy)).To(BeTrue())

		var capRes device.CaptureResult
		Eventually(dev.Capture()).Should(Receive(&capRes))
		Expect(fperr.IsCode(capRes.Err, fperr.Busy)).To(BeTrue())

		// Finishing the first action frees the slot again.
		loop.Post(func() {
			dev.CompleteEnroll(dev.EnrollPrint(), nil)
		})

		var res device.EnrollResult
		Eventually(enrollRes).Should(Receive(&res))
		Expect(res.Err).NotTo(HaveOccurred())
		Expect(res.Print).NotTo(BeNil())

		Eventually(dev.Capture()).Should(Receive(&capRes))
		Expect(capRes.Err).NotTo(HaveOccurred())
		Expect(capRes.Image).To(Equal([]byte("image")))
	})

	It("reports NOT_SUPPORTED for missing capabilities", func() {
		mdev := device.New(loop, minimalDriver{}, nil)
		openDevice(mdev)

		var enrollRes device.EnrollResult
		Eventually(mdev.Enroll(nil, nil)).Should(Receive(&enrollRes))
		Expect(fperr.IsCode(enrollRes.Err, fperr.NotSupported)).To(BeTrue())

		enrolled := print.New("minimal", mdev.ID())

		var verifyRes device.VerifyResult
		Eventually(mdev.Verify(enrolled, nil)).Should(Receive(&verifyRes))
		Expect(fperr.IsCode(verifyRes.Err, fperr.NotSupported)).To(BeTrue())

		var listRes device.ListResult
		Eventually(mdev.List()).Should(Receive(&listRes))
		Expect(fperr.IsCode(listRes.Err, fperr.NotSupported)).To(BeTrue())

		Expect(mdev.Features()).To(Equal(device.FeatureNone))
	})

	It("rejects prints from a different driver", func() {
		openDevice(dev)

		foreign := print.New("elsewhere", "x")

		var res device.VerifyResult
		Eventually(dev.Verify(foreign, nil)).Should(Receive(&res))
		Expect(fperr.IsCode(res.Err, fperr.DataInvalid)).To(BeTrue())

		var ires device.IdentifyResult
		Eventually(dev.Identify([]*print.Print{foreign}, nil)).Should(Receive(&ires))
		Expect(fperr.IsCode(ires.Err, fperr.DataInvalid)).To(BeTrue())
	})

	It("falls back to the static identity when probe is unsupported", func() {
		mdev := device.New(loop, minimalDriver{}, &device.Options{DeviceID: "static-id"})

		Eventually(mdev.Probe()).Should(Receive(BeNil()))
		Expect(mdev.ID()).To(Equal("static-id"))

		Eventually(mdev.Open()).Should(Receive(BeNil()))
	})

	It("stamps enrolled prints with driver and device identity", func() {
		openDevice(dev)

		var res device.EnrollResult
		Eventually(dev.Enroll(nil, nil)).Should(Receive(&res))

		Expect(res.Err).NotTo(HaveOccurred())
		Expect(res.Print.Driver).To(Equal("fake"))
		Expect(res.Print.DeviceID).To(Equal(dev.ID()))
	})

	It("notifies finger status watchers on change only", func() {
		statuses := dev.WatchFingerStatus()

		enrollStarted := make(chan struct{})
		driver.onEnroll = func(dev *device.Device) {
			dev.ReportFingerStatusChanges(device.FingerStatusNeeded, 0)
			dev.ReportFingerStatusChanges(device.FingerStatusNeeded, 0)
			close(enrollStarted)
		}

		openDevice(dev)
		res := dev.Enroll(nil, nil)

		Eventually(enrollStarted).Should(BeClosed())
		Eventually(statuses).Should(Receive(Equal(device.FingerStatusNeeded)))
		Consistently(statuses).ShouldNot(Receive())

		loop.Post(func() {
			dev.CompleteEnroll(dev.EnrollPrint(), nil)
		})

		// Completion resets the finger status.
		Eventually(statuses).Should(Receive(Equal(device.FingerStatusNone)))
		Eventually(res).Should(Receive())
	})
})
