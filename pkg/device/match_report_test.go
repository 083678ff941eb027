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

var _ = Describe("Result reporting", func() {
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
		openDevice(dev)
	})

	AfterEach(func() {
		stop()
		Eventually(loop.Done()).Should(BeClosed())
	})

	enrolled := func() *print.Print {
		p := print.New("fake", "dev")
		p.Data = []byte("template")

		return p
	}

	Describe("enroll completion", func() {
		It("returns the error when the driver passes both a print and an error", func() {
			boom := fperr.New(fperr.Proto)
			driver.onEnroll = func(dev *device.Device) {
				dev.CompleteEnroll(dev.EnrollPrint(), boom)
			}

			var res device.EnrollResult
			Eventually(dev.Enroll(nil, nil)).Should(Receive(&res))

			Expect(res.Err).To(MatchError(boom))
			Expect(res.Print).To(BeNil())
		})

		It("demotes a completion with neither print nor error to GENERAL", func() {
			driver.onEnroll = func(dev *device.Device) {
				dev.CompleteEnroll(nil, nil)
			}

			var res device.EnrollResult
			Eventually(dev.Enroll(nil, nil)).Should(Receive(&res))

			Expect(fperr.IsCode(res.Err, fperr.General)).To(BeTrue())
		})

		It("demotes a retry error passed to completion to GENERAL", func() {
			driver.onEnroll = func(dev *device.Device) {
				dev.CompleteEnroll(nil, fperr.Retry(fperr.RetryTooShort))
			}

			var res device.EnrollResult
			Eventually(dev.Enroll(nil, nil)).Should(Receive(&res))

			Expect(fperr.IsRetry(res.Err)).To(BeFalse())
			Expect(fperr.IsCode(res.Err, fperr.General)).To(BeTrue())
		})

		It("forwards per-stage progress including retry errors", func() {
			type progressEvent struct {
				completed int
				err       error
			}

			events := make(chan progressEvent, 4)

			driver.onEnroll = func(dev *device.Device) {
				dev.EnrollProgress(0, nil, fperr.Retry(fperr.RetryCenterFinger))
				dev.EnrollProgress(1, nil, nil)
				dev.CompleteEnroll(dev.EnrollPrint(), nil)
			}

			progress := func(completed int, _ *print.Print, err error) {
				events <- progressEvent{completed: completed, err: err}
			}

			var res device.EnrollResult
			Eventually(dev.Enroll(nil, progress)).Should(Receive(&res))
			Expect(res.Err).NotTo(HaveOccurred())

			var ev progressEvent
			Eventually(events).Should(Receive(&ev))
			Expect(ev.completed).To(Equal(0))
			Expect(fperr.IsRetry(ev.err)).To(BeTrue())

			Eventually(events).Should(Receive(&ev))
			Expect(ev.completed).To(Equal(1))
			Expect(ev.err).NotTo(HaveOccurred())
		})
	})

	Describe("verify reporting", func() {
		It("delivers a reported match on successful completion", func() {
			driver.onVerify = func(dev *device.Device) {
				scanned := print.New("fake", dev.ID())
				scanned.Data = []byte("template")

				dev.ReportVerify(device.MatchSuccess, scanned, nil)
				dev.CompleteVerify(nil)
			}

			var res device.VerifyResult
			Eventually(dev.Verify(enrolled(), nil)).Should(Receive(&res))

			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Match).To(BeTrue())
			Expect(res.Print).NotTo(BeNil())
		})

		It("demotes a successful completion without a prior report to GENERAL", func() {
			driver.onVerify = func(dev *device.Device) {
				dev.CompleteVerify(nil)
			}

			var res device.VerifyResult
			Eventually(dev.Verify(enrolled(), nil)).Should(Receive(&res))

			Expect(fperr.IsCode(res.Err, fperr.General)).To(BeTrue())
		})

		It("surfaces a reported retry error as the final result", func() {
			retryErr := fperr.Retry(fperr.RetryRemoveFinger)
			cbErrs := make(chan error, 1)

			driver.onVerify = func(dev *device.Device) {
				dev.ReportVerify(device.MatchError, nil, retryErr)
				dev.CompleteVerify(nil)
			}

			cb := func(_ *print.Print, _ *print.Print, err error) {
				cbErrs <- err
			}

			var res device.VerifyResult
			Eventually(dev.Verify(enrolled(), cb)).Should(Receive(&res))

			Expect(res.Err).To(MatchError(retryErr))
			Eventually(cbErrs).Should(Receive(MatchError(retryErr)))
		})

		It("delays the early callback for a non-retry report error", func() {
			boom := fperr.New(fperr.Proto)
			cbCalled := make(chan struct{}, 1)

			driver.onVerify = func(dev *device.Device) {
				dev.ReportVerify(device.MatchError, nil, boom)
				dev.CompleteVerify(nil)
			}

			cb := func(_ *print.Print, _ *print.Print, _ error) {
				cbCalled <- struct{}{}
			}

			var res device.VerifyResult
			Eventually(dev.Verify(enrolled(), cb)).Should(Receive(&res))

			Expect(res.Err).To(MatchError(boom))
			Consistently(cbCalled).ShouldNot(Receive())
		})

		It("synthesizes a general retry error for an error report without a code", func() {
			driver.onVerify = func(dev *device.Device) {
				dev.ReportVerify(device.MatchError, nil, nil)
				dev.CompleteVerify(nil)
			}

			var res device.VerifyResult
			Eventually(dev.Verify(enrolled(), nil)).Should(Receive(&res))

			Expect(fperr.IsRetry(res.Err)).To(BeTrue())
		})

		It("ignores a second report", func() {
			driver.onVerify = func(dev *device.Device) {
				dev.ReportVerify(device.MatchFail, nil, nil)
				dev.ReportVerify(device.MatchSuccess, nil, nil)
				dev.CompleteVerify(nil)
			}

			var res device.VerifyResult
			Eventually(dev.Verify(enrolled(), nil)).Should(Receive(&res))

			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Match).To(BeFalse())
		})
	})

	Describe("identify reporting", func() {
		It("delivers the matched gallery print", func() {
			gallery := []*print.Print{enrolled(), enrolled()}

			driver.onIdentify = func(dev *device.Device) {
				dev.ReportIdentify(dev.IdentifyGallery()[1], nil, nil)
				dev.CompleteIdentify(nil)
			}

			var res device.IdentifyResult
			Eventually(dev.Identify(gallery, nil)).Should(Receive(&res))

			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Match).To(Equal(gallery[1]))
		})

		It("ignores a match that is not part of the gallery", func() {
			gallery := []*print.Print{enrolled()}
			stray := enrolled()

			driver.onIdentify = func(dev *device.Device) {
				dev.ReportIdentify(stray, nil, nil)
				dev.CompleteIdentify(nil)
			}

			var res device.IdentifyResult
			Eventually(dev.Identify(gallery, nil)).Should(Receive(&res))

			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Match).To(BeNil())
		})

		It("demotes a retry error passed to completion to GENERAL", func() {
			driver.onIdentify = func(dev *device.Device) {
				dev.ReportIdentify(nil, nil, nil)
				dev.CompleteIdentify(fperr.Retry(fperr.RetryGeneral))
			}

			var res device.IdentifyResult
			Eventually(dev.Identify([]*print.Print{enrolled()}, nil)).Should(Receive(&res))

			Expect(fperr.IsCode(res.Err, fperr.General)).To(BeTrue())
		})
	})
})
