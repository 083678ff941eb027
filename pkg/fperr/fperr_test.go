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

package fperr_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openbiometrics/fpcore/pkg/fperr"
)

var _ = Describe("Device errors", func() {
	It("carries the code and the canonical message", func() {
		err := fperr.New(fperr.TooHot)

		code, ok := fperr.CodeOf(err)
		Expect(ok).To(BeTrue())
		Expect(code).To(Equal(fperr.TooHot))
		Expect(err.Error()).To(ContainSubstring("overheating"))
	})

	It("formats a custom message", func() {
		err := fperr.Newf(fperr.Proto, "unexpected opcode %#x", 0x42)

		Expect(fperr.IsCode(err, fperr.Proto)).To(BeTrue())
		Expect(err.Error()).To(Equal("unexpected opcode 0x42"))
	})

	It("maps unknown codes to GENERAL", func() {
		err := fperr.New(fperr.Code(999))

		Expect(fperr.IsCode(err, fperr.General)).To(BeTrue())
	})

	It("survives wrapping", func() {
		err := fmt.Errorf("enroll: %w", fperr.New(fperr.DataFull))

		Expect(fperr.IsCode(err, fperr.DataFull)).To(BeTrue())
	})

	It("does not claim foreign errors", func() {
		_, ok := fperr.CodeOf(errors.New("something else"))
		Expect(ok).To(BeFalse())

		Expect(fperr.IsCode(nil, fperr.General)).To(BeFalse())
	})
})

var _ = Describe("Retry errors", func() {
	It("stays out of the hard error domain", func() {
		err := fperr.Retry(fperr.RetryTooShort)

		Expect(fperr.IsRetry(err)).To(BeTrue())

		_, ok := fperr.CodeOf(err)
		Expect(ok).To(BeFalse())
	})

	It("keeps hard errors out of the retry domain", func() {
		Expect(fperr.IsRetry(fperr.New(fperr.Busy))).To(BeFalse())
		Expect(fperr.IsRetry(nil)).To(BeFalse())
	})

	It("maps unknown retry codes to RETRY_GENERAL", func() {
		err := fperr.Retry(fperr.RetryCode(-3))

		var re *fperr.RetryError
		Expect(errors.As(err, &re)).To(BeTrue())
		Expect(re.Code).To(Equal(fperr.RetryGeneral))
	})

	It("formats a custom retry message", func() {
		err := fperr.Retryf(fperr.RetryCenterFinger, "finger at %d%%", 20)

		Expect(fperr.IsRetry(err)).To(BeTrue())
		Expect(err.Error()).To(Equal("finger at 20%"))
	})
})
