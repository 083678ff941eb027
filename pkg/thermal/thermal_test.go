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

package thermal_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openbiometrics/fpcore/pkg/constants"
	"github.com/openbiometrics/fpcore/pkg/thermal"
)

var _ = Describe("Model", func() {
	// Fast-heating test device: 2s to heat, 5s to cool.
	const (
		hotSeconds  = 2.0
		coldSeconds = 5.0
	)

	var (
		t0    time.Time
		model *thermal.Model
	)

	BeforeEach(func() {
		t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		model = thermal.New(hotSeconds, coldSeconds, t0)
	})

	It("starts cold and inactive", func() {
		Expect(model.Current()).To(Equal(thermal.Cold))
		Expect(model.Ratio()).To(BeZero())
		Expect(model.Active()).To(BeFalse())
		Expect(model.Disabled()).To(BeFalse())
	})

	It("heats monotonically from COLD through WARM to HOT while active", func() {
		temp, delay := model.Update(t0, true)
		Expect(temp).To(Equal(thermal.Cold))
		Expect(delay).To(BeNumerically(">", 0))

		// After one heat time constant the ratio is 1-1/e, past the
		// cold threshold but below the hot one.
		temp, delay = model.Update(t0.Add(2*time.Second), true)
		Expect(temp).To(Equal(thermal.Warm))
		Expect(model.Ratio()).To(BeNumerically("~", 1-1/math.E, 1e-9))
		Expect(delay).To(BeNumerically(">", 0))

		temp, delay = model.Update(t0.Add(10*time.Second), true)
		Expect(temp).To(Equal(thermal.Hot))
		Expect(model.Ratio()).To(BeNumerically(">", constants.TempWarmHotThreshold))

		// A hot device that keeps scanning has no further threshold to
		// cross.
		Expect(delay).To(BeZero())
	})

	It("returns a delay that lands past the next threshold crossing", func() {
		_, delay := model.Update(t0, true)

		temp, _ := model.Update(t0.Add(delay), true)
		Expect(temp).To(Equal(thermal.Warm))
	})

	It("stays HOT while cooling until the lower hysteresis threshold", func() {
		temp, _ := model.Update(t0.Add(20*time.Second), true)
		Expect(temp).To(Equal(thermal.Hot))

		heated := t0.Add(20 * time.Second)

		// One second of cooling is not enough to leave the HOT band.
		temp, delay := model.Update(heated.Add(1*time.Second), false)
		Expect(temp).To(Equal(thermal.Hot))
		Expect(delay).To(BeNumerically(">", 0))

		// The ratio is already below the warm-to-hot threshold here, but
		// hysteresis keeps the band at HOT.
		temp, _ = model.Update(heated.Add(2*time.Second), false)
		Expect(model.Ratio()).To(BeNumerically("<", constants.TempWarmHotThreshold))
		Expect(model.Ratio()).To(BeNumerically(">", constants.TempHotWarmThreshold))
		Expect(temp).To(Equal(thermal.Hot))

		temp, _ = model.Update(heated.Add(4*time.Second), false)
		Expect(temp).To(Equal(thermal.Warm))

		temp, delay = model.Update(heated.Add(30*time.Second), false)
		Expect(temp).To(Equal(thermal.Cold))

		// A cold idle device never needs a re-check.
		Expect(delay).To(BeZero())
	})

	It("reheats faster than it heated from cold", func() {
		model.Update(t0.Add(20*time.Second), true)
		heated := t0.Add(20 * time.Second)

		// Cool just below the hot band, then scan again.
		temp, _ := model.Update(heated.Add(4*time.Second), false)
		Expect(temp).To(Equal(thermal.Warm))

		warmRatio := model.Ratio()

		model.Update(heated.Add(5*time.Second), true)
		Expect(model.Ratio()).To(BeNumerically(">", warmRatio))
	})

	It("treats a disabled model as permanently cold", func() {
		disabled := thermal.New(-1, coldSeconds, t0)
		Expect(disabled.Disabled()).To(BeTrue())

		temp, delay := disabled.Update(t0.Add(time.Hour), true)
		Expect(temp).To(Equal(thermal.Cold))
		Expect(delay).To(BeZero())
	})

	It("falls back to the default cool constant", func() {
		m := thermal.New(hotSeconds, 0, t0)

		// Heat up, then verify cooling follows the default constant.
		m.Update(t0.Add(20*time.Second), true)
		ratio := m.Ratio()

		m.Update(t0.Add(20*time.Second+constants.DefaultTempColdSeconds*time.Second), false)
		Expect(m.Ratio()).To(BeNumerically("~", ratio/math.E, 1e-6))
	})

	It("clamps a clock that moved backwards", func() {
		model.Update(t0.Add(10*time.Second), true)
		ratio := model.Ratio()

		model.Update(t0, true)
		Expect(model.Ratio()).To(Equal(ratio))
	})
})
