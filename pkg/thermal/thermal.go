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

// Package thermal models sensor heating as an exponentially smoothed duty
// cycle. The model is pure: callers pass in the current time and wire the
// returned re-check delay to their own timers, which keeps it fully testable
// with a fake clock.
package thermal

import (
	"math"
	"time"

	"github.com/openbiometrics/fpcore/pkg/constants"
)

// Temperature is the discrete band derived from the duty-cycle ratio.
type Temperature int

const (
	Cold Temperature = iota
	Warm
	Hot
)

func (t Temperature) String() string {
	switch t {
	case Cold:
		return "COLD"
	case Warm:
		return "WARM"
	case Hot:
		return "HOT"
	default:
		return "UNKNOWN"
	}
}

// Model tracks one device's duty-cycle ratio. While the device is active the
// ratio decays toward 1 with the heat time constant; while inactive it
// decays toward 0 with the cool time constant.
//
// The WARM/HOT boundary is hysteretic: once HOT, the device stays HOT until
// the ratio falls back under the hot-warm threshold, not merely under the
// warm-hot one.
type Model struct {
	hotSeconds  float64
	coldSeconds float64

	ratio      float64
	lastUpdate time.Time
	lastActive bool
	current    Temperature
}

// New creates a cold model. A non-positive hotSeconds disables modeling
// entirely; such devices are treated as always cold. Non-positive
// coldSeconds falls back to the default cool constant.
func New(hotSeconds, coldSeconds float64, now time.Time) *Model {
	if coldSeconds <= 0 {
		coldSeconds = constants.DefaultTempColdSeconds
	}

	return &Model{
		hotSeconds:  hotSeconds,
		coldSeconds: coldSeconds,
		lastUpdate:  now,
		current:     Cold,
	}
}

// Disabled reports whether the device opted out of thermal modeling.
func (m *Model) Disabled() bool {
	return m.hotSeconds <= 0
}

// Ratio returns the duty-cycle ratio as of the last Update.
func (m *Model) Ratio() float64 {
	return m.ratio
}

// Current returns the temperature as of the last Update.
func (m *Model) Current() Temperature {
	return m.current
}

// Active returns the activity flag recorded by the last Update.
func (m *Model) Active() bool {
	return m.lastActive
}

// Update advances the model to now and records whether the device is active
// from now on. It returns the new temperature and the delay after which the
// next threshold crossing is expected; a zero delay means no re-evaluation
// is needed (the ratio is moving away from every threshold).
func (m *Model) Update(now time.Time, active bool) (Temperature, time.Duration) {
	if m.Disabled() {
		return Cold, 0
	}

	passed := now.Sub(m.lastUpdate).Seconds()
	if passed < 0 {
		passed = 0
	}

	if m.lastActive {
		alpha := math.Exp(-passed / m.hotSeconds)
		m.ratio = alpha*m.ratio + 1 - alpha
	} else {
		alpha := math.Exp(-passed / m.coldSeconds)
		m.ratio = alpha * m.ratio
	}

	m.lastActive = active
	m.lastUpdate = now

	var nextThreshold float64

	switch {
	case m.ratio < constants.TempColdThreshold:
		m.current = Cold

		if active {
			nextThreshold = constants.TempColdThreshold
		} else {
			nextThreshold = -1
		}

	case m.ratio < constants.TempWarmHotThreshold:
		// Hysteresis: a HOT device must cool further before it counts
		// as WARM again.
		if m.current != Hot || m.ratio < constants.TempHotWarmThreshold {
			m.current = Warm
		}

		if active {
			nextThreshold = constants.TempWarmHotThreshold
		} else if m.current == Hot {
			nextThreshold = constants.TempHotWarmThreshold
		} else {
			nextThreshold = constants.TempColdThreshold
		}

	default:
		m.current = Hot

		if active {
			nextThreshold = -1
		} else {
			nextThreshold = constants.TempHotWarmThreshold
		}
	}

	if nextThreshold < 0 {
		return m.current, 0
	}

	// Invert the exponential to estimate when the ratio crosses the
	// threshold, then pad it so the re-evaluation lands past the border.
	var seconds float64
	if active {
		seconds = -math.Log((nextThreshold-1)/(m.ratio-1)) * m.hotSeconds
	} else {
		seconds = -math.Log(nextThreshold/m.ratio) * m.coldSeconds
	}

	delay := time.Duration(seconds*float64(time.Second)) + constants.TempUpdateDelay

	return m.current, delay
}
