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

package constants

import (
	"math"
	"time"
)

// Thermal model thresholds on the duty-cycle ratio.
//
// TempColdThreshold is chosen so that if the device turns active right after
// a WARM -> COLD transition, it takes exactly one heat time constant to go
// from COLD to HOT: 1 / (e + 1).
var TempColdThreshold = 1.0 / (math.E + 1.0)

// TempWarmHotThreshold is the ratio at which a device becomes HOT.
var TempWarmHotThreshold = 1.0 - TempColdThreshold

// TempHotWarmThreshold is the hysteresis ratio a HOT device must cool below
// before it is considered WARM again.
const TempHotWarmThreshold = 0.5

// TempUpdateDelay pads threshold-crossing timers so the re-evaluation never
// lands exactly on the border.
const TempUpdateDelay = 100 * time.Millisecond

// Default time constants for drivers that do not declare their own.
// 3 minutes of heating is hopefully long enough to stay out of the way while
// not properly overheating any device.
const (
	DefaultTempHotSeconds  = 3 * 60
	DefaultTempColdSeconds = 9 * 60
)
