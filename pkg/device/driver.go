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

package device

// Driver is the minimal contract every sensor backend satisfies. Optional
// operations live on the capability interfaces below; the framework resolves
// them once at device creation, never per call.
//
// Every dispatched operation must eventually invoke the matching Complete
// reporter (or ActionError) exactly once, from the event loop goroutine.
type Driver interface {
	// ID returns the driver name, e.g. "virtual" or "elan".
	ID() string

	Open(dev *Device)
	Close(dev *Device)
}

// Prober runs before open to refine device identity (ID, display name).
type Prober interface {
	Probe(dev *Device)
}

// Enroller captures a new print over one or more scan stages.
type Enroller interface {
	Enroll(dev *Device)

	// EnrollStages is the scan stage count reported to callers. Zero
	// selects the framework default.
	EnrollStages() int
}

// Verifier matches a scan against one enrolled print.
type Verifier interface {
	Verify(dev *Device)
}

// Identifier matches a scan against a print gallery.
type Identifier interface {
	Identify(dev *Device)
}

// Capturer returns a raw sample without matching.
type Capturer interface {
	Capture(dev *Device)
}

// Lister enumerates prints in on-sensor storage.
type Lister interface {
	List(dev *Device)
}

// Deleter removes one print from on-sensor storage.
type Deleter interface {
	Delete(dev *Device)
}

// StorageClearer wipes on-sensor storage.
type StorageClearer interface {
	ClearStorage(dev *Device)
}

// Canceller is notified when cancellation of the current action was
// requested. Cancellation stays advisory: the driver must still complete
// the action.
type Canceller interface {
	Cancel(dev *Device)
}

// Suspender prepares a long-running action for system suspend. The driver
// decides whether the action survives suspend (CompleteSuspend with nil) or
// must be torn down first (CompleteSuspend with an error).
type Suspender interface {
	Suspend(dev *Device)
}

// Resumer restarts a suspended long-running action after system resume.
type Resumer interface {
	Resume(dev *Device)
}

// ThermalConfigurer overrides the default heating/cooling time constants.
// A non-positive hot value exempts the device from thermal modeling.
type ThermalConfigurer interface {
	TempConstants() (hotSeconds, coldSeconds float64)
}

// caps holds the capability interfaces the driver implements, resolved once.
type caps struct {
	prober     Prober
	enroller   Enroller
	verifier   Verifier
	identifier Identifier
	capturer   Capturer
	lister     Lister
	deleter    Deleter
	clearer    StorageClearer
	canceller  Canceller
	suspender  Suspender
	resumer    Resumer
}

func resolveCaps(drv Driver) caps {
	var c caps

	c.prober, _ = drv.(Prober)
	c.enroller, _ = drv.(Enroller)
	c.verifier, _ = drv.(Verifier)
	c.identifier, _ = drv.(Identifier)
	c.capturer, _ = drv.(Capturer)
	c.lister, _ = drv.(Lister)
	c.deleter, _ = drv.(Deleter)
	c.clearer, _ = drv.(StorageClearer)
	c.canceller, _ = drv.(Canceller)
	c.suspender, _ = drv.(Suspender)
	c.resumer, _ = drv.(Resumer)

	return c
}

// Feature is the bitmask of operations a device supports.
type Feature uint32

const (
	FeatureNone          Feature = 0
	FeatureCapture       Feature = 1 << 0
	FeatureIdentify      Feature = 1 << 1
	FeatureVerify        Feature = 1 << 2
	FeatureStorage       Feature = 1 << 3
	FeatureStorageList   Feature = 1 << 4
	FeatureStorageDelete Feature = 1 << 5
	FeatureStorageClear  Feature = 1 << 6
	FeatureAlwaysOn      Feature = 1 << 7
)

// Has reports whether all bits in f are set.
func (fs Feature) Has(f Feature) bool {
	return fs&f == f
}

// deriveFeatures computes the feature bitmask from the capabilities the
// driver actually implements.
func (c caps) deriveFeatures() Feature {
	var f Feature

	if c.capturer != nil {
		f |= FeatureCapture
	}

	if c.verifier != nil {
		f |= FeatureVerify
	}

	if c.identifier != nil {
		f |= FeatureIdentify
	}

	if c.lister != nil {
		f |= FeatureStorage | FeatureStorageList
	}

	if c.deleter != nil {
		f |= FeatureStorage | FeatureStorageDelete
	}

	if c.clearer != nil {
		f |= FeatureStorage | FeatureStorageClear
	}

	return f
}
