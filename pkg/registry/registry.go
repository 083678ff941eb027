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

// Package registry tracks the installed drivers and the devices created
// from them. Unlike the device internals it is called from arbitrary
// goroutines (HTTP handlers, enumeration), so it carries its own lock.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openbiometrics/fpcore/pkg/device"
	"github.com/openbiometrics/fpcore/pkg/eventloop"
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/metrics"
	"go.uber.org/zap"
)

type Registry struct {
	loop *eventloop.Loop
	log  *zap.SugaredLogger

	mu      sync.RWMutex
	drivers map[string]device.Driver
	devices map[string]*device.Device
}

func New(loop *eventloop.Loop) *Registry {
	log := logger.For(logger.ComponentRegistry)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	metrics.InitErrorCounter(metrics.ComponentRegistry, "registry")

	return &Registry{
		loop:    loop,
		log:     log,
		drivers: make(map[string]device.Driver),
		devices: make(map[string]*device.Device),
	}
}

// RegisterDriver installs drv under its ID. Registering the same ID twice
// is an error.
func (r *Registry) RegisterDriver(drv device.Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := drv.ID()
	if _, ok := r.drivers[id]; ok {
		metrics.IncErrorCount(metrics.ComponentRegistry, "registry")

		return fperr.Newf(fperr.General, "driver %s is already registered", id)
	}

	r.log.Infof("Registered driver %s", id)
	r.drivers[id] = drv

	return nil
}

// Drivers returns the registered driver IDs, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// AddDevice creates a device from the named driver and tracks it.
func (r *Registry) AddDevice(driverID string, opts *device.Options) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	drv, ok := r.drivers[driverID]
	if !ok {
		metrics.IncErrorCount(metrics.ComponentRegistry, "registry")

		return nil, fmt.Errorf("no driver registered as %s", driverID)
	}

	dev := device.New(r.loop, drv, opts)

	if _, ok := r.devices[dev.ID()]; ok {
		metrics.IncErrorCount(metrics.ComponentRegistry, "registry")

		return nil, fperr.Newf(fperr.General, "device %s already exists", dev.ID())
	}

	r.log.Infof("Added device %s (driver %s)", dev.ID(), driverID)
	r.devices[dev.ID()] = dev

	return dev, nil
}

// RemoveDevice marks the device removed and drops it from the registry.
// The device keeps honoring its in-flight action; the removal result
// surfaces through the device itself.
func (r *Registry) RemoveDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("no device %s", id)
	}

	r.log.Infof("Removing device %s", id)
	delete(r.devices, id)
	dev.Remove()

	return nil
}

// Device looks up a tracked device by ID.
func (r *Registry) Device(id string) (*device.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("no device %s", id)
	}

	return dev, nil
}

// Devices returns all tracked devices sorted by ID.
func (r *Registry) Devices() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devs := make([]*device.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devs = append(devs, dev)
	}

	sort.Slice(devs, func(i, j int) bool {
		return devs[i].ID() < devs[j].ID()
	})

	return devs
}
