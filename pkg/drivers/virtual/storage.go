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

package virtual

import (
	"github.com/openbiometrics/fpcore/pkg/device"
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/print"
	"github.com/openbiometrics/fpcore/pkg/transfer"
	"github.com/tiendc/go-deepcopy"
)

// On-sensor storage. Each operation does one loopback exchange so storage
// behaves like real hardware with respect to cancellation and transport
// faults.

// List implements device.Lister. Callers get deep copies; mutating a listed
// print never corrupts storage.
func (d *Driver) List(dev *device.Device) {
	s := d.session(dev)

	t := &transfer.Transfer{Out: []byte("LIST")}
	s.transport.Submit(dev.ActionContext(), t, func(_ *transfer.Transfer, err error) {
		if err != nil {
			dev.CompleteList(nil, err)

			return
		}

		out := make([]*print.Print, 0, len(s.storage))

		for _, stored := range s.storage {
			var copied print.Print
			if err := deepcopy.Copy(&copied, stored); err != nil {
				dev.CompleteList(nil, fperr.Newf(fperr.General, "listing prints: %v", err))

				return
			}

			out = append(out, &copied)
		}

		dev.CompleteList(out, nil)
	})
}

// Delete implements device.Deleter. Prints match by ID, falling back to
// template data for prints that were never listed.
func (d *Driver) Delete(dev *device.Device) {
	s := d.session(dev)

	t := &transfer.Transfer{Out: []byte("DEL")}
	s.transport.Submit(dev.ActionContext(), t, func(_ *transfer.Transfer, err error) {
		if err != nil {
			dev.CompleteDelete(err)

			return
		}

		target := dev.DeletePrint()

		for i, stored := range s.storage {
			if stored.ID != target.ID && !stored.EqualData(target) {
				continue
			}

			s.storage = append(s.storage[:i], s.storage[i+1:]...)
			dev.CompleteDelete(nil)

			return
		}

		dev.CompleteDelete(fperr.New(fperr.DataNotFound))
	})
}

// ClearStorage implements device.StorageClearer.
func (d *Driver) ClearStorage(dev *device.Device) {
	s := d.session(dev)

	t := &transfer.Transfer{Out: []byte("WIPE")}
	s.transport.Submit(dev.ActionContext(), t, func(_ *transfer.Transfer, err error) {
		if err != nil {
			dev.CompleteClearStorage(err)

			return
		}

		s.storage = nil
		dev.CompleteClearStorage(nil)
	})
}
