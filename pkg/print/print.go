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

// Package print holds the minimal print/template data model the framework
// passes between callers and drivers. Matching itself is a driver concern;
// the framework only moves prints around.
package print

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Finger identifies which finger a print belongs to.
type Finger int

const (
	FingerUnknown Finger = iota
	LeftThumb
	LeftIndex
	LeftMiddle
	LeftRing
	LeftLittle
	RightThumb
	RightIndex
	RightMiddle
	RightRing
	RightLittle
)

// Print is one enrolled template.
type Print struct {
	// ID uniquely identifies the print.
	ID string `json:"id"`

	// Driver and DeviceID record which device produced the print. A
	// print can only match on a device of the same driver.
	Driver   string `json:"driver"`
	DeviceID string `json:"deviceId"`

	// DeviceStored marks prints that live in the sensor's own storage
	// rather than in host-side data.
	DeviceStored bool `json:"deviceStored"`

	Finger      Finger    `json:"finger"`
	Username    string    `json:"username,omitempty"`
	Description string    `json:"description,omitempty"`
	EnrollDate  time.Time `json:"enrollDate"`

	// Data is the driver-specific template payload. Opaque to the
	// framework.
	Data []byte `json:"data,omitempty"`
}

// New creates an empty print with a fresh ID.
func New(driver, deviceID string) *Print {
	return &Print{
		ID:       uuid.NewString(),
		Driver:   driver,
		DeviceID: deviceID,
	}
}

// Compatible reports whether p can be used with a device of the given
// driver.
func (p *Print) Compatible(driver string) bool {
	return p.Driver == driver
}

// EqualData reports whether two prints carry the same template payload.
func (p *Print) EqualData(other *Print) bool {
	if p == nil || other == nil {
		return false
	}

	return bytes.Equal(p.Data, other.Data)
}

// Serialize encodes the print for storage.
func (p *Print) Serialize() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize print: %w", err)
	}

	return data, nil
}

// Deserialize decodes a print produced by Serialize.
func Deserialize(data []byte) (*Print, error) {
	var p Print

	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to deserialize print: %w", err)
	}

	return &p, nil
}
