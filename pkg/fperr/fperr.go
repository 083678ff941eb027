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

// Package fperr defines the two error domains of the framework: hard device
// errors, which always terminate the current action, and retry errors, which
// are only legal as the argument to a verify/identify report and never to a
// completion call.
package fperr

import (
	"errors"
	"fmt"
)

// Code enumerates hard device errors.
type Code int

const (
	// General is an unspecified device failure.
	General Code = iota
	// NotSupported means the operation is not implemented by the driver.
	NotSupported
	// NotOpen means the device needs to be opened first.
	NotOpen
	// AlreadyOpen means the device has already been opened.
	AlreadyOpen
	// Busy means the device is still busy with another operation.
	Busy
	// Proto means the driver hit a protocol error talking to the device.
	Proto
	// DataInvalid means passed (print) data is not valid.
	DataInvalid
	// DataFull means on-device storage space is full.
	DataFull
	// DataNotFound means the print was not found in device storage.
	DataNotFound
	// DataDuplicate means the finger has already been enrolled.
	DataDuplicate
	// Removed means the device has been removed from the system.
	Removed
	// TooHot means the device was disabled to prevent overheating.
	TooHot
)

func (c Code) String() string {
	switch c {
	case General:
		return "GENERAL"
	case NotSupported:
		return "NOT_SUPPORTED"
	case NotOpen:
		return "NOT_OPEN"
	case AlreadyOpen:
		return "ALREADY_OPEN"
	case Busy:
		return "BUSY"
	case Proto:
		return "PROTO"
	case DataInvalid:
		return "DATA_INVALID"
	case DataFull:
		return "DATA_FULL"
	case DataNotFound:
		return "DATA_NOT_FOUND"
	case DataDuplicate:
		return "DATA_DUPLICATE"
	case Removed:
		return "REMOVED"
	case TooHot:
		return "TOO_HOT"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

func defaultMessage(c Code) string {
	switch c {
	case General:
		return "an unspecified error occurred"
	case NotSupported:
		return "the operation is not supported on this device"
	case NotOpen:
		return "the device needs to be opened first"
	case AlreadyOpen:
		return "the device has already been opened"
	case Busy:
		return "the device is still busy with another operation, please try again later"
	case Proto:
		return "the driver encountered a protocol error with the device"
	case DataInvalid:
		return "passed (print) data is not valid"
	case DataFull:
		return "on device storage space is full"
	case DataNotFound:
		return "print was not found on the devices storage"
	case DataDuplicate:
		return "this finger has already been enrolled, please try a different finger"
	case Removed:
		return "this device has been removed from the system"
	case TooHot:
		return "device disabled to prevent overheating"
	default:
		return "an unspecified error occurred"
	}
}

// DeviceError is a hard error carrying one of the Code values.
type DeviceError struct {
	Code Code
	msg  string
}

func (e *DeviceError) Error() string {
	return e.msg
}

// New creates a hard device error with the canonical message for code.
// Unknown codes are mapped to General.
func New(code Code) error {
	if code < General || code > TooHot {
		code = General
	}

	return &DeviceError{Code: code, msg: defaultMessage(code)}
}

// Newf creates a hard device error with a custom message.
func Newf(code Code, format string, args ...any) error {
	if code < General || code > TooHot {
		code = General
	}

	return &DeviceError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the hard error code, if err carries one.
func CodeOf(err error) (Code, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code, true
	}

	return General, false
}

// IsCode reports whether err is a hard device error with the given code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)

	return ok && c == code
}
