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

package fperr

import (
	"errors"
	"fmt"
)

// RetryCode enumerates non-fatal scan outcomes. They ask the user to try the
// scan again and do not end the ongoing action.
type RetryCode int

const (
	// RetryGeneral asks for another attempt without a specific reason.
	RetryGeneral RetryCode = iota
	// RetryTooShort means the swipe was too short.
	RetryTooShort
	// RetryCenterFinger means the finger was not centered on the sensor.
	RetryCenterFinger
	// RetryRemoveFinger asks to remove the finger and try again.
	RetryRemoveFinger
)

func (c RetryCode) String() string {
	switch c {
	case RetryGeneral:
		return "RETRY_GENERAL"
	case RetryTooShort:
		return "RETRY_TOO_SHORT"
	case RetryCenterFinger:
		return "RETRY_CENTER_FINGER"
	case RetryRemoveFinger:
		return "RETRY_REMOVE_FINGER"
	default:
		return fmt.Sprintf("RetryCode(%d)", int(c))
	}
}

func defaultRetryMessage(c RetryCode) string {
	switch c {
	case RetryTooShort:
		return "the swipe was too short, please try again"
	case RetryCenterFinger:
		return "the finger was not centered properly, please try again"
	case RetryRemoveFinger:
		return "please try again after removing the finger first"
	default:
		return "please try again"
	}
}

// RetryError is a retry-domain error carrying one of the RetryCode values.
type RetryError struct {
	Code RetryCode
	msg  string
}

func (e *RetryError) Error() string {
	return e.msg
}

// Retry creates a retry error with the canonical message for code.
// Unknown codes are mapped to RetryGeneral.
func Retry(code RetryCode) error {
	if code < RetryGeneral || code > RetryRemoveFinger {
		code = RetryGeneral
	}

	return &RetryError{Code: code, msg: defaultRetryMessage(code)}
}

// Retryf creates a retry error with a custom message.
func Retryf(code RetryCode, format string, args ...any) error {
	if code < RetryGeneral || code > RetryRemoveFinger {
		code = RetryGeneral
	}

	return &RetryError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// IsRetry reports whether err belongs to the retry domain.
func IsRetry(err error) bool {
	var re *RetryError

	return errors.As(err, &re)
}
