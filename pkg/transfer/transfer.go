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

// Package transfer defines the I/O completion contract between transports
// and the state machine engine. The engine knows nothing about wire formats;
// it only requires that a finished transfer invokes its callback once, on
// the event loop, with either data or an ordinary error. Short reads and
// transport-level cancellation are errors like any other.
package transfer

import (
	"context"
	"time"

	"github.com/openbiometrics/fpcore/pkg/eventloop"
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/ssm"
	"go.uber.org/zap"
)

// Transfer is one I/O exchange owned by a state machine.
type Transfer struct {
	// Machine is the state machine this transfer resumes on completion.
	Machine *ssm.Machine

	// Out is the request payload handed to the transport.
	Out []byte

	// In receives the response payload. Only valid in the callback when
	// err is nil.
	In []byte

	// ShortIsError makes a response shorter than Out fail the transfer
	// with a protocol error instead of delivering the partial data.
	ShortIsError bool

	// UserData is carried through to the callback untouched.
	UserData any
}

// Callback receives the finished transfer. It runs on the event loop and is
// expected to drive engine transitions.
type Callback func(t *Transfer, err error)

// Transport submits transfers. Implementations must invoke cb exactly once
// on the event loop goroutine. Cancelling ctx surfaces as an error through
// cb, never as a dropped callback.
type Transport interface {
	Submit(ctx context.Context, t *Transfer, cb Callback)
}

// StepMachine is the common callback for protocol steps with no response
// processing: advance the owning machine on success, fail it otherwise.
func StepMachine(t *Transfer, err error) {
	if err != nil {
		t.Machine.MarkFailed(err)

		return
	}

	t.Machine.NextState()
}

// Loopback is an in-process transport that echoes the request payload back
// after an optional delay. The virtual driver and the engine tests run on
// it. Fault injection is one-shot: it applies to the next submit only.
type Loopback struct {
	loop *eventloop.Loop
	log  *zap.SugaredLogger

	// Delay postpones completion of every transfer.
	Delay time.Duration

	failNext  error
	shortNext int
}

// NewLoopback creates a loopback transport completing on loop.
func NewLoopback(loop *eventloop.Loop) *Loopback {
	log := logger.For(logger.ComponentTransfer)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Loopback{
		loop:      loop,
		log:       log,
		shortNext: -1,
	}
}

// FailNext makes the next submitted transfer complete with err.
func (lb *Loopback) FailNext(err error) {
	lb.failNext = err
}

// TruncateNext makes the next submitted transfer return only n response
// bytes.
func (lb *Loopback) TruncateNext(n int) {
	lb.shortNext = n
}

// Submit completes t on the loop with the echoed payload, the injected
// fault, or the context's cancellation cause.
func (lb *Loopback) Submit(ctx context.Context, t *Transfer, cb Callback) {
	injected := lb.failNext
	lb.failNext = nil

	short := lb.shortNext
	lb.shortNext = -1

	complete := func() {
		if err := context.Cause(ctx); err != nil {
			lb.log.Debugf("Transfer cancelled: %v", err)
			cb(t, err)

			return
		}

		if injected != nil {
			cb(t, injected)

			return
		}

		in := t.Out
		if short >= 0 && short < len(in) {
			in = in[:short]
		}

		if t.ShortIsError && len(in) < len(t.Out) {
			cb(t, fperr.Newf(fperr.Proto, "short transfer: %d of %d bytes", len(in), len(t.Out)))

			return
		}

		t.In = in
		cb(t, nil)
	}

	if lb.Delay > 0 {
		lb.loop.AddTimeout(lb.Delay, complete)

		return
	}

	lb.loop.Post(complete)
}
