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

// Package ssm implements the sequential state machine engine driver
// protocols are built from.
//
// A Machine is a dense run of states [0, N) plus an optional tail of cleanup
// states. The handler is invoked once per entered state and requests the
// next transition explicitly; the machine never advances on its own.
// Machines nest: a parent suspends while a child runs and resumes (or fails)
// exactly once when the child finishes.
//
// Transitions requested from inside the executing handler are deferred until
// the handler returns, so a state always runs to completion before the next
// one starts. Transitions requested from timer or I/O completions apply
// immediately.
package ssm

import (
	"time"

	"github.com/openbiometrics/fpcore/pkg/eventloop"
	"github.com/openbiometrics/fpcore/pkg/fperr"
	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/metrics"
	"go.uber.org/zap"
)

// Handler is invoked for every entered state. It must request exactly one
// transition (possibly delayed, possibly from a later I/O completion) before
// the machine can make progress again.
type Handler func(m *Machine)

// CompletionFunc fires exactly once when a started machine terminates.
// err is nil on success and the MarkFailed reason otherwise.
type CompletionFunc func(err error)

type opKind int

const (
	opNext opKind = iota
	opJump
	opComplete
)

type transition struct {
	kind  opKind
	state int
}

// Machine is a sequential state machine. All methods must be called on the
// event loop goroutine.
type Machine struct {
	loop *eventloop.Loop
	log  *zap.SugaredLogger
	name string

	handler      Handler
	numStates    int
	startCleanup int

	cur       int
	completed bool
	err       error

	completion CompletionFunc
	parent     *Machine

	data        any
	dataDestroy func()

	timeout *eventloop.Timeout

	inHandler bool
	pending   *transition

	silence bool
}

// New allocates a machine with numStates states and no cleanup tail.
// The machine starts executing only once Start is called.
func New(loop *eventloop.Loop, name string, handler Handler, numStates int) *Machine {
	return NewFull(loop, name, handler, numStates, numStates)
}

// NewFull allocates a machine whose states [startCleanup, numStates) form a
// cleanup tail: they run even when the machine is marked completed or failed
// early, so drivers can release hardware resources on every exit path.
func NewFull(loop *eventloop.Loop, name string, handler Handler, numStates, startCleanup int) *Machine {
	log := logger.For(logger.ComponentSSM)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if loop == nil || handler == nil || numStates < 1 || startCleanup < 1 || startCleanup > numStates {
		log.Errorf("BUG: invalid machine construction %q (states=%d cleanup=%d)",
			name, numStates, startCleanup)
	}

	return &Machine{
		loop:         loop,
		log:          log,
		name:         name,
		handler:      handler,
		numStates:    numStates,
		startCleanup: startCleanup,
		completed:    true,
	}
}

// Name returns the machine's debug name.
func (m *Machine) Name() string {
	return m.name
}

// CurrentState is valid at any time, including from the completion callback.
func (m *Machine) CurrentState() int {
	return m.cur
}

// Err returns the failure reason set by MarkFailed, or nil.
func (m *Machine) Err() error {
	return m.err
}

// SetData attaches opaque per-run data, destroying any existing data first.
// destroy (if non-nil) runs exactly once, after the completion callback.
func (m *Machine) SetData(data any, destroy func()) {
	if m.dataDestroy != nil {
		m.dataDestroy()
	}

	m.data = data
	m.dataDestroy = destroy
}

// Data returns the value set with SetData.
func (m *Machine) Data() any {
	return m.data
}

// SilenceDebug suppresses the per-state debug log for chatty polling
// machines. Terminal transitions are still logged.
func (m *Machine) SilenceDebug() {
	m.silence = true
}

// Start runs the machine from state 0. completion fires exactly once, on
// success or on failure after any cleanup states ran. A completed machine
// may be restarted.
func (m *Machine) Start(completion CompletionFunc) {
	if !m.completed {
		m.log.Errorf("BUG: machine %q started while already running", m.name)

		return
	}

	m.completion = completion
	m.cur = 0
	m.completed = false
	m.err = nil
	m.drive(m.runHandler(true))
}

// StartSubMachine starts child nested under parent. The parent makes no
// progress while the child runs; child success advances the parent to its
// next state, child failure fails the parent with the same reason.
func (m *Machine) StartSubMachine(child *Machine) {
	if m.timeout != nil {
		m.log.Errorf("BUG: machine %q starting child with delayed transition pending", m.name)
	}

	m.clearDelayed()
	child.clearDelayed()
	child.parent = m

	child.Start(func(err error) {
		if err != nil {
			m.MarkFailed(err)
		} else {
			m.NextState()
		}
	})
}

// NextState advances to the following state, terminating the machine if the
// current state is the last one.
func (m *Machine) NextState() {
	if m.guardTransition("next_state") {
		return
	}

	m.stealDelayed("next_state")
	m.request(&transition{kind: opNext})
}

// JumpToState enters state directly, bypassing intermediate states. Jumping
// to the state count terminates the machine.
func (m *Machine) JumpToState(state int) {
	if m.guardTransition("jump_to_state") {
		return
	}

	if state < 0 || state > m.numStates {
		m.log.Errorf("BUG: machine %q jump to out-of-range state %d", m.name, state)

		return
	}

	m.stealDelayed("jump_to_state")
	m.request(&transition{kind: opJump, state: state})
}

// MarkCompleted terminates the machine successfully. Cleanup states, if any
// remain, still run first.
func (m *Machine) MarkCompleted() {
	if m.guardTransition("mark_completed") {
		return
	}

	m.stealDelayed("mark_completed")
	m.request(&transition{kind: opComplete})
}

// MarkFailed terminates the machine with err. If the machine has cleanup
// states and is not yet in them, they run before the completion callback.
// During cleanup a second failure is tolerated; the first error wins.
func (m *Machine) MarkFailed(err error) {
	if m.completed {
		m.log.Warnf("Machine %q ignoring mark_failed after completion", m.name)

		return
	}

	if err == nil {
		m.log.Warnf("Machine %q failed without an error, synthesizing a general error", m.name)

		err = fperr.New(fperr.General)
	}

	if m.err != nil && m.cur < m.startCleanup {
		m.log.Warnf("Machine %q already has an error set, ignoring new error: %v", m.name, err)

		return
	}

	inCleanup := ""
	if m.cur >= m.startCleanup {
		inCleanup = " (cleanup)"
	}

	m.log.Debugf("Machine %q failed in state %d%s with error: %v", m.name, m.cur, inCleanup, err)
	metrics.IncErrorCount(metrics.ComponentSSM, m.name)

	if m.err == nil {
		m.err = err
	}

	// Failure legitimately interrupts a pending delayed transition, so no
	// bug report here, unlike the explicit transition methods.
	m.clearDelayed()
	m.request(&transition{kind: opComplete})
}

// NextStateDelayed schedules NextState after delay. At most one delayed
// transition may be pending per machine.
func (m *Machine) NextStateDelayed(delay time.Duration) {
	m.setDelayed(delay, func() {
		m.NextState()
	})
}

// JumpToStateDelayed schedules JumpToState(state) after delay.
func (m *Machine) JumpToStateDelayed(state int, delay time.Duration) {
	m.setDelayed(delay, func() {
		m.JumpToState(state)
	})
}

// MarkCompletedDelayed schedules MarkCompleted after delay.
func (m *Machine) MarkCompletedDelayed(delay time.Duration) {
	m.setDelayed(delay, func() {
		m.MarkCompleted()
	})
}

// CancelDelayedTransition drops the pending delayed transition. Calling it
// with none pending is a driver bug.
func (m *Machine) CancelDelayedTransition() {
	if m.completed {
		m.log.Errorf("BUG: machine %q cancelling delayed transition after completion", m.name)

		return
	}

	if m.timeout == nil {
		m.log.Errorf("BUG: machine %q has no delayed transition to cancel", m.name)

		return
	}

	m.log.Debugf("Machine %q cancelled delayed state change", m.name)
	m.clearDelayed()
}

func (m *Machine) guardTransition(op string) bool {
	if m.completed {
		m.log.Warnf("Machine %q ignoring %s after completion", m.name, op)

		return true
	}

	return false
}

func (m *Machine) setDelayed(delay time.Duration, fn func()) {
	if m.completed {
		m.log.Errorf("BUG: machine %q scheduling delayed transition after completion", m.name)

		return
	}

	if m.timeout != nil {
		m.log.Errorf("BUG: machine %q already has a delayed transition pending", m.name)
	}

	m.clearDelayed()

	m.timeout = m.loop.AddTimeout(delay, func() {
		m.timeout = nil
		fn()
	})
}

func (m *Machine) clearDelayed() {
	if m.timeout != nil {
		m.timeout.Cancel()
		m.timeout = nil
	}
}

// stealDelayed drops a pending delayed transition so an explicit one can
// take over. A driver requesting a transition while one is already scheduled
// has lost track of its own state, so this is reported as a bug.
func (m *Machine) stealDelayed(op string) {
	if m.timeout == nil {
		return
	}

	m.log.Errorf("BUG: machine %q %s overrides a pending delayed transition", m.name, op)
	m.clearDelayed()
}

// request either defers the transition (handler currently executing) or
// applies it right away (timer or I/O completion context).
func (m *Machine) request(t *transition) {
	if m.inHandler {
		if m.pending != nil {
			m.log.Warnf("Machine %q replacing pending transition requested earlier in the same state", m.name)
		}

		m.pending = t

		return
	}

	m.drive(t)
}

// drive applies transitions until the machine blocks (handler returned
// without requesting one) or terminates.
func (m *Machine) drive(t *transition) {
	for t != nil {
		switch t.kind {
		case opNext:
			m.cur++
			if m.cur == m.numStates {
				t = &transition{kind: opComplete}

				continue
			}

			t = m.runHandler(false)

		case opJump:
			m.cur = t.state
			if m.cur == m.numStates {
				t = &transition{kind: opComplete}

				continue
			}

			t = m.runHandler(false)

		case opComplete:
			// Completing before the cleanup tail enters it; completing
			// inside it advances one step.
			next := m.cur + 1
			if m.cur < m.startCleanup {
				next = m.startCleanup
			}

			if next < m.numStates {
				m.cur = next
				t = m.runHandler(true)

				continue
			}

			m.finish()

			return
		}
	}
}

// runHandler executes the handler for the current state and returns the
// transition it requested, if any.
func (m *Machine) runHandler(force bool) *transition {
	if force || !m.silence {
		m.log.Debugf("Machine %q entering state %d", m.name, m.cur)
	}

	m.inHandler = true
	m.pending = nil
	m.handler(m)
	m.inHandler = false

	t := m.pending
	m.pending = nil

	return t
}

func (m *Machine) finish() {
	m.completed = true
	m.clearDelayed()

	if m.err != nil {
		m.log.Debugf("Machine %q completed with error: %v", m.name, m.err)
	} else {
		m.log.Debugf("Machine %q completed successfully", m.name)
	}

	if m.completion != nil {
		m.completion(m.err)
	}

	if m.dataDestroy != nil {
		destroy := m.dataDestroy
		m.dataDestroy = nil
		m.data = nil
		destroy()
	}
}
