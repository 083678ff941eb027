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

// Package eventloop implements the single-threaded cooperative scheduler the
// device framework runs on.
//
// All framework and driver state is owned by one loop goroutine. Work enters
// the loop three ways:
//   - Post: immediate tasks, run in submission order
//   - PostIdle: deferred tasks, one drained per iteration and only when no
//     immediate task is pending
//   - AddTimeout: delayed tasks, re-posted into the loop when they fire
//
// Because every task runs on the same goroutine, framework code never takes
// locks for loop-owned state. The ordering guarantee tasks rely on is simple:
// a task observes every effect of all tasks that ran before it.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/metrics"
	"go.uber.org/zap"
)

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Loop is a single-goroutine task executor with an idle queue and timers.
type Loop struct {
	log *zap.SugaredLogger

	taskMu     sync.Mutex
	tasks      []Task
	taskSignal chan struct{}

	idleMu     sync.Mutex
	idle       []Task
	idleSignal chan struct{}

	stopped atomic.Bool
	done    chan struct{}
}

// New creates a loop. Run must be called before posted tasks execute.
func New() *Loop {
	log := logger.For(logger.ComponentEventLoop)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	metrics.InitErrorCounter(metrics.ComponentEventLoop, "main")

	return &Loop{
		log:        log,
		taskSignal: make(chan struct{}, 1),
		idleSignal: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Post queues fn for immediate execution. Safe from any goroutine, including
// the loop goroutine itself: the queue is unbounded, so a task posting more
// tasks never blocks the loop. Posting to a stopped loop drops the task.
func (l *Loop) Post(fn Task) {
	if fn == nil {
		return
	}

	if l.stopped.Load() {
		l.log.Debugw("Dropping task posted after loop stop")

		return
	}

	l.taskMu.Lock()
	l.tasks = append(l.tasks, fn)
	l.taskMu.Unlock()

	select {
	case l.taskSignal <- struct{}{}:
	default:
	}
}

// PostIdle queues fn on the idle queue. Idle tasks run strictly after all
// currently pending immediate tasks, and at most one idle task runs per loop
// iteration. This is what "on a later loop turn" means throughout the
// framework.
func (l *Loop) PostIdle(fn Task) {
	if fn == nil {
		return
	}

	l.idleMu.Lock()
	l.idle = append(l.idle, fn)
	l.idleMu.Unlock()

	select {
	case l.idleSignal <- struct{}{}:
	default:
	}
}

func (l *Loop) popTask() Task {
	l.taskMu.Lock()
	defer l.taskMu.Unlock()

	if len(l.tasks) == 0 {
		return nil
	}

	fn := l.tasks[0]
	l.tasks = l.tasks[1:]

	return fn
}

func (l *Loop) popIdle() Task {
	l.idleMu.Lock()
	defer l.idleMu.Unlock()

	if len(l.idle) == 0 {
		return nil
	}

	fn := l.idle[0]
	l.idle = l.idle[1:]

	return fn
}

// Run executes tasks until ctx is cancelled. It returns nil on clean
// shutdown. Pending tasks at cancellation time are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	defer l.stopped.Store(true)

	l.log.Info("Event loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Event loop stopped")

			return nil
		default:
		}

		// Immediate tasks first.
		if fn := l.popTask(); fn != nil {
			l.runTask(fn, "task")

			continue
		}

		// No immediate work pending, drain one idle task.
		if fn := l.popIdle(); fn != nil {
			l.runTask(fn, "idle")

			continue
		}

		// Nothing at all to do, block until something arrives.
		select {
		case <-ctx.Done():
			l.log.Info("Event loop stopped")

			return nil
		case <-l.taskSignal:
		case <-l.idleSignal:
		}
	}
}

func (l *Loop) runTask(fn Task, queue string) {
	metrics.IncLoopTask(queue)
	fn()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timeout is a pending delayed task. Cancel is safe from the loop goroutine
// at any point, including after the timer fired but before the task ran.
type Timeout struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// AddTimeout schedules fn to run on the loop after d. The returned Timeout
// stays valid after firing; cancelling it then is a no-op.
func (l *Loop) AddTimeout(d time.Duration, fn Task) *Timeout {
	t := &Timeout{}

	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled.Load() {
				return
			}

			fn()
		})
	})

	return t
}

// Cancel stops the timeout. A task already executing is not interrupted.
func (t *Timeout) Cancel() {
	t.cancelled.Store(true)
	t.timer.Stop()
}
