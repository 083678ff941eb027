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

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Lifecycle states. Removal is deliberately not a lifecycle state: a removed
// device can still be open and must still be closable.
const (
	LifecycleStateClosed  = "closed"
	LifecycleStateOpening = "opening"
	LifecycleStateOpen    = "open"
	LifecycleStateClosing = "closing"
)

const (
	lifecycleEventOpening  = "opening"
	lifecycleEventOpened   = "opened"
	lifecycleEventOpenFail = "open_fail"
	lifecycleEventClosing  = "closing"
	lifecycleEventClosed   = "closed"
)

// lifecycle wraps the open/close state machine gating NOT_OPEN and
// ALREADY_OPEN. All methods run on the event loop goroutine.
type lifecycle struct {
	fsm *fsm.FSM
	log *zap.SugaredLogger
	id  string
}

func newLifecycle(id string, log *zap.SugaredLogger) *lifecycle {
	l := &lifecycle{
		log: log,
		id:  id,
	}

	l.fsm = fsm.NewFSM(
		LifecycleStateClosed,
		fsm.Events{
			{Name: lifecycleEventOpening, Src: []string{LifecycleStateClosed}, Dst: LifecycleStateOpening},
			{Name: lifecycleEventOpened, Src: []string{LifecycleStateOpening}, Dst: LifecycleStateOpen},
			{Name: lifecycleEventOpenFail, Src: []string{LifecycleStateOpening}, Dst: LifecycleStateClosed},
			{Name: lifecycleEventClosing, Src: []string{LifecycleStateOpen}, Dst: LifecycleStateClosing},
			// Close completion always lands in closed, error or not.
			// Drivers are expected to try hard to close the device.
			{Name: lifecycleEventClosed, Src: []string{LifecycleStateClosing}, Dst: LifecycleStateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.log.Debugf("Device %s lifecycle: %s -> %s", l.id, e.Src, e.Dst)
			},
		},
	)

	return l
}

func (l *lifecycle) current() string {
	return l.fsm.Current()
}

func (l *lifecycle) isOpen() bool {
	return l.fsm.Current() == LifecycleStateOpen
}

func (l *lifecycle) isClosed() bool {
	return l.fsm.Current() == LifecycleStateClosed
}

// event fires a lifecycle transition. Invalid transitions are framework
// bugs; they are logged and the state is left unchanged.
func (l *lifecycle) event(name string) {
	if err := l.fsm.Event(context.Background(), name); err != nil {
		l.log.Errorf("BUG: device %s lifecycle event %q failed in state %s: %v",
			l.id, name, l.fsm.Current(), err)
	}
}
