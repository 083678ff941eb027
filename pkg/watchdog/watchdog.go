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

// Package watchdog monitors event loop health. A driver bug that blocks the
// loop goroutine stalls every device at once, so stalls are worth detecting
// early.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/openbiometrics/fpcore/pkg/eventloop"
	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/metrics"
	"github.com/openbiometrics/fpcore/pkg/sentry"
	"go.uber.org/zap"
)

// Watchdog posts heartbeat tasks onto the event loop and measures how long
// they take to run. A heartbeat older than the threshold means the loop is
// stalled: some task is hogging the goroutine instead of yielding.
//
// Detection runs on a background goroutine of its own, so it keeps working
// even when the loop is completely wedged.
type Watchdog struct {
	loop *eventloop.Loop
	log  *zap.SugaredLogger

	ctx    context.Context //nolint:containedctx // background service lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	threshold time.Duration

	mu       sync.RWMutex
	lastBeat time.Time
}

// New creates a watchdog for loop and starts monitoring immediately. The
// threshold should be several times the longest task the loop is expected to
// run. Stop the watchdog when the loop shuts down.
func New(loop *eventloop.Loop, threshold time.Duration) *Watchdog {
	log := logger.For(logger.ComponentWatchdog)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watchdog{
		loop:      loop,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		threshold: threshold,
		lastBeat:  time.Now(),
	}

	w.wg.Add(1)

	go w.watch()

	w.log.Infof("Watchdog started with threshold %s", threshold)

	return w
}

func (w *Watchdog) watch() {
	defer w.wg.Done()

	// Ticking faster than the threshold keeps detection latency below one
	// threshold period.
	ticker := time.NewTicker(w.threshold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.loop.Post(w.beat)

			sinceBeat := time.Since(w.LastBeat())
			if sinceBeat > w.threshold {
				metrics.AddLoopStallTime(sinceBeat.Seconds())
				sentry.ReportIssuef(sentry.IssueTypeWarning, w.log,
					"Event loop stall detected: %.2f seconds since last heartbeat", sinceBeat.Seconds())
			} else {
				w.log.Debugf("Event loop is healthy, last heartbeat %.2f seconds ago", sinceBeat.Seconds())
			}
		}
	}
}

// beat runs on the loop goroutine.
func (w *Watchdog) beat() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastBeat = time.Now()
}

// LastBeat returns when the loop last executed a heartbeat task.
func (w *Watchdog) LastBeat() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.lastBeat
}

// Stop terminates the background monitor. It does not wait for in-flight
// heartbeat tasks; those are harmless.
func (w *Watchdog) Stop() {
	w.cancel()
	w.wg.Wait()
	w.log.Info("Watchdog stopped")
}
