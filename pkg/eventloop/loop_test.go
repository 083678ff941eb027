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

package eventloop_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openbiometrics/fpcore/pkg/eventloop"
)

var _ = Describe("Loop", func() {
	var (
		loop   *eventloop.Loop
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		loop = eventloop.New()

		go func() {
			defer GinkgoRecover()
			Expect(loop.Run(ctx)).To(Succeed())
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(loop.Done()).Should(BeClosed())
	})

	It("runs posted tasks in submission order", func() {
		results := make(chan int, 3)

		loop.Post(func() { results <- 1 })
		loop.Post(func() { results <- 2 })
		loop.Post(func() { results <- 3 })

		Eventually(results).Should(Receive(Equal(1)))
		Eventually(results).Should(Receive(Equal(2)))
		Eventually(results).Should(Receive(Equal(3)))
	})

	It("runs idle tasks strictly after pending immediate tasks", func() {
		results := make(chan string, 4)

		loop.Post(func() {
			loop.PostIdle(func() { results <- "idle" })
			loop.Post(func() { results <- "second" })
			loop.Post(func() { results <- "third" })
			results <- "first"
		})

		Eventually(results).Should(Receive(Equal("first")))
		Eventually(results).Should(Receive(Equal("second")))
		Eventually(results).Should(Receive(Equal("third")))
		Eventually(results).Should(Receive(Equal("idle")))
	})

	It("lets an immediate task posted by an idle task overtake the next idle task", func() {
		results := make(chan string, 3)

		loop.Post(func() {
			loop.PostIdle(func() {
				loop.Post(func() { results <- "task" })
				results <- "idle1"
			})
			loop.PostIdle(func() { results <- "idle2" })
		})

		Eventually(results).Should(Receive(Equal("idle1")))
		Eventually(results).Should(Receive(Equal("task")))
		Eventually(results).Should(Receive(Equal("idle2")))
	})

	It("absorbs a large burst posted from a loop task without blocking", func() {
		const burst = 4096

		var ran int32

		done := make(chan struct{})

		loop.Post(func() {
			// Posting from the loop goroutine itself must never block,
			// no matter how many tasks are already queued.
			for i := 0; i < burst; i++ {
				loop.Post(func() { atomic.AddInt32(&ran, 1) })
			}

			loop.Post(func() { close(done) })
		})

		Eventually(done).Should(BeClosed())
		Expect(atomic.LoadInt32(&ran)).To(Equal(int32(burst)))
	})

	It("fires timeouts on the loop goroutine", func() {
		fired := make(chan struct{})

		loop.Post(func() {
			loop.AddTimeout(10*time.Millisecond, func() {
				close(fired)
			})
		})

		Eventually(fired).Should(BeClosed())
	})

	It("does not run a cancelled timeout", func() {
		fired := make(chan struct{}, 1)
		done := make(chan struct{})

		loop.Post(func() {
			t := loop.AddTimeout(10*time.Millisecond, func() {
				fired <- struct{}{}
			})
			t.Cancel()

			loop.AddTimeout(50*time.Millisecond, func() {
				close(done)
			})
		})

		Eventually(done).Should(BeClosed())
		Consistently(fired).ShouldNot(Receive())
	})

	It("drops tasks posted after shutdown", func() {
		cancel()
		Eventually(loop.Done()).Should(BeClosed())

		ran := make(chan struct{}, 1)
		loop.Post(func() { ran <- struct{}{} })

		Consistently(ran).ShouldNot(Receive())
	})
})
