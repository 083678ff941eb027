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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openbiometrics/fpcore/pkg/config"
	"github.com/openbiometrics/fpcore/pkg/constants"
)

var _ = Describe("Config", func() {
	envVars := []string{
		"FPCORE_METRICS_ADDR",
		"FPCORE_SHUTDOWN_TIMEOUT",
		"FPCORE_VIRTUAL_DRIVER",
		"FPCORE_EXTERNAL_DRIVER_DIR",
		"FPCORE_EXTERNAL_DRIVERS",
	}

	BeforeEach(func() {
		for _, key := range envVars {
			Expect(os.Unsetenv(key)).To(Succeed())
		}
	})

	AfterEach(func() {
		for _, key := range envVars {
			Expect(os.Unsetenv(key)).To(Succeed())
		}
	})

	writeConfig := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "fpcore.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

		return path
	}

	It("uses defaults when no file and no environment are present", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.MetricsAddr).To(Equal(constants.DefaultMetricsAddr))
		Expect(cfg.ShutdownTimeout).To(Equal(constants.DefaultShutdownTimeout))
		Expect(cfg.Drivers.Virtual).To(BeTrue())
		Expect(cfg.Drivers.ExternalEnabled).To(BeFalse())
	})

	It("treats a missing file as defaults", func() {
		cfg, err := config.Load(filepath.Join(GinkgoT().TempDir(), "nope.yaml"))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.MetricsAddr).To(Equal(constants.DefaultMetricsAddr))
	})

	It("reads the YAML file", func() {
		path := writeConfig(`
metricsAddr: "127.0.0.1:9200"
shutdownTimeout: 3s
drivers:
  virtual: false
  externalDir: /opt/fpcore/drivers
  externalEnabled: true
`)

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.MetricsAddr).To(Equal("127.0.0.1:9200"))
		Expect(cfg.ShutdownTimeout).To(Equal(3 * time.Second))
		Expect(cfg.Drivers.Virtual).To(BeFalse())
		Expect(cfg.Drivers.ExternalDir).To(Equal("/opt/fpcore/drivers"))
		Expect(cfg.Drivers.ExternalEnabled).To(BeTrue())
	})

	It("rejects a malformed file", func() {
		path := writeConfig("metricsAddr: [not: a: string")

		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("lets the environment override the file", func() {
		path := writeConfig(`
metricsAddr: "127.0.0.1:9200"
drivers:
  virtual: true
`)

		Expect(os.Setenv("FPCORE_METRICS_ADDR", ":9300")).To(Succeed())
		Expect(os.Setenv("FPCORE_SHUTDOWN_TIMEOUT", "250ms")).To(Succeed())
		Expect(os.Setenv("FPCORE_VIRTUAL_DRIVER", "off")).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.MetricsAddr).To(Equal(":9300"))
		Expect(cfg.ShutdownTimeout).To(Equal(250 * time.Millisecond))
		Expect(cfg.Drivers.Virtual).To(BeFalse())
	})

	It("keeps the previous value on an unparsable environment override", func() {
		Expect(os.Setenv("FPCORE_SHUTDOWN_TIMEOUT", "soon")).To(Succeed())

		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.ShutdownTimeout).To(Equal(constants.DefaultShutdownTimeout))
	})
})
