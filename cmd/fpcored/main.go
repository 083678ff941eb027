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

// fpcored is the fingerprint framework daemon: it runs the event loop,
// registers the configured drivers and serves health, metrics and a small
// device inventory over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openbiometrics/fpcore/pkg/config"
	"github.com/openbiometrics/fpcore/pkg/drivers/virtual"
	"github.com/openbiometrics/fpcore/pkg/eventloop"
	"github.com/openbiometrics/fpcore/pkg/logger"
	"github.com/openbiometrics/fpcore/pkg/registry"
	"github.com/openbiometrics/fpcore/pkg/sentry"
	"github.com/openbiometrics/fpcore/pkg/version"
	"github.com/openbiometrics/fpcore/pkg/watchdog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Initialize()
	sentry.InitSentry(version.GetAppVersion())

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting fpcored %s...", version.GetAppVersion())

	configPath := flag.String("config", os.Getenv("FPCORE_CONFIG"), "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := eventloop.New()
	reg := registry.New(loop)

	if cfg.Drivers.Virtual {
		drv := virtual.New(loop, virtual.Config{})
		if err := reg.RegisterDriver(drv); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to register virtual driver: %v", err)
			os.Exit(1)
		}

		if _, err := reg.AddDevice(virtual.DriverID, nil); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create virtual device: %v", err)
			os.Exit(1)
		}
	}

	if cfg.Drivers.ExternalEnabled {
		// External driver loading needs a plugin ABI before it can land.
		log.Warnf("External drivers are enabled (%s) but not supported by this build",
			cfg.Drivers.ExternalDir)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	dog := watchdog.New(loop, 5*time.Second)

	g.Go(func() error {
		<-gctx.Done()
		dog.Stop()

		return nil
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newRouter(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Infof("Serving metrics and device inventory on %s", cfg.MetricsAddr)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "fpcored terminated: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}

	log.Info("fpcored stopped")
	_ = logger.Sync()
}

type deviceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Features uint32 `json:"features"`
	Stages   int    `json:"enrollStages"`
}

func newRouter(reg *registry.Registry) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.GetAppVersion()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/v1/drivers", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Drivers())
	})

	r.GET("/v1/devices", func(c *gin.Context) {
		devs := reg.Devices()
		infos := make([]deviceInfo, 0, len(devs))

		for _, dev := range devs {
			infos = append(infos, deviceInfo{
				ID:       dev.ID(),
				Name:     dev.Name(),
				Driver:   dev.DriverID(),
				Features: uint32(dev.Features()),
				Stages:   dev.EnrollStages(),
			})
		}

		c.JSON(http.StatusOK, infos)
	})

	r.DELETE("/v1/devices/:id", func(c *gin.Context) {
		if err := reg.RemoveDevice(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

			return
		}

		c.Status(http.StatusNoContent)
	})

	return r
}
