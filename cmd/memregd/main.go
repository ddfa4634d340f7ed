// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	pkgcfg "github.com/intel/memreg/pkg/config"
	"github.com/intel/memreg/pkg/hugemem"
	memhttp "github.com/intel/memreg/pkg/http"
	logger "github.com/intel/memreg/pkg/log"
	"github.com/intel/memreg/pkg/memreg"
	"github.com/intel/memreg/pkg/metrics"
	_ "github.com/intel/memreg/pkg/metrics/register"
	"github.com/intel/memreg/pkg/metricsring"
	"github.com/intel/memreg/pkg/pidfile"
	"github.com/intel/memreg/pkg/version"
)

const (
	shutdownTimeout = 5 * time.Second
	// statsSamples is the number of stats intervals averaged over.
	statsSamples = 12
)

var log = logger.Default()

func fail(format string, a ...interface{}) int {
	fmt.Fprintf(os.Stderr, "memregd: "+format+"\n", a...)
	return 1
}

func main() {
	status := run()
	logger.Flush()
	os.Exit(status)
}

func run() int {
	klog.InitFlags(nil)

	optConfig := flag.String("config", "", "-config=FILE load runtime configuration from FILE, reloaded on SIGHUP")
	optPrompt := flag.Bool("prompt", true, "-prompt=false run without the interactive prompt")
	optEcho := flag.Bool("echo", false, "-echo echo commands read by the prompt")
	optMetrics := flag.String("metrics", "", "-metrics=ADDR serve /metrics and /regions on ADDR")
	optHugemem := flag.String("hugemem", "", "-hugemem=SIZE allocate and register SIZE bytes of 2M aligned memory")
	optCmds := flag.String("c", "", "-c=CMD[;CMD...] run prompt commands and exit")
	optPidfile := flag.String("pidfile", "", "-pidfile=PATH refuse to start if another process owns PATH")
	optStats := flag.Duration("stats-interval", 0, "-stats-interval=DURATION log registry statistics periodically")
	optVersion := flag.Bool("version", false, "-version print version information and exit")

	flag.Parse()

	if *optVersion {
		fmt.Print(version.Info())
		return 0
	}

	if flag.NArg() != 0 {
		return fail("unknown command-line arguments: %s", strings.Join(flag.Args(), " "))
	}

	logger.SetupDebugToggleSignal(unix.SIGUSR1)

	if *optConfig != "" {
		if err := pkgcfg.DefaultConfig().ParseYAMLFile(*optConfig); err != nil {
			return fail("failed to load configuration: %v", err)
		}
	}

	if *optPidfile != "" {
		pf := pidfile.New(*optPidfile)
		if err := pf.Acquire(); err != nil {
			return fail("%v", err)
		}
		defer pf.Remove()
	}

	registry := memreg.Default()

	var buf *hugemem.Buffer
	if *optHugemem != "" {
		size, err := memreg.ParseBytes(*optHugemem)
		if err != nil {
			return fail("invalid -hugemem: %v", err)
		}
		if buf, err = hugemem.Alloc(size, hugemem.WithHugePages()); err != nil {
			return fail("%v", err)
		}
		if err := buf.Register(registry); err != nil {
			return fail("failed to register %s: %v", buf.Range(), err)
		}
		log.Info("registered %s", buf.Range())
	}

	srv := memhttp.NewServer()
	if *optMetrics != "" {
		if err := setupHTTP(srv, registry, *optMetrics); err != nil {
			return fail("%v", err)
		}
	}

	prompt := memreg.NewPrompt("memregd> ", bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout), registry)
	prompt.SetEcho(*optEcho)

	status := 0
	if *optCmds != "" {
		for _, cmd := range strings.Split(*optCmds, ";") {
			if prompt.RunCmdString(cmd).Failed() {
				status = 1
			}
		}
		prompt.Close()
	} else {
		serve(prompt, *optPrompt, *optConfig, *optStats)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown: %v", err)
	}
	if buf != nil {
		if err := buf.Free(); err != nil {
			log.Error("%v", err)
		}
	}
	if err := registry.Close(); err != nil {
		log.Error("%v", err)
	}

	return status
}

// serve runs until the prompt is closed or we get terminated.
func serve(prompt *memreg.Prompt, interactive bool, configFile string, statsInterval time.Duration) {
	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	// Interact can't be interrupted, so it is not part of the group.
	if interactive {
		go func() {
			prompt.Interact()
			cancel()
		}()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reloadOnHangup(ctx, configFile)
	})
	if statsInterval > 0 {
		g.Go(func() error {
			return logStats(ctx, memreg.Default(), statsInterval)
		})
	}

	<-ctx.Done()
	log.Info("shutting down...")

	if err := g.Wait(); err != nil {
		log.Error("%v", err)
	}
}

func setupHTTP(srv *memhttp.Server, registry *memreg.Registry, addr string) error {
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		return err
	}
	mux := srv.Mux()
	if err := mux.HandleMetrics(gatherer); err != nil {
		return err
	}
	if err := mux.HandleJSON("/regions", func() (interface{}, error) {
		return registry.Regions(), nil
	}); err != nil {
		return err
	}
	return srv.Start(addr)
}

func reloadOnHangup(ctx context.Context, configFile string) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			if configFile == "" {
				log.Warn("no configuration file to reload")
				continue
			}
			if err := pkgcfg.DefaultConfig().ParseYAMLFile(configFile); err != nil {
				log.Error("failed to reload configuration: %v", err)
				continue
			}
			log.Info("reloaded configuration from %s", configFile)
		}
	}
}

func logStats(ctx context.Context, registry *memreg.Registry, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stats := registry.Stats()
	registers := metricsring.New(statsSamples)
	last := stats.Calls("register")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			calls := stats.Calls("register")
			registers.Push(float64(calls - last))
			last = calls
			log.InfoBlock("  ", "%s", stats.Summarize())
			log.Info("register calls per %s: %.1f (average over %s)",
				interval, registers.Average(), registers.Span())
		}
	}
}
