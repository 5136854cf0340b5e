// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed as part of the schedcheck project.
// Copyright 2024-present the schedcheck authors.

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/fatih/color"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/schedcheck"
	"github.com/xingoxu/xorg-intel-gpu-tools-sub001/pkg/util/log"
)

// errContractViolated turns a failed report into exit code 1 without
// printing a second error line below the report.
var errContractViolated = errors.New("scheduling contract violations found")

type runParams struct {
	filter     []string
	exclude    []string
	jsonOut    bool
	verbose    bool
	output     string
	listen     string
	statsdAddr string
	rt         bool
}

func runCommand(global *globalParams) *cobra.Command {
	var params runParams
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scheduling contract scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, global, &params)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&params.filter, "filter", "f", nil, "only run scenarios matching these regexps")
	f.StringSliceVarP(&params.exclude, "exclude", "x", nil, "skip scenarios matching these regexps")
	f.BoolVar(&params.jsonOut, "json", false, "write the report as JSON")
	f.BoolVarP(&params.verbose, "verbose", "v", false, "show details for passing scenarios too")
	f.StringVarP(&params.output, "output", "o", "", "write the report to this file instead of stdout")
	f.StringVar(&params.listen, "listen", "", "serve /metrics and /debug/pprof on this address while running")
	f.StringVar(&params.statsdAddr, "statsd-addr", "", "emit per scenario metrics to this statsd address")
	f.BoolVar(&params.rt, "rt", false, "raise process scheduling priority for tighter latency bounds")
	return cmd
}

func runScenarios(cmd *cobra.Command, global *globalParams, params *runParams) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}
	defer log.Flush()

	if params.rt {
		if err := raisePriority(); err != nil {
			log.Warnf("cannot raise scheduling priority: %v", err) //nolint:errcheck
		}
	}

	scenarios, err := schedcheck.Filter(schedcheck.All(), params.filter, params.exclude)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios match the filter")
	}

	factory, err := deviceFactory(cfg)
	if err != nil {
		return err
	}

	var opts []schedcheck.RunnerOption
	if params.listen != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, schedcheck.WithRegisterer(reg))
		srv := startDebugServer(params.listen, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}
	if params.statsdAddr != "" {
		client, err := statsd.New(params.statsdAddr)
		if err != nil {
			return fmt.Errorf("cannot create statsd client: %w", err)
		}
		defer client.Close() //nolint:errcheck
		opts = append(opts, schedcheck.WithStatsd(client))
	}

	runner, err := schedcheck.NewRunner(cfg, factory, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		log.Infof("received signal %q, stopping after the current scenario", sig)
		cancel()
	}()

	report := runner.Run(ctx, scenarios)

	var out io.Writer = cmd.OutOrStdout()
	if out == os.Stdout {
		out = color.Output
	}
	if params.output != "" {
		fh, err := os.Create(params.output)
		if err != nil {
			return fmt.Errorf("cannot create report file: %w", err)
		}
		defer fh.Close() //nolint:errcheck
		out = fh
	}
	if params.jsonOut {
		if err := report.WriteJSON(out); err != nil {
			return err
		}
	} else {
		report.WriteText(out, params.verbose)
	}

	if !report.Passed() {
		return errContractViolated
	}
	return nil
}

func startDebugServer(addr string, reg *prometheus.Registry) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("debug server: %v", err) //nolint:errcheck
		}
	}()
	log.Infof("debug server listening on %s", addr)
	return srv
}
