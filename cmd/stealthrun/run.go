package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/stealthrun/internal/action"
	"github.com/v0xg/stealthrun/internal/config"
	"github.com/v0xg/stealthrun/internal/monitor"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script>...",
		Short: "Run one or more scripts, each in its own browser session",
		Long: `Each script is compiled (or read as compiled JSON steps when it ends in .json)
and run in a fresh browser session with its own profile. Several scripts run
concurrently up to --parallel.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScripts,
	}

	f := cmd.Flags()
	f.StringP("output", "o", "", "Write the execution sessions as JSON to this file")
	f.Bool("record", false, "Attach a before/after GIF to every step")
	f.Bool("abort-on-failure", false, "Stop a session at its first failed step")
	f.String("retry-strategy", "exponential", "Retry spacing: immediate, exponential, linear, adaptive")
	f.Duration("retry-base-delay", 500*time.Millisecond, "First retry delay")
	f.Duration("retry-max-delay", 30*time.Second, "Retry delay cap")
	f.Int("parallel", 1, "Sessions running at once")
	f.Float64("launch-rate", 1, "Session launches per second (0: unlimited)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func runScripts(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer shutdown()
	}

	jobs, scripts, err := buildJobs(cfg, logger, metrics, args)
	if err != nil {
		return err
	}

	fmt.Printf("→ Running %d session(s)...\n", len(jobs))
	outcomes := monitor.RunAll(ctx, jobs, monitor.BatchOptions{
		Parallel:   cfg.Parallel,
		LaunchRate: cfg.LaunchRate,
		Logger:     logger,
	})

	var sessions []*monitor.ExecutionSession
	var failed []string
	for i, o := range outcomes {
		if o.Session == nil {
			failed = append(failed, fmt.Sprintf("%s: %v", jobs[i].Task, o.Err))
			continue
		}
		sessions = append(sessions, o.Session)
		if err := saveArtifacts(o.Session, scripts[i]); err != nil {
			logger.Warn("save artifacts", zap.String("session", o.Session.ID), zap.Error(err))
		}
		fmt.Printf("%s %s: %s (%d/%d steps completed, %d failed)\n",
			mark(o.Session.Status == monitor.SessionCompleted), o.Session.TaskName, o.Session.Status,
			o.Session.CompletedSteps, o.Session.TotalSteps, o.Session.FailedSteps)
		if o.Session.Status != monitor.SessionCompleted {
			reason := string(o.Session.Status)
			if o.Err != nil {
				reason = o.Err.Error()
			}
			failed = append(failed, fmt.Sprintf("%s: %s", o.Session.TaskName, reason))
		}
	}

	if cfg.Output != "" {
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return fmt.Errorf("encode sessions: %w", err)
		}
		if err := writeFile(cfg.Output, data); err != nil {
			return err
		}
		fmt.Printf("✓ Sessions saved to %s\n", cfg.Output)
	}

	if len(failed) > 0 {
		return errors.New("failed sessions:\n  " + strings.Join(failed, "\n  "))
	}
	return nil
}

// buildJobs compiles every script into a job with its own engine, profile
// and retry strategy. Strategies carry state, so no two sessions share one.
func buildJobs(cfg *config.Config, logger *zap.Logger, metrics *monitor.Metrics, paths []string) ([]monitor.Job, [][]action.Step, error) {
	gen := generator(cfg)
	scripts := make([][]action.Step, len(paths))
	jobs := make([]monitor.Job, len(paths))
	var printMu sync.Mutex
	for i, path := range paths {
		fmt.Printf("→ Compiling %s... ", path)
		steps, warnings, err := loadSteps(path)
		if err != nil {
			fmt.Println("failed")
			return nil, nil, err
		}
		fmt.Printf("done (%d steps, %d warnings)\n", len(steps), len(warnings))
		printWarnings(warnings)
		logSteps(steps)

		strategy, err := cfg.RetryStrategy()
		if err != nil {
			return nil, nil, err
		}

		task := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		total := len(steps)
		scripts[i] = steps
		jobs[i] = monitor.Job{
			Task:   task,
			Steps:  steps,
			Driver: newEngine(cfg, logger, i),
			Options: monitor.Options{
				Profile:        gen.Generate(cfg.Overrides()),
				Retry:          strategy,
				AbortOnFailure: cfg.AbortOnFailure,
				Record:         cfg.Record,
				CloseGrace:     cfg.CloseGrace,
				Metrics:        metrics,
				Logger:         logger,
				OnStep: func(s monitor.StepStatus) {
					printMu.Lock()
					defer printMu.Unlock()
					printStep(task, total, s)
				},
			},
		}
	}
	return jobs, scripts, nil
}

func printStep(task string, total int, s monitor.StepStatus) {
	line := fmt.Sprintf("  %s [%d/%d] %s", task, s.Ordinal, total, s.Type)
	if s.RetryCount > 0 {
		line += fmt.Sprintf(" (retries: %d)", s.RetryCount)
	}
	if s.FallbackUsed != nil {
		line += fmt.Sprintf(" (fallback %d)", *s.FallbackUsed)
	}
	switch s.Status {
	case monitor.StatusSuccess:
		fmt.Println(line + " ✓")
	case monitor.StatusSkipped:
		fmt.Printf("%s - skipped (%s)\n", line, s.Error)
	default:
		fmt.Printf("%s ✗ (%s)\n", line, s.Error)
	}
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

// saveArtifacts writes screenshots to the path their step names and step
// videos next to the working directory.
func saveArtifacts(s *monitor.ExecutionSession, steps []action.Step) error {
	var errs []error
	for i, st := range s.Steps {
		if len(st.Screenshot) > 0 && i < len(steps) {
			if p, ok := steps[i].Params.(action.ScreenshotParams); ok && p.Path != "" {
				errs = append(errs, writeFile(p.Path, st.Screenshot))
			}
		}
		if len(st.Video) > 0 {
			errs = append(errs, writeFile(fmt.Sprintf("%s-%s.gif", s.TaskName, st.StepID), st.Video))
		}
	}
	return errors.Join(errs...)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
