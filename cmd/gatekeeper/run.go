package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/gatekeeper"
)

var runFlags struct {
	listen          string
	healthTimeout   time.Duration
	shutdownTimeout time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rule watcher, escalation scheduler and HTTP endpoints",
	Long: `Run gatekeeper as a long-lived process.

The process:
  - reloads rules when rule files change (rules.watch) or polls the rule
    repository (rules.git.enabled)
  - escalates overdue workflow steps on escalation.schedule
    (escalation.enabled)
  - serves /metrics, /healthz, /readyz and /version

It stops on SIGINT or SIGTERM.

Examples:
  gatekeeper run --config gatekeeper.yaml
  gatekeeper run --listen 0.0.0.0:9090`,
	Args: cobra.NoArgs,
	RunE: runEngine,
}

var escalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Escalate overdue workflow steps once",
	Long: `Run a single escalation scan and exit. Use this when escalation is driven
by an external scheduler instead of gatekeeper run.`,
	Args: cobra.NoArgs,
	RunE: escalateOnce,
}

func init() {
	rootCmd.AddCommand(runCmd, escalateCmd)

	runCmd.Flags().StringVar(&runFlags.listen, "listen", "", "HTTP listen address (default telemetry.metrics.listen_address)")
	runCmd.Flags().DurationVar(&runFlags.healthTimeout, "health-timeout", 5*time.Second, "timeout of each readiness check")
	runCmd.Flags().DurationVar(&runFlags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight HTTP requests")
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	eng, err := gatekeeper.Open(ctx, cfg, gatekeeper.Options{}, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer eng.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Rules.Watch || cfg.Rules.Git.Enabled {
		g.Go(func() error {
			return eng.WatchRules(gctx)
		})
	}

	if cfg.Escalation.Enabled {
		scheduler, err := eng.EscalationScheduler()
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		if err := scheduler.Start(gctx); err != nil {
			return cli.NewCommandError("run", err)
		}
		defer scheduler.Stop()
	}

	mux := http.NewServeMux()
	if cfg.Telemetry.Metrics.Enabled {
		mux.Handle(cfg.Telemetry.Metrics.Path, eng.Metrics().Handler())
	}
	eng.HealthChecker(runFlags.healthTimeout).Mount(mux, buildInfo())

	addr := runFlags.listen
	if addr == "" {
		addr = cfg.Telemetry.Metrics.ListenAddress
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to listen on %s: %w", addr, err))
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), runFlags.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("gatekeeper running",
		"address", ln.Addr().String(),
		"rules", eng.Registry().Count(),
		"watch", cfg.Rules.Watch,
		"git", cfg.Rules.Git.Enabled,
		"escalation", cfg.Escalation.Enabled,
	)

	err = g.Wait()
	logger.Info("gatekeeper stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("run", err)
	}
	return nil
}

func escalateOnce(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	scheduler, err := eng.EscalationScheduler()
	if err != nil {
		return cli.NewCommandError("escalate", err)
	}
	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		return cli.NewCommandError("escalate", err)
	}

	w := output(cmd)
	fmt.Fprintf(w, "checked %d instances, escalated %d, blocked %d, failed %d\n",
		report.Checked, len(report.Escalated), len(report.Blocked), report.Failed)
	for _, id := range report.Escalated {
		fmt.Fprintf(w, "  escalated %s\n", id)
	}
	for _, id := range report.Blocked {
		fmt.Fprintf(w, "  blocked   %s\n", id)
	}
	if report.Failed > 0 {
		return &cli.FindingsError{Command: "escalate", Count: report.Failed}
	}
	return nil
}
