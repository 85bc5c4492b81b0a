// Command refineorc is the composition root: it wires the memory
// substrate, rate limiter, multi-expert engine, refinement loop, and
// coordinator into a single running orchestrator, and exposes a minimal
// admin CLI (serve/submit/status/stop) over that same wiring.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/gomind-refine/coordinator"
	"github.com/itsneelabh/gomind-refine/core"
	"github.com/itsneelabh/gomind-refine/experts"
	"github.com/itsneelabh/gomind-refine/memory"
	"github.com/itsneelabh/gomind-refine/ratelimit"
	"github.com/itsneelabh/gomind-refine/refine"
	"github.com/itsneelabh/gomind-refine/telemetry"
)

var (
	configPath       string
	telemetryProfile string
)

func main() {
	root := &cobra.Command{
		Use:   "refineorc",
		Short: "Self-improving multi-agent execution platform orchestrator",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if telemetryProfile == "" {
				return nil
			}
			cfg := telemetry.UseProfile(telemetry.Profile(telemetryProfile))
			cfg.ServiceName = "refineorc"
			return telemetry.Initialize(cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&telemetryProfile, "telemetry-profile", "", "development|staging|production; empty disables OTel export")

	root.AddCommand(serveCmd(), submitCmd(), statusCmd(), stopCmd(), runCmd(), maintainCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.NewConfig()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// buildSubstrate wires the three memory tiers from a core.Config.
func buildSubstrate(cfg *core.Config, logger core.Logger) (*memory.Substrate, error) {
	clock := core.NewRealClock()
	hot := memory.NewHotTier(cfg.Memory.HotTTL, nil, clock, logger)
	warm := memory.NewWarmTier(nil, cfg.Memory.ColdRoot+"/warm-buffer", logger)
	cold, err := memory.NewColdTier(cfg.Memory.ColdRoot, logger)
	if err != nil {
		return nil, err
	}
	return memory.New(cfg.Memory, hot, warm, cold, nil, clock, logger), nil
}

func buildCoordinator(cfg *core.Config, spawner coordinator.Spawner, logger core.Logger) (*coordinator.Coordinator, error) {
	ccfg := coordinator.Config{
		PollInterval:  cfg.Coordinator.PollingInterval,
		MaxConcurrent: cfg.Coordinator.MaxConcurrent,
		MaxDepth:      cfg.Coordinator.MaxDepth,
		Supervision:   coordinator.DefaultSupervisionConfig(),
	}
	ccfg.Supervision.HealthCheckTimeout = cfg.Coordinator.HealthCheckTimeout
	ccfg.Supervision.HeartbeatInterval = cfg.Coordinator.HeartbeatInterval
	ccfg.Supervision.SilenceWarning = cfg.Coordinator.SilenceWarningThreshold
	ccfg.Supervision.SilenceKill = cfg.Coordinator.HeartbeatKillThreshold
	ccfg.Supervision.ExtensionIncrement = cfg.Coordinator.TimeoutExtension
	ccfg.Supervision.GlobalCap = cfg.Coordinator.TimeoutCap

	return coordinator.New(cfg.Coordinator.MailboxRoot, ccfg, spawner, core.NewRealClock(), logger)
}

func serveCmd() *cobra.Command {
	var workerBinary, healthAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator polling loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := core.NewProductionLogger("refineorc")

			spawner := coordinator.NewExecSpawner(workerBinary, logger)
			coord, err := buildCoordinator(cfg, spawner, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if healthAddr != "" {
				mux := http.NewServeMux()
				mux.HandleFunc("/healthz", telemetry.HealthHandler)
				mux.HandleFunc("/debug/telemetry", func(w http.ResponseWriter, r *http.Request) {
					telemetry.GetLogger().Debug("debug telemetry endpoint hit", map[string]interface{}{"remote": r.RemoteAddr})
					w.Header().Set("Content-Type", "application/json")
					_ = json.NewEncoder(w).Encode(struct {
						Internal telemetry.InternalMetrics `json:"internal"`
						Baggage  telemetry.BaggageStats    `json:"baggage"`
					}{
						Internal: telemetry.GetInternalMetrics(),
						Baggage:  telemetry.GetBaggageStats(),
					})
				})
				traced := telemetry.TracingMiddlewareWithConfig("refineorc", &telemetry.TracingMiddlewareConfig{
					ExcludedPaths: []string{"/healthz"},
				})
				healthSrv := &http.Server{Addr: healthAddr, Handler: traced(mux)}
				go func() {
					if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Warn("health server exited", map[string]interface{}{"error": err.Error()})
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = healthSrv.Shutdown(shutdownCtx)
				}()
			}

			coord.Start(ctx)
			logger.Info("refineorc serving", map[string]interface{}{"mailboxRoot": cfg.Coordinator.MailboxRoot})
			<-ctx.Done()
			coord.Stop(true)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workerBinary, "worker-binary", "refineworker", "path to the worker binary spawned per request")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "optional address (e.g. :8080) to serve /healthz reporting telemetry health; empty disables it")
	return cmd
}

func submitCmd() *cobra.Command {
	var role, objective, complexity string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a Request into the mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := core.NewProductionLogger("refineorc")
			coord, err := buildCoordinator(cfg, coordinator.NewExecSpawner("refineworker", logger), logger)
			if err != nil {
				return err
			}
			id, err := coord.Submit(&coordinator.Request{
				Role:       role,
				Objective:  objective,
				Complexity: coordinator.Complexity(complexity),
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "request role")
	cmd.Flags().StringVar(&objective, "objective", "", "request objective")
	cmd.Flags().StringVar(&complexity, "complexity", "medium", "small|medium|large")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [requestId]",
		Short: "Query a Request's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := core.NewProductionLogger("refineorc")
			coord, err := buildCoordinator(cfg, coordinator.NewExecSpawner("refineworker", logger), logger)
			if err != nil {
				return err
			}
			st, err := coord.Status(args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	return cmd
}

// runCmd drives one goal through the full pipeline: the refinement loop
// treats the multi-expert engine as a single virtual expert, and each
// expert call spawns a worker process through the coordinator.
func runCmd() *cobra.Command {
	var goal, workerBinary string
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one goal through the refinement loop and multi-expert engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if goal == "" {
				return fmt.Errorf("--goal is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := core.NewProductionLogger("refineorc")

			sub, err := buildSubstrate(cfg, logger)
			if err != nil {
				return err
			}
			limiter := ratelimit.New(cfg.RateLimit.DefaultCapacity, cfg.RateLimit.DefaultRefillRate, core.NewRealClock(), logger, nil)

			coord, err := buildCoordinator(cfg, coordinator.NewExecSpawner(workerBinary, logger), logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			coord.Start(ctx)
			defer coord.Stop(true)

			engine := experts.NewEngine(limiter, sub, core.NewRealClock(), logger)
			coordExec := newCoordinatorExpertExecutor(coord)

			configs := make([]experts.Config, 0, 5)
			for _, a := range []experts.Archetype{
				experts.ArchetypePerformance, experts.ArchetypeSafety, experts.ArchetypeSimplicity,
				experts.ArchetypeRobustness, experts.ArchetypeBalanced,
			} {
				ec, _ := experts.NewConfig(string(a), a)
				configs = append(configs, ec)
			}

			loop := refine.NewLoop(sub, core.NewRealClock(), logger, nil)
			virtual := newVirtualExpertExecutor(engine, coordExec, configs)

			requestStart := time.Now()
			trace, err := loop.Run(ctx, refine.TaskSpec{Goal: goal, MaxIterations: maxIterations}, virtual)
			if err != nil {
				telemetry.RecordRequestError(telemetry.ModuleOrchestration, "refine", "executor_error")
				return err
			}
			telemetry.RecordRequest(telemetry.ModuleOrchestration, "refine", float64(time.Since(requestStart).Milliseconds()), string(trace.Outcome))

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
			}

			data, _ := json.MarshalIndent(trace, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&goal, "goal", "", "the task goal to refine toward")
	cmd.Flags().StringVar(&workerBinary, "worker-binary", "refineworker", "path to the worker binary spawned per expert call")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 3, "refinement loop iteration ceiling")
	return cmd
}

// maintainCmd runs the memory substrate's decay/archival/consolidation pass
// on a fixed interval until interrupted, standing in for a sidecar process
// alongside the coordinator in a full deployment.
func maintainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run the memory substrate's decay and consolidation pass on a loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := core.NewProductionLogger("refineorc")
			sub, err := buildSubstrate(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ticker := time.NewTicker(cfg.Memory.MaintenanceInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					stats, err := sub.RunMaintenance(ctx)
					if err != nil {
						logger.Error("maintenance pass failed", map[string]interface{}{"error": err.Error()})
						continue
					}
					logger.Info("maintenance pass complete", map[string]interface{}{
						"decayed": stats.Decayed, "archived": stats.Archived, "deleted": stats.Deleted, "consolidated": stats.Consolidated,
					})
					if health := telemetry.GetHealth(); health.Initialized && health.CircuitState == "open" {
						logger.Warn("telemetry circuit open during maintenance pass", map[string]interface{}{"errors": health.Errors, "lastError": health.LastError})
					}
				}
			}
		},
	}
	return cmd
}

func stopCmd() *cobra.Command {
	var drain bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running refineorc serve process to stop (via SIGTERM)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("send SIGTERM to the running 'refineorc serve' process; drain =", drain)
			return nil
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", true, "wait for in-flight requests to finish")
	return cmd
}
