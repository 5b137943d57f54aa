package switchboard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/config"
	"github.com/igorsilveira/switchboard/pkg/gateway"
	"github.com/igorsilveira/switchboard/pkg/push"
	"github.com/igorsilveira/switchboard/pkg/scheduler"
	"github.com/igorsilveira/switchboard/pkg/taskstate"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Switchboard gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.Log, "gateway", nil)
	logger.Info("starting switchboard gateway",
		slog.String("version", version),
		slog.Int("port", cfg.Gateway.Port),
		slog.String("bind", cfg.Gateway.Bind),
		slog.Int("agents", len(cfg.Agents)),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracer(sctx)
	}()

	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	var pushTo string
	if cfg.Push.Enabled {
		pushTo = pushURL(cfg)
	}
	orch, err := buildDispatcher(ctx, cfg, l, pushTo, logger)
	if err != nil {
		return err
	}

	gcfg := gateway.Config{
		Bind:      cfg.Gateway.Bind,
		Port:      cfg.Gateway.Port,
		Turner:    orch.dispatcher,
		Registry:  orch.registry,
		Logger:    logger,
		AuthToken: cfg.Gateway.Token,
		TurnTTL:   turnTTL(cfg),
	}
	if cfg.Push.Enabled {
		gcfg.Push = newPushReceiver(ctx, cfg, l, logger)
	}
	gw := gateway.New(ctx, gcfg)

	sched := scheduler.New()
	sweep := cfg.Scheduler.SweepInterval
	if sweep == "" {
		sweep = "1m"
	}
	if err := sched.Add(scheduler.SweepTurns(sweep, gw.Turns())); err != nil {
		return err
	}
	if cfg.Store.Retention != "" {
		retention := config.Duration(cfg.Store.Retention, 0)
		if err := sched.Add(scheduler.PruneTasks("@hourly", l.store, retention, nil)); err != nil {
			return err
		}
	}
	go sched.Start(ctx)
	defer sched.Stop()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

// newPushReceiver trusts the JWKS of every configured agent. Agents that do
// not publish one are skipped.
func newPushReceiver(ctx context.Context, cfg *config.Config, l *ledger, logger *slog.Logger) *push.Receiver {
	verifier := push.NewVerifier(ctx)
	for _, a := range cfg.Agents {
		if err := verifier.AddAgent(ctx, a.URL, nil); err != nil {
			logger.Warn("agent keys unavailable, its notifications will be rejected",
				slog.String("agent", a.URL),
				slog.String("err", err.Error()),
			)
		}
	}
	rc := push.ReceiverConfig{
		Verifier: verifier,
		Logger:   logger,
		OnTask: func(task a2a.Task) {
			if taskstate.Classify(task.Status.State) == taskstate.Unknown {
				return
			}
			if err := l.store.TaskFinished(ctx, task.ID, string(task.Status.State)); err != nil {
				logger.Debug("push for unknown task", slog.String("task_id", task.ID), slog.String("err", err.Error()))
			}
		},
	}
	if l.audit != nil {
		rc.Audit = l.audit
	}
	return push.NewReceiver(rc)
}
