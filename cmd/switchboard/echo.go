package switchboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/config"
	"github.com/igorsilveira/switchboard/pkg/push"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Run a local A2A echo agent for testing",
	Long: "Serves an A2A agent that streams each message back word by word. " +
		"A message ending in '?' leaves the task waiting for more input.",
	RunE: runEcho,
}

var (
	echoName  string
	echoHost  string
	echoPort  int
	echoDelay time.Duration
	echoPush  bool
	echoToken string
	echoUnary bool
)

func init() {
	echoCmd.Flags().StringVar(&echoName, "name", "Echo Agent", "agent card name")
	echoCmd.Flags().StringVar(&echoHost, "host", "127.0.0.1", "listen host")
	echoCmd.Flags().IntVar(&echoPort, "port", 10000, "listen port")
	echoCmd.Flags().DurationVar(&echoDelay, "delay", 200*time.Millisecond, "pause between streamed words")
	echoCmd.Flags().BoolVar(&echoPush, "push", true, "sign and deliver push notifications")
	echoCmd.Flags().StringVar(&echoToken, "token", "", "require this bearer token on JSON-RPC calls")
	echoCmd.Flags().BoolVar(&echoUnary, "no-streaming", false, "advertise no streaming support")
}

func runEcho(cmd *cobra.Command, args []string) error {
	logger := telemetry.SetupLogger(config.LogConfig{Level: "info", Format: "text"}, "echo", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", echoHost, echoPort)
	card := a2a.EchoCard(echoName, "http://"+addr+"/")
	card.Capabilities.Streaming = !echoUnary

	hcfg := a2a.HandlerConfig{
		Card:      card,
		Runner:    a2a.EchoRunner{Delay: echoDelay},
		Logger:    logger,
		AuthToken: echoToken,
	}
	if echoPush {
		signer, err := push.NewSigner(push.WithSignerLogger(logger))
		if err != nil {
			return err
		}
		hcfg.Notifier = signer
		hcfg.JWKS = signer.JWKS()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a2a.NewHandler(hcfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("echo agent listening", slog.String("addr", addr), slog.String("name", echoName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	return srv.Shutdown(sctx)
}
