package switchboard

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/switchboard/pkg/chatclient"
	"github.com/igorsilveira/switchboard/pkg/conversation"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
	"github.com/igorsilveira/switchboard/pkg/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive TUI chat session",
	RunE:  runChat,
}

var (
	chatGateway string
	chatLocal   bool
)

func init() {
	chatCmd.Flags().StringVar(&chatGateway, "gateway", "", "gateway URL (default: from config)")
	chatCmd.Flags().BoolVar(&chatLocal, "local", false, "dispatch turns in-process instead of through a gateway")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The screen belongs to the TUI.
	logger := telemetry.SetupLogger(cfg.Log, "chat", io.Discard)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var src conversation.Source
	if chatLocal {
		l, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = l.Close() }()
		orch, err := buildDispatcher(ctx, cfg, l, "", logger)
		if err != nil {
			return err
		}
		src = orch.dispatcher
	} else {
		url := chatGateway
		if url == "" {
			url = gatewayURL(cfg)
		}
		src = chatclient.New(url,
			chatclient.WithToken(cfg.Gateway.Token),
			chatclient.WithPolicy(streamPolicy(cfg)),
			chatclient.WithLogger(logger),
		)
	}
	return tui.Run(ctx, src, "Switchboard")
}
