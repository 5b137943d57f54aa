package switchboard

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/chatclient"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the configured agents and the tools they become",
	RunE:  runAgents,
}

var agentsGateway string

func init() {
	agentsCmd.Flags().StringVar(&agentsGateway, "gateway", "", "ask a running gateway instead of resolving cards directly")
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := telemetry.SetupLogger(cfg.Log, "agents", io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var descs []agents.Descriptor
	if agentsGateway != "" {
		descs, err = chatclient.New(agentsGateway, chatclient.WithToken(cfg.Gateway.Token)).Agents(ctx)
		if err != nil {
			return err
		}
	} else {
		reg, err := agents.NewRegistry(ctx, agentConfigs(cfg), agents.Options{Logger: logger})
		if err != nil {
			return fmt.Errorf("loading agents: %w", err)
		}
		descs = reg.Descriptors()
	}

	if len(descs) == 0 {
		fmt.Println("No agents configured.")
		return nil
	}
	t := newTable("TOOL", "NAME", "URL", "STREAMING", "PUSH")
	for _, d := range descs {
		t.Row(d.ToolName, d.Name, d.URL, strconv.FormatBool(d.Streaming), strconv.FormatBool(d.PushNotifications))
	}
	fmt.Println(t)
	return nil
}
