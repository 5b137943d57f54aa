package switchboard

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the Switchboard setup",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("Switchboard Doctor v%s\n", version)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go: %s\n\n", runtime.Version())

	cfg, cfgCheck := checkConfig()
	checks := []checkResult{
		checkDataDir(),
		cfgCheck,
		checkDatabase(cfg),
		checkRouterKey(cfg),
	}
	checks = append(checks, checkAgents(cfg)...)
	checks = append(checks, checkGatewayHealth(cfg))

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() (*config.Config, checkResult) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default(), checkResult{"Config file", false, fmt.Sprintf("parse error: %s", err)}
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, checkResult{"Config file", true, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	return cfg, checkResult{"Config file", true, fmt.Sprintf("%s (%d agents)", path, len(cfg.Agents))}
}

func checkDatabase(cfg *config.Config) checkResult {
	info, err := os.Stat(cfg.Store.Path)
	if err != nil {
		return checkResult{"Task ledger", false, fmt.Sprintf("%s not found (will be created on first serve)", cfg.Store.Path)}
	}
	return checkResult{"Task ledger", true, fmt.Sprintf("%s (%d KB)", cfg.Store.Path, info.Size()/1024)}
}

func checkRouterKey(cfg *config.Config) checkResult {
	name := fmt.Sprintf("Router (%s)", cfg.Router.Provider)
	if cfg.Router.Provider == "ollama" {
		return checkResult{name, true, "no key needed"}
	}
	key := cfg.Router.APIKey()
	if key == "" {
		return checkResult{name, false, "API key not set"}
	}
	return checkResult{name, true, fmt.Sprintf("key set (%d chars)", len(key))}
}

// checkAgents fetches every agent card concurrently.
func checkAgents(cfg *config.Config) []checkResult {
	results := make([]checkResult, len(cfg.Agents))
	resolver := a2a.NewCardResolver(&http.Client{Timeout: 3 * time.Second})

	var g errgroup.Group
	for i, a := range cfg.Agents {
		g.Go(func() error {
			name := "Agent " + a.URL
			card, err := resolver.Resolve(context.Background(), a.URL)
			if err != nil {
				results[i] = checkResult{name, false, err.Error()}
				return nil
			}
			results[i] = checkResult{name, true, fmt.Sprintf("%s (streaming=%t, push=%t)",
				card.Name, card.Capabilities.Streaming, card.Capabilities.PushNotifications)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func checkGatewayHealth(cfg *config.Config) checkResult {
	url := gatewayURL(cfg) + "/healthz"

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return checkResult{"Gateway", false, "not running"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return checkResult{"Gateway", true, fmt.Sprintf("running at :%d", cfg.Gateway.Port)}
	}
	return checkResult{"Gateway", false, fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)}
}
