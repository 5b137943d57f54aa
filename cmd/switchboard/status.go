package switchboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of the Switchboard gateway",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := gatewayURL(cfg) + "/readyz"

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("status: gateway is not running")
		return nil
	}
	defer resp.Body.Close()

	var ready struct {
		Status string `json:"status"`
		Agents int    `json:"agents"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&ready)

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("status: gateway is ready (%d agents)\n", ready.Agents)
	} else {
		fmt.Printf("status: gateway returned %s\n", resp.Status)
	}
	return nil
}
