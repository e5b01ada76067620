package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"etlverify/internal/core"
)

var submitServer string

var submitCmd = &cobra.Command{
	Use:   "submit <plan.yaml>",
	Short: "Send a plan to a running etlverify server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read plan file: %w", err)
		}
		// fail before the round trip
		if _, err := core.ParsePlanFor(data, cfg.Remote.Transport); err != nil {
			return err
		}

		server := submitServer
		if server == "" {
			server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Post(strings.TrimSuffix(server, "/")+"/runs", "application/x-yaml", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("server answered %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		fmt.Fprint(cmd.OutOrStdout(), string(body))
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "", "server base URL (default: http://localhost:<server.port>)")
}
