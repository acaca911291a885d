package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/opencode-ai/lgworker/internal/workerd"
	"github.com/spf13/cobra"
)

var statusRemote string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusRemote, "remote", "", "daemon address (default host:port from config)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		target := statusRemote
		if target == "" {
			target = fmt.Sprintf("%s:%d", appConfig.Daemon.Host, appConfig.Daemon.Port)
		}

		unreachable := func(err error) error {
			return &PreflightError{
				Message:  fmt.Sprintf("daemon at %s is not reachable: %v", target, err),
				Hint:     "Start the daemon or pass --remote",
				NextStep: "lgworker daemon",
			}
		}

		client, err := workerd.Dial(ctx, target)
		if err != nil {
			return unreachable(err)
		}
		defer client.Close()

		status, err := client.Status(ctx)
		if err != nil {
			return unreachable(err)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, status)
		}

		rows := [][]string{
			{"Address", target},
			{"Version", status.Version},
			{"Hostname", status.Hostname},
			{"Started", formatTime(status.StartedAt)},
			{"Active streams", strconv.Itoa(status.ActiveStreams)},
			{"Total streams", strconv.FormatInt(status.TotalStreams, 10)},
			{"Answered", strconv.FormatInt(status.Answered, 10)},
			{"Rate limited", strconv.FormatInt(status.RateLimited, 10)},
		}
		return writeTable(os.Stdout, nil, rows)
	},
}
