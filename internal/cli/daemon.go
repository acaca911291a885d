package cli

import (
	"fmt"

	"github.com/opencode-ai/lgworker/internal/db"
	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/opencode-ai/lgworker/internal/workerd"
	"github.com/spf13/cobra"
)

var (
	daemonHost    string
	daemonPort    int
	daemonJournal bool
)

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonHost, "host", "", "address to bind (default from config, 127.0.0.1)")
	daemonCmd.Flags().IntVar(&daemonPort, "port", 0, fmt.Sprintf("port to listen on (default from config, %d)", workerd.DefaultPort))
	daemonCmd.Flags().BoolVar(&daemonJournal, "journal", false, "record every answered request in the journal")
	addWorkerFlags(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the gRPC worker daemon",
	Long: `Serve the TemplateWorker gRPC service until interrupted.

Each Dispatch stream gets its own worker; requests are rate limited per
operation kind as configured under daemon.rate_limit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		opts := workerd.Options{Version: version}
		if appConfig.Journal.Enabled {
			database, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer database.Close()
			opts.Journal = db.NewEventRepository(database)
		}

		logger := logging.Component("daemon")
		daemon, err := workerd.New(appConfig, logger, opts)
		if err != nil {
			return err
		}

		logger.Info().
			Str("host", appConfig.Daemon.Host).
			Int("port", appConfig.Daemon.Port).
			Bool("journal", appConfig.Journal.Enabled).
			Bool("rate_limit", appConfig.Daemon.RateLimit.Enabled).
			Msg("starting daemon")

		return daemon.Run(ctx)
	},
}
