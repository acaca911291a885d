package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/opencode-ai/lgworker/internal/db"
	"github.com/opencode-ai/lgworker/internal/dispatcher"
	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/opencode-ai/lgworker/internal/transport"
	"github.com/spf13/cobra"
)

var (
	serveCodec               string
	serveJournal             bool
	workerQueueSize          int
	workerMaxConcurrentParse int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveCodec, "codec", "", "message codec: json (newline-delimited) or cbor")
	serveCmd.Flags().BoolVar(&serveJournal, "journal", false, "record every answered request in the journal")
	addWorkerFlags(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer requests read from stdin",
	Long: `Read requests from stdin and write one response per request to stdout.

Messages are newline-delimited JSON by default; --codec cbor switches both
streams to a sequence of CBOR items. The command returns when stdin is
closed and every request read has been answered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		codec, err := transport.CodecByName(appConfig.Transport.Codec)
		if err != nil {
			return &PreflightError{
				Message:  err.Error(),
				Hint:     "Supported codecs are json and cbor",
				NextStep: "lgworker serve --codec json",
			}
		}

		opts := transport.Options{
			Codec:   codec,
			Worker:  workerConfig(),
			Handler: newHandler(),
		}

		if appConfig.Journal.Enabled {
			database, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer database.Close()
			opts.WorkerOptions = append(opts.WorkerOptions, dispatcher.WithJournal(db.NewEventRepository(database)))
		}

		logger := logging.Component("serve")
		opts.Logger = &logger

		err = transport.Serve(ctx, os.Stdin, os.Stdout, opts)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func addWorkerFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&workerQueueSize, "queue-size", 0, "inbound request queue size")
	cmd.Flags().IntVar(&workerMaxConcurrentParse, "max-concurrent-parses", 0, "parse operations allowed in flight")
}

func workerConfig() dispatcher.Config {
	return dispatcher.Config{
		QueueSize:           appConfig.Worker.QueueSize,
		MaxConcurrentParses: appConfig.Worker.MaxConcurrentParses,
	}
}

func newHandler() *dispatcher.Dispatcher {
	return dispatcher.New(dispatcher.WithImportExtension(appConfig.Worker.ImportExtension))
}
