// Package cli implements the lgworker command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/opencode-ai/lgworker/internal/config"
	"github.com/opencode-ai/lgworker/internal/db"
	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile        string
	logLevel       string
	logFormat      string
	jsonOutput     bool
	jsonlOutput    bool
	noProgress     bool
	nonInteractive bool

	appConfig = config.DefaultConfig()

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "lgworker",
	Short: "Parse and edit LG template documents",
	Long: `lgworker answers parse and template editing requests for LG documents.

Requests can be streamed over stdio (serve), sent to a gRPC daemon (daemon),
or run from a batch file (exec).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/lgworker/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "", "log format: console or json")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	flags.BoolVar(&noProgress, "no-progress", false, "disable progress output")
	flags.BoolVar(&nonInteractive, "non-interactive", false, "never assume an interactive terminal")
}

// Execute runs the root command.
func Execute(v, c, d string) error {
	version, commit, date = v, c, d
	rootCmd.Version = v

	err := rootCmd.Execute()
	if err != nil {
		printError(os.Stderr, err)
	}
	return err
}

func initConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(cfgFile, configFlags(cmd))
	if err != nil {
		return &PreflightError{
			Message:  fmt.Sprintf("invalid configuration: %v", err),
			Hint:     "Check the config file and LGWORKER_* environment variables",
			NextStep: "lgworker --config path/to/config.yaml",
		}
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	appConfig = cfg
	return nil
}

// configFlags maps config keys to the flags that override them. Only flags
// the user set take part, so unset flags do not mask the config file.
func configFlags(cmd *cobra.Command) map[string]*pflag.Flag {
	bindings := map[string]string{
		"logging.level":                "log-level",
		"logging.format":               "log-format",
		"transport.codec":              "codec",
		"daemon.host":                  "host",
		"daemon.port":                  "port",
		"worker.queue_size":            "queue-size",
		"worker.max_concurrent_parses": "max-concurrent-parses",
		"journal.enabled":              "journal",
	}

	flags := make(map[string]*pflag.Flag, len(bindings))
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		flags[key] = flag
	}
	return flags
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openJournal opens and migrates the configured journal database.
func openJournal(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(appConfig.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return database, nil
}

// IsJSONOutput reports whether --json was requested.
func IsJSONOutput() bool {
	return jsonOutput
}

// IsJSONLOutput reports whether JSON lines were requested, explicitly or
// because stdout is not a terminal.
func IsJSONLOutput() bool {
	if jsonlOutput {
		return true
	}
	return !jsonOutput && !stdoutIsTTY()
}

// WriteOutput writes v as indented JSON, or as JSON lines when JSONL output
// is active. Slices are written one element per line.
func WriteOutput(out io.Writer, v any) error {
	if IsJSONOutput() {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	enc := json.NewEncoder(out)
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		for i := 0; i < rv.Len(); i++ {
			if err := enc.Encode(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return enc.Encode(v)
}

// PreflightError is a user-facing error with remediation hints.
type PreflightError struct {
	Message  string
	Hint     string
	NextStep string
}

func (e *PreflightError) Error() string {
	return e.Message
}

func printError(out io.Writer, err error) {
	var preflight *PreflightError
	if errors.As(err, &preflight) {
		fmt.Fprintf(out, "Error: %s\n", preflight.Message)
		if preflight.Hint != "" {
			fmt.Fprintf(out, "Hint: %s\n", preflight.Hint)
		}
		if preflight.NextStep != "" {
			fmt.Fprintf(out, "Try: %s\n", preflight.NextStep)
		}
		return
	}
	fmt.Fprintf(out, "Error: %v\n", err)
}
