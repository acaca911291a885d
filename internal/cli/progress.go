package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opencode-ai/lgworker/internal/logging"
	"github.com/rs/zerolog"
)

// progressEnvVars disable terminal progress when set to any value.
var progressEnvVars = []string{"LGWORKER_NO_PROGRESS", "NO_PROGRESS"}

// progressStep reports one long-running step. The terminal line is written
// only for interactive human output; the debug log always gets the timing.
type progressStep struct {
	out     io.Writer
	logger  zerolog.Logger
	label   string
	started time.Time
}

func startProgress(label string) *progressStep {
	var out io.Writer
	if progressEnabled() {
		out = os.Stderr
	}
	return newProgressStep(out, logging.Component("cli"), label)
}

func newProgressStep(out io.Writer, logger zerolog.Logger, label string) *progressStep {
	if out != nil {
		fmt.Fprintf(out, "%s... ", label)
	}
	return &progressStep{
		out:     out,
		logger:  logger,
		label:   label,
		started: time.Now(),
	}
}

// Finish ends the step. A non-empty summary replaces the plain "done".
func (p *progressStep) Finish(err error, summary string) {
	elapsed := time.Since(p.started)

	event := p.logger.Debug()
	if err != nil {
		event = p.logger.Warn().Err(err)
	}
	event.Str("step", p.label).Dur("elapsed", elapsed).Msg("step finished")

	if p.out == nil {
		return
	}
	switch {
	case err != nil:
		fmt.Fprintf(p.out, "failed: %v\n", err)
	case summary != "":
		fmt.Fprintf(p.out, "%s (%s)\n", summary, formatDuration(elapsed))
	default:
		fmt.Fprintf(p.out, "done (%s)\n", formatDuration(elapsed))
	}
}

func progressEnabled() bool {
	if noProgress || IsJSONOutput() || IsJSONLOutput() {
		return false
	}
	for _, name := range progressEnvVars {
		if _, ok := os.LookupEnv(name); ok {
			return false
		}
	}
	return IsInteractive()
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
