package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencode-ai/lgworker/internal/batch"
	"github.com/opencode-ai/lgworker/internal/dispatcher"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/opencode-ai/lgworker/internal/workerd"
	"github.com/spf13/cobra"
)

var (
	execRemote      string
	execConcurrency int
)

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVar(&execRemote, "remote", "", "send requests to a daemon at host:port instead of running locally")
	execCmd.Flags().IntVar(&execConcurrency, "concurrency", 8, "requests in flight when --remote is set")
	addWorkerFlags(execCmd)
}

var execCmd = &cobra.Command{
	Use:   "exec <batch-file|dir>...",
	Short: "Run request batches",
	Long: `Run the requests in one or more batch files and print their responses.

Batch files are YAML (.yaml, .yml) or JSON with comments (.json, .jsonc).
A directory argument runs every batch file in it, sorted by name.`,
	Example: `  lgworker exec greetings.yaml
  lgworker exec --remote 127.0.0.1:50151 batches/
  lgworker exec --json cleanup.jsonc`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		batches, err := loadBatches(args)
		if err != nil {
			return err
		}

		var results []execResult
		for _, b := range batches {
			reqs, err := b.Expand()
			if err != nil {
				return fmt.Errorf("batch %s: %w", b.Name, err)
			}

			step := startProgress(fmt.Sprintf("Running %s (%d requests)", b.Name, len(reqs)))
			responses, err := runRequests(ctx, reqs)
			if err != nil {
				step.Finish(err, "")
				return fmt.Errorf("batch %s: %w", b.Name, err)
			}
			step.Finish(nil, summarizeResponses(responses))

			for i, resp := range responses {
				results = append(results, newExecResult(b.Name, reqs[i], resp))
			}
		}

		if err := writeExecResults(os.Stdout, results); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d requests failed", failed, len(results))
		}
		return nil
	},
}

// execResult pairs a response with the batch and operation that produced it.
type execResult struct {
	Batch     string          `json:"batch"`
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	OK        bool            `json:"ok"`
	Response  models.Response `json:"response"`
}

func newExecResult(batchName string, req models.Request, resp models.Response) execResult {
	return execResult{
		Batch:     batchName,
		ID:        req.ID,
		Operation: string(req.Type),
		OK:        resp.OK(),
		Response:  resp,
	}
}

// summarizeResponses counts successes and failures, e.g. "3 ok, 1 failed".
func summarizeResponses(responses []models.Response) string {
	failed := 0
	for _, resp := range responses {
		if !resp.OK() {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("%d ok", len(responses))
	}
	return fmt.Sprintf("%d ok, %d failed", len(responses)-failed, failed)
}

func loadBatches(paths []string) ([]*batch.Batch, error) {
	var batches []*batch.Batch
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, &PreflightError{
				Message:  fmt.Sprintf("cannot read %s: %v", path, err),
				Hint:     "Pass a batch file or a directory of batch files",
				NextStep: "lgworker exec batch.yaml",
			}
		}
		if info.IsDir() {
			found, err := batch.LoadDir(path)
			if err != nil {
				return nil, err
			}
			batches = append(batches, found...)
			continue
		}
		b, err := batch.Load(path)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return nil, &PreflightError{
			Message: "no batch files found",
			Hint:    "Batch files end in " + strings.Join(batch.Extensions, ", "),
		}
	}
	return batches, nil
}

func runRequests(ctx context.Context, reqs []models.Request) ([]models.Response, error) {
	if execRemote != "" {
		return runRemote(ctx, execRemote, reqs, execConcurrency)
	}
	return runLocal(ctx, workerConfig(), newHandler(), reqs)
}

// runLocal answers reqs with an in-process worker and returns the
// responses in request order.
func runLocal(ctx context.Context, cfg dispatcher.Config, handler dispatcher.Handler, reqs []models.Request) ([]models.Response, error) {
	sink := dispatcher.NewChannelSink(len(reqs))
	worker := dispatcher.NewWorker(cfg, handler, sink)
	if err := worker.Start(ctx); err != nil {
		return nil, err
	}

	for _, req := range reqs {
		if err := worker.Submit(ctx, req); err != nil {
			_ = worker.Stop()
			return nil, err
		}
	}
	if err := worker.Stop(); err != nil {
		return nil, err
	}
	_ = sink.Close()

	byID := make(map[string]models.Response, len(reqs))
	for resp := range sink.C() {
		byID[resp.ID] = resp
	}

	responses := make([]models.Response, len(reqs))
	for i, req := range reqs {
		resp, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("request %q was not answered", req.ID)
		}
		responses[i] = resp
	}
	return responses, nil
}

func runRemote(ctx context.Context, target string, reqs []models.Request, concurrency int) ([]models.Response, error) {
	client, err := workerd.Dial(ctx, target)
	if err != nil {
		return nil, &PreflightError{
			Message:  err.Error(),
			Hint:     "Start a daemon first or check the address",
			NextStep: "lgworker daemon --port " + fmt.Sprint(workerd.DefaultPort),
		}
	}
	defer client.Close()

	return client.DoAll(ctx, reqs, concurrency)
}

func writeExecResults(out io.Writer, results []execResult) error {
	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(out, results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Batch, r.ID, r.Operation, formatStatus(r.Response), responseDetail(r.Response)})
	}
	return writeTable(out, []string{"BATCH", "ID", "OPERATION", "STATUS", "DETAIL"}, rows)
}

func formatStatus(resp models.Response) string {
	if resp.OK() {
		return "ok"
	}
	return string(resp.Error.Kind)
}

// responseDetail summarizes a response for table output.
func responseDetail(resp models.Response) string {
	if !resp.OK() {
		return truncate(resp.Error.Message, 60)
	}
	switch payload := resp.Payload.(type) {
	case *models.ParseResult:
		return fmt.Sprintf("%d templates, %d diagnostics", len(payload.Templates), len(payload.Diagnostics))
	case *models.EditResult:
		return fmt.Sprintf("%d templates", len(payload.Templates))
	case map[string]any:
		templates, _ := payload["templates"].([]any)
		if diagnostics, ok := payload["diagnostics"].([]any); ok {
			return fmt.Sprintf("%d templates, %d diagnostics", len(templates), len(diagnostics))
		}
		return fmt.Sprintf("%d templates", len(templates))
	}
	return "-"
}
