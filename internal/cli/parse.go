package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(parseCmd)
	addWorkerFlags(parseCmd)
}

var parseCmd = &cobra.Command{
	Use:   "parse <file>...",
	Short: "Parse LG files and report diagnostics",
	Long: `Parse one or more LG files. Imports are resolved against the other
LG files in the same directory as each file.

Exits non-zero when any file has an error diagnostic.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		reqs, err := parseRequests(args, appConfig.Worker.ImportExtension)
		if err != nil {
			return err
		}

		step := startProgress(fmt.Sprintf("Parsing %d files", len(reqs)))
		responses, err := runLocal(ctx, workerConfig(), newHandler(), reqs)
		if err != nil {
			step.Finish(err, "")
			return err
		}
		step.Finish(nil, "")

		results := make([]*models.ParseResult, 0, len(responses))
		for _, resp := range responses {
			if !resp.OK() {
				return fmt.Errorf("%s: %s", resp.ID, resp.Error.Message)
			}
			result, ok := resp.Payload.(*models.ParseResult)
			if !ok {
				return fmt.Errorf("%s: unexpected payload %T", resp.ID, resp.Payload)
			}
			results = append(results, result)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(os.Stdout, results); err != nil {
				return err
			}
		} else if err := writeDiagnostics(results); err != nil {
			return err
		}

		errorCount := 0
		for _, result := range results {
			for _, diag := range result.Diagnostics {
				if diag.Severity == models.SeverityError {
					errorCount++
				}
			}
		}
		if errorCount > 0 {
			return fmt.Errorf("%d error diagnostics", errorCount)
		}
		return nil
	},
}

// parseRequests builds one parse request per file. The request id and
// targetId are the file path; sibling documents are offered for imports.
func parseRequests(paths []string, ext string) ([]models.Request, error) {
	if ext == "" {
		ext = ".lg"
	}

	siblings := make(map[string][]models.Document)
	reqs := make([]models.Request, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		dir := filepath.Dir(path)
		docs, ok := siblings[dir]
		if !ok {
			docs, err = siblingDocuments(dir, ext)
			if err != nil {
				return nil, err
			}
			siblings[dir] = docs
		}

		base := filepath.Base(path)
		lgFiles := make([]models.Document, 0, len(docs))
		for _, doc := range docs {
			if doc.ID != base {
				lgFiles = append(lgFiles, doc)
			}
		}

		reqs = append(reqs, models.Request{
			ID:   path,
			Type: models.OperationParse,
			Payload: models.Payload{
				TargetID: path,
				Content:  string(data),
				LGFiles:  lgFiles,
			},
		})
	}
	return reqs, nil
}

func siblingDocuments(dir, ext string) ([]models.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var docs []models.Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		docs = append(docs, models.Document{ID: entry.Name(), Content: string(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func writeDiagnostics(results []*models.ParseResult) error {
	rows := make([][]string, 0)
	for _, result := range results {
		if len(result.Diagnostics) == 0 {
			rows = append(rows, []string{result.ID, "-", "ok", fmt.Sprintf("%d templates", len(result.Templates))})
			continue
		}
		for _, diag := range result.Diagnostics {
			rows = append(rows, []string{
				result.ID,
				strconv.Itoa(diag.Range.Start.Line + 1),
				string(diag.Severity),
				diag.Message,
			})
		}
	}
	return writeTable(os.Stdout, []string{"FILE", "LINE", "SEVERITY", "MESSAGE"}, rows)
}
