package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/lgworker/internal/db"
	"github.com/opencode-ai/lgworker/internal/models"
	"github.com/spf13/cobra"
)

var (
	journalType   string
	journalLimit  int
	journalSince  string
	journalCursor string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalStatsCmd)

	journalListCmd.Flags().StringVar(&journalType, "type", "", "filter by event type, e.g. operation.failed")
	journalListCmd.Flags().IntVar(&journalLimit, "limit", 50, "maximum events to show")
	journalListCmd.Flags().StringVar(&journalSince, "since", "", "only events after a duration ago (1h) or an RFC3339 time")
	journalListCmd.Flags().StringVar(&journalCursor, "cursor", "", "continue after this event id")
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the operation journal",
	Long:  "Inspect the SQLite journal written by serve and daemon when journal.enabled is set.",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journal events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		query := db.EventQuery{Limit: journalLimit, Cursor: journalCursor}
		if journalType != "" {
			eventType := models.EventType(journalType)
			query.Type = &eventType
		}
		if journalSince != "" {
			since, err := parseSince(journalSince, time.Now())
			if err != nil {
				return err
			}
			query.Since = &since
		}

		database, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		page, err := db.NewEventRepository(database).Query(ctx, query)
		if err != nil {
			return err
		}

		if IsJSONOutput() {
			return WriteOutput(os.Stdout, page)
		}
		if IsJSONLOutput() {
			return WriteOutput(os.Stdout, page.Events)
		}

		rows := make([][]string, 0, len(page.Events))
		for _, event := range page.Events {
			rows = append(rows, []string{
				formatTime(event.Timestamp),
				string(event.Type),
				string(event.EntityType),
				truncate(event.EntityID, 36),
				truncate(string(event.Payload), 60),
			})
		}
		if err := writeTable(os.Stdout, []string{"TIME", "TYPE", "ENTITY", "ID", "PAYLOAD"}, rows); err != nil {
			return err
		}
		if page.NextCursor != "" {
			fmt.Fprintf(os.Stderr, "\nMore events: lgworker journal list --cursor %s\n", page.NextCursor)
		}
		return nil
	},
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count journal events by type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		database, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		counts, err := db.NewEventRepository(database).CountByType(ctx)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, counts)
		}

		types := make([]string, 0, len(counts))
		for eventType := range counts {
			types = append(types, string(eventType))
		}
		sort.Strings(types)

		rows := make([][]string, 0, len(types))
		for _, eventType := range types {
			rows = append(rows, []string{eventType, strconv.FormatInt(counts[models.EventType(eventType)], 10)})
		}
		return writeTable(os.Stdout, []string{"TYPE", "COUNT"}, rows)
	},
}

// parseSince accepts a duration relative to now ("90m", "2h") or an
// RFC3339 timestamp.
func parseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since must not be negative: %s", value)
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 1h or an RFC3339 time", value)
}
