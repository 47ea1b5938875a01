package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/loansync/internal/config"
	"github.com/hyperengineering/loansync/internal/syncer"
	"github.com/spf13/cobra"
)

var jsonOutput bool

var syncCmd = &cobra.Command{
	Use:   "sync [target]",
	Short: "Run one incremental sync without starting the server",
	Long:  "Run one incremental sync of a target (default application_records) and print a JSON summary. Exits non-zero when the run fails or another run holds the lock.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status [target]",
	Short: "Show cursor and lock state for sync targets",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

// openLocalApp loads config without an API key requirement and logs to stderr
// so stdout carries only command output.
func openLocalApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadLocal()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log))
	return newApp(ctx, cfg)
}

func targetArg(args []string) string {
	if len(args) == 0 {
		return syncer.ApplicationRecords
	}
	return args[0]
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := openLocalApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orch.Run(ctx, targetArg(args))
	if result != nil {
		summary := map[string]any{
			"target":        result.Target,
			"synced_count":  result.SyncedCount,
			"failed_count":  result.FailedCount,
			"pages":         result.Pages,
			"cursor":        result.Cursor,
			"lock_released": result.LockReleased,
			"duration_ms":   result.Duration.Milliseconds(),
		}
		if err != nil {
			summary["error"] = err.Error()
		}
		if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", targetArg(args), err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openLocalApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ids := a.orch.Targets().IDs()
	if len(args) == 1 {
		ids = args
	}

	type row struct {
		Target        string     `json:"target"`
		LastTimestamp *time.Time `json:"last_timestamp"`
		LastID        int64      `json:"last_id"`
		LastSyncedAt  *time.Time `json:"last_synced_at"`
		Locked        bool       `json:"locked"`
		LockedAt      *time.Time `json:"locked_at,omitempty"`
	}
	rows := make([]row, 0, len(ids))
	for _, id := range ids {
		status, err := a.orch.Status(ctx, id)
		if err != nil {
			return err
		}
		r := row{
			Target:        status.Target,
			LastTimestamp: status.Cursor.LastTimestamp,
			LastID:        status.Cursor.LastID,
			LastSyncedAt:  status.Cursor.LastSyncedAt,
			Locked:        status.Locked,
		}
		if status.Lock != nil {
			r.LockedAt = &status.Lock.LockedAt
		}
		rows = append(rows, r)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"targets": rows})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "TARGET\tLAST TIMESTAMP\tLAST ID\tLAST SYNCED\tLOCKED")
	for _, r := range rows {
		locked := "no"
		if r.Locked {
			locked = "yes since " + r.LockedAt.Format(time.RFC3339)
		} else if r.LockedAt != nil {
			locked = "stale"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.Target,
			formatTime(r.LastTimestamp, time.RFC3339Nano),
			r.LastID,
			formatTime(r.LastSyncedAt, "2006-01-02 15:04:05 MST"),
			locked,
		)
	}
	return w.Flush()
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return "-"
	}
	return t.Format(layout)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
