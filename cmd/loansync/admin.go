package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var adminForce bool

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset sync cursors",
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset <target>",
	Short: "Forget sync progress so the next run re-reads the resync window",
	Long:  "Delete the stored cursor for a target. The next run starts from now minus the resync window. Requires --force or interactive confirmation.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCursorReset,
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage sync locks",
}

var lockClearCmd = &cobra.Command{
	Use:   "clear <target>",
	Short: "Remove a target's lock regardless of holder",
	Long:  "Delete the lock row for a target, even if a run still holds it. Requires --force or interactive confirmation.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockClear,
}

func init() {
	for _, c := range []*cobra.Command{cursorResetCmd, lockClearCmd} {
		c.Flags().BoolVar(&adminForce, "force", false, "Skip confirmation prompt")
	}
	cursorCmd.AddCommand(cursorResetCmd)
	lockCmd.AddCommand(lockClearCmd)
}

// confirm asks the operator to type the target ID. It reports false on mismatch.
func confirm(cmd *cobra.Command, warning, targetID string) (bool, error) {
	if adminForce {
		return true, nil
	}
	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "WARNING: %s\n", warning)
	fmt.Fprint(errOut, "Type the target ID to confirm: ")

	reader := bufio.NewReader(cmd.InOrStdin())
	input, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(input) != targetID {
		fmt.Fprintln(errOut, "Aborted. Target ID did not match.")
		return false, nil
	}
	return true, nil
}

func runCursorReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openLocalApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	target, err := a.orch.Targets().Get(args[0])
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, fmt.Sprintf("This will reset the sync cursor of %q.", target.ID), target.ID)
	if err != nil || !ok {
		return err
	}

	if err := a.cursors.Reset(ctx, target.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset cursor for %q\n", target.ID)
	return nil
}

func runLockClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openLocalApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	target, err := a.orch.Targets().Get(args[0])
	if err != nil {
		return err
	}

	row, err := a.leases.Holder(ctx, target.ID)
	if err != nil {
		return err
	}
	if row == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Target %q is not locked\n", target.ID)
		return nil
	}

	warning := fmt.Sprintf("This will clear the lock on %q held since %s.", target.ID, row.LockedAt.Format("2006-01-02 15:04:05 MST"))
	if a.leases.Live(row) {
		warning += " The lock is still live; a running sync may overlap with the next one."
	}
	ok, err := confirm(cmd, warning, target.ID)
	if err != nil || !ok {
		return err
	}

	if err := a.leases.Clear(ctx, target.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared lock for %q\n", target.ID)
	return nil
}
