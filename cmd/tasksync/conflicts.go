package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/tasksync/internal/store"
	"github.com/hyperengineering/tasksync/internal/worker"
)

var (
	purgeOlderThan time.Duration
	listOwner      string
	listAll        bool
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and clean up sync conflicts",
	Long:  "List recorded conflicts or purge resolved ones without running the server.",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's conflicts",
	Args:  cobra.NoArgs,
	RunE:  runConflictsList,
}

var conflictsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete resolved conflicts and expired push replays",
	Args:  cobra.NoArgs,
	RunE:  runConflictsPurge,
}

func init() {
	conflictsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	conflictsListCmd.Flags().StringVar(&listOwner, "owner", "", "Owner id (required)")
	conflictsListCmd.Flags().BoolVar(&listAll, "all", false, "Include resolved conflicts")
	_ = conflictsListCmd.MarkFlagRequired("owner")

	conflictsPurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour,
		"Purge conflicts resolved longer ago than this")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsPurgeCmd)
}

func openStore() (*store.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	conflicts, err := db.ListConflicts(ctx, listOwner, listAll)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"conflicts": conflicts,
			"total":     len(conflicts),
		})
	}

	if len(conflicts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conflicts found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tKIND\tENTITY\tOPERATION\tREASON\tDETECTED\tRESOLUTION")
	for _, c := range conflicts {
		entityID := c.EntityID
		if entityID == "" {
			entityID = c.ClientGeneratedID
		}
		resolution := c.Resolution
		if resolution == "" {
			resolution = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.EntityType,
			entityID,
			c.Operation,
			c.Reason,
			c.DetectedAt.Format("2006-01-02 15:04"),
			resolution,
		)
	}
	return w.Flush()
}

func runConflictsPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := worker.NewRetentionCoordinator(db, 0, purgeOlderThan).RunOnce(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"conflicts_purged":    res.ConflictsPurged,
			"idempotency_cleaned": res.IdempotencyCleaned,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d resolved conflict(s) and %d expired push replay(s).\n",
		res.ConflictsPurged, res.IdempotencyCleaned)
	return nil
}
