package main

import (
	"fmt"
	"time"

	"github.com/mmcdole/nexdl/internal/adapter"
	"github.com/mmcdole/nexdl/internal/collection"
	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/service"
	"github.com/mmcdole/nexdl/internal/store"
	"github.com/spf13/cobra"
)

// openFailedDelay spaces out URLs handed to the system browser
const openFailedDelay = 500 * time.Millisecond

func newStatusCmd() *cobra.Command {
	var openFailed bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show download progress for the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog := setupLogger(cmd, cfg)
			defer closeLog()

			items, err := collection.Load(cfg.Collection, logger)
			if err != nil {
				return err
			}
			entries, err := loadEntries(cfg.Progress.File)
			if err != nil {
				return err
			}
			printStats(out, store.Summarize(entries, items))

			var failed []domain.WorkItem
			for _, item := range items {
				entry, ok := entries[item]
				if !ok || entry.Status != domain.StatusFailed {
					continue
				}
				failed = append(failed, item)
				last := "never"
				if entry.LastAttemptTime != nil {
					last = entry.LastAttemptTime.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "  failed: %s (%d attempts, last %s)\n", item, entry.Attempts, last)
			}

			if !openFailed || len(failed) == 0 {
				return nil
			}
			urls := make([]string, len(failed))
			for i, item := range failed {
				urls[i] = service.ModFileURL(cfg.Game, item, cfg.Download.ModManager)
			}
			opened, err := adapter.NewOpener(openFailedDelay, logger).OpenAll(urls)
			fmt.Fprintf(out, "Opened %d of %d failed mods in the default browser\n", opened, len(urls))
			return err
		},
	}
	addCollectionFlags(cmd.Flags())
	cmd.Flags().BoolVar(&openFailed, "open-failed", false, "open failed mods in the system default browser")
	return cmd
}

// loadEntries reads every progress entry and releases the store
func loadEntries(path string) (map[domain.WorkItem]domain.ProgressEntry, error) {
	progress, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer progress.Close()
	return progress.Load()
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the progress file so every mod is downloaded again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !yes && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("Delete %s?", cfg.Progress.File)) {
				fmt.Fprintln(out, "Cancelled.")
				return nil
			}
			removed, err := store.Reset(cfg.Progress.File)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(out, "Deleted %s\n", cfg.Progress.File)
			} else {
				fmt.Fprintf(out, "Nothing to reset: %s does not exist\n", cfg.Progress.File)
			}
			return nil
		},
	}
	cmd.Flags().StringP("progress", "p", "", "progress file (.txt, .json or .db)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert a line-per-mod progress file into a structured one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				to = cfg.Progress.File
			}
			n, err := store.MigrateLines(from, to)
			if err != nil {
				return fmt.Errorf("failed to migrate progress: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d mods from %s to %s\n", n, from, to)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "downloaded_mods.txt", "line-per-mod progress file to read")
	cmd.Flags().StringVar(&to, "to", "", "structured progress file to write (default: configured progress file)")
	return cmd
}
