package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/menuboard/internal/db"
	"github.com/mschirtzinger/menuboard/internal/offline"
	"github.com/mschirtzinger/menuboard/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "maint",
	Short:   "Manage the offline cache buckets",
	Long: `Manage the offline cache coordinator's buckets in the local database.

Buckets are named <prefix>-static-<version> and <prefix>-dynamic-<version>.
Installing fetches every static manifest entry from offline.origin; activating
deletes every bucket that does not belong to the current version.`,
}

var cacheInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Pre-cache the static manifest entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd, func(_ *db.DB, c *offline.Coordinator) error {
			if err := c.Install(cmd.Context()); err != nil {
				fmt.Printf("%s Install of %s failed\n", ui.RenderFail("✗"), c.Names().Static)
				return err
			}
			fmt.Printf("%s Installed %s\n", ui.RenderPass("✓"), c.Names().Static)
			return nil
		})
	},
}

var cacheActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Delete buckets of other versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd, func(database *db.DB, c *offline.Coordinator) error {
			before, err := database.CacheStorage().Keys(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Activate(cmd.Context()); err != nil {
				return err
			}
			removed := 0
			for _, name := range before {
				if !c.Names().Current(name) {
					removed++
				}
			}
			fmt.Printf("%s Activated %s (%d old bucket(s) removed)\n", ui.RenderPass("✓"), c.Version(), removed)
			return nil
		})
	},
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bucket and pending-change status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd, func(database *db.DB, c *offline.Coordinator) error {
			ctx := cmd.Context()
			caches := database.CacheStorage()
			names := c.Names()

			fmt.Printf("\n%s\n", ui.RenderHeader("Offline cache"))
			fmt.Println(ui.RenderField("Version", c.Version()))
			fmt.Println(ui.RenderField("Origin", cfg.Offline.Origin))
			fmt.Println(ui.RenderField("Database", database.Path()))

			fmt.Printf("\n%s\n", ui.RenderHeader("Buckets"))
			for _, name := range []string{names.Static, names.Dynamic} {
				ok, err := caches.Has(ctx, name)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("  %s %s %s\n", ui.RenderWarn("⚠"), name, ui.RenderMuted("(missing)"))
					continue
				}
				n, err := caches.EntryCount(ctx, name)
				if err != nil {
					return err
				}
				fmt.Printf("  %s %s (%d entries)\n", ui.RenderPass("✓"), name, n)
			}

			all, err := caches.Keys(ctx)
			if err != nil {
				return err
			}
			for _, name := range all {
				if !names.Current(name) {
					fmt.Printf("  %s %s %s\n", ui.RenderWarn("⚠"), name, ui.RenderMuted("(stale, run 'mb cache activate')"))
				}
			}

			pending, err := database.PendingQueue().Pending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\n%s\n", ui.RenderField("Pending", fmt.Sprintf("%d change(s)", len(pending))))
			fmt.Println()
			return nil
		})
	},
}

var cacheBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List bucket names, optionally with their entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, _ := cmd.Flags().GetBool("entries")
		return withDatabase(cmd, func(database *db.DB) error {
			ctx := cmd.Context()
			caches := database.CacheStorage()
			names, err := caches.Keys(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
				if !entries {
					continue
				}
				bucket, err := caches.Open(ctx, name)
				if err != nil {
					return err
				}
				keys, err := bucket.Keys(ctx)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Printf("  %s\n", ui.RenderMuted(k))
				}
			}
			return nil
		})
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge [bucket...]",
	Short: "Delete the named buckets, or every bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(database *db.DB) error {
			ctx := cmd.Context()
			caches := database.CacheStorage()
			names := args
			if len(names) == 0 {
				all, err := caches.Keys(ctx)
				if err != nil {
					return err
				}
				names = all
			}
			var missing []string
			for _, name := range names {
				ok, err := caches.Delete(ctx, name)
				if err != nil {
					return err
				}
				if !ok {
					missing = append(missing, name)
					continue
				}
				fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), name)
			}
			if len(missing) > 0 {
				return fmt.Errorf("no such bucket: %s", strings.Join(missing, ", "))
			}
			return nil
		})
	},
}

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run background sync over the queued offline changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd, func(database *db.DB, c *offline.Coordinator) error {
			pending, err := database.PendingQueue().Pending(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Sync(cmd.Context(), offline.SyncTag); err != nil {
				return err
			}
			fmt.Printf("%s Synced %d change(s)\n", ui.RenderPass("✓"), len(pending))
			return nil
		})
	},
}

func init() {
	cacheBucketsCmd.Flags().Bool("entries", false, "list the request keys in each bucket")
	cacheCmd.AddCommand(cacheInstallCmd, cacheActivateCmd, cacheStatusCmd, cacheBucketsCmd, cachePurgeCmd, cacheSyncCmd)
	rootCmd.AddCommand(cacheCmd)
}

func withDatabase(cmd *cobra.Command, fn func(*db.DB) error) error {
	database, err := openDatabase(cmd.Context())
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(database)
}

// withCoordinator runs fn with a coordinator over the local database.
func withCoordinator(cmd *cobra.Command, fn func(*db.DB, *offline.Coordinator) error) error {
	return withDatabase(cmd, func(database *db.DB) error {
		c, _, err := newCoordinator(database, nil, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil && !errors.Is(err, offline.ErrRedundant) {
				logs.Logger("cache").Printf("Warning: %v", err)
			}
		}()
		return fn(database, c)
	})
}
