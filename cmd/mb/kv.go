package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/menuboard/internal/kvstore"
	"github.com/mschirtzinger/menuboard/internal/ui"
)

var kvCmd = &cobra.Command{
	Use:     "kv",
	GroupID: "data",
	Short:   "Read and write the persistent key-value store",
	Long: `Operate on the persistent key-value store as one browsing context.

Values are JSON. Writes are published on the configured bus, so other
contexts (a running 'mb serve', or 'mb kv watch' in another terminal when the
bus is spool or redis) see them immediately.`,
}

var kvGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the JSON stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *kvstore.Store) error {
			raw, ok := s.Read(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("key %s not found", args[0])
			}
			fmt.Println(string(raw))
			return nil
		})
	},
}

var kvSetCmd = &cobra.Command{
	Use:   "set <key> <json>",
	Short: "Store a JSON value under a key",
	Example: `  mb kv set cart-items '[{"id":"dal-makhani","quantity":2}]'
  mb kv set tier '"takeaway"'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("value is not valid JSON: %s", args[1])
		}
		return withStore(cmd, func(s *kvstore.Store) error {
			if !s.Write(cmd.Context(), args[0], json.RawMessage(args[1])) {
				return fmt.Errorf("failed to persist %s (see log)", args[0])
			}
			fmt.Printf("%s Set %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var kvAppendCmd = &cobra.Command{
	Use:   "update-append <key> <json>",
	Short: "Append a JSON element to the array stored under a key",
	Long: `Apply a transform to the stored value: read the array under key (an empty
array when missing or malformed), append the element, and write it back.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("element is not valid JSON: %s", args[1])
		}
		return withStore(cmd, func(s *kvstore.Store) error {
			v := kvstore.Open(cmd.Context(), s, args[0], []json.RawMessage{})
			defer v.Close()
			v.Update(cmd.Context(), func(prev []json.RawMessage) []json.RawMessage {
				next := append([]json.RawMessage(nil), prev...)
				return append(next, json.RawMessage(args[1]))
			})
			fmt.Printf("%s %s now has %d element(s)\n", ui.RenderPass("✓"), args[0], len(v.Get()))
			return nil
		})
	},
}

var kvRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *kvstore.Store) error {
			s.Delete(cmd.Context(), args[0])
			fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var kvListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *kvstore.Store) error {
			keys, err := s.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		})
	},
}

var kvWatchCmd = &cobra.Command{
	Use:   "watch <key>",
	Short: "Print changes to a key made by other contexts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *kvstore.Store) error {
			cancel := s.Watch(args[0], func(ev kvstore.StorageEvent) {
				if ev.NewValue == nil {
					fmt.Printf("%s %s removed\n", ui.RenderWarn("-"), ev.Key)
					return
				}
				fmt.Printf("%s %s = %s\n", ui.RenderAccent("~"), ev.Key, *ev.NewValue)
			})
			defer cancel()

			fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)...\n", s.Key(args[0]))
			<-cmd.Context().Done()
			return nil
		})
	},
}

func init() {
	kvCmd.AddCommand(kvGetCmd, kvSetCmd, kvAppendCmd, kvRmCmd, kvListCmd, kvWatchCmd)
	rootCmd.AddCommand(kvCmd)
}

// withStore opens a browsing context for the duration of fn.
func withStore(cmd *cobra.Command, fn func(*kvstore.Store) error) error {
	ctx := cmd.Context()
	var cl closers
	defer cl.Close()

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	cl.add(database)

	store, err := openStore(ctx, database, &cl)
	if err != nil {
		return err
	}
	return fn(store)
}
