// Command cachectl is the operator-facing tool for a resolver's cache
// file: count, stats, and clear, mirroring coremain/run.go's rootCmd —
// a cobra.Command tree, not part of the cache core's own API surface
// (SPEC_FULL.md §2.5, §5 supplement 6).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nakrul1134/knot-resolver/cache"
	"github.com/nakrul1134/knot-resolver/internal/backend/boltstore"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "cachectl",
	Short: "Inspect and manage a resolver's DNS cache file.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "path to the cache's bbolt file")
	rootCmd.AddCommand(countCmd, clearCmd)
}

func openHandle() (*cache.Handle, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("--db is required")
	}
	store, err := boltstore.Open(dbPath, boltstore.Options{})
	if err != nil {
		return nil, err
	}
	h, err := cache.Open(store, cache.Options{Logger: zap.NewNop()})
	if err != nil {
		store.Close()
		return nil, err
	}
	return h, nil
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of keys currently stored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()

		n, err := h.Count()
		if err != nil {
			return err
		}
		stats := h.Stats()
		fmt.Printf("keys: %d\nhit: %d\nmiss: %d\ninsert: %d\ndelete: %d\n",
			n, stats.Hit, stats.Miss, stats.Insert, stats.Delete)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase every cached entry and re-stamp the version key.",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandle()
		if err != nil {
			return err
		}
		defer h.Close()
		return h.Clear()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
