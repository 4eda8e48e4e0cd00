package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/checkpoint"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

var (
	cacheBackend string
	pruneMaxAge  time.Duration
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the snapshot cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached snapshot keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		backend, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer closeCache(backend)
		keys, err := backend.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(stdout(cmd), k)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		backend, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer closeCache(backend)
		keys, err := backend.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := backend.Delete(cmd.Context(), k); err != nil {
				return err
			}
		}
		fmt.Fprintf(stdout(cmd), "deleted %d snapshots from %s\n", len(keys), backend.Name())
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete local snapshots older than --max-age",
	RunE: func(cmd *cobra.Command, _ []string) error {
		backend, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer closeCache(backend)
		local, ok := backend.(*checkpoint.LocalBackend)
		if !ok {
			return dfgerr.InvalidConfig("cache.backend", backend.Name(), "prune needs the local backend; redis and s3 expire by TTL")
		}
		n, err := local.Cleanup(pruneMaxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout(cmd), "pruned %d snapshots\n", n)
		return nil
	},
}

// openCache opens the configured backend, or the one named by --backend.
func openCache(cmd *cobra.Command) (checkpoint.Backend, error) {
	if cmd.Flags().Changed("backend") {
		cfg.Cache.Backend = cacheBackend
	}
	backend, err := checkpoint.Open(cmd.Context(), cfg.Cache)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, dfgerr.InvalidConfig("cache.backend", cfg.Cache.Backend, "no cache backend configured")
	}
	return backend, nil
}

func closeCache(b checkpoint.Backend) {
	if c, ok := b.(io.Closer); ok {
		_ = c.Close()
	}
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheBackend, "backend", "", "Cache backend (local, redis, s3)")
	cachePruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 7*24*time.Hour, "Age beyond which snapshots are deleted")
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
