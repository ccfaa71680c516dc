package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"modelrouter/internal/cache"
	"modelrouter/internal/store"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the model snapshot cache",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List cached snapshots and cache utilization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(cmd.Context(), func(ctx context.Context, c *cache.Cache) error {
				out := cmd.OutOrStdout()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MODEL\tSIZE\tHITS\tFORMAT\tCREATED\tLAST ACCESS")
				for _, e := range c.Entries() {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", e.ModelID, humanize.IBytes(uint64(e.SizeBytes)),
						e.AccessCount, e.Format, humanize.Time(e.CreatedAt), humanize.Time(e.LastAccessedAt))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				s := c.Stats()
				fmt.Fprintf(out, "\n%d/%d entries, %s of %s (%.1f%%)\n", s.Entries, s.MaxEntries,
					humanize.IBytes(uint64(s.SizeBytes)), humanize.IBytes(uint64(s.MaxBytes)), s.Utilization*100)
				return nil
			})
		},
	}

	invalidate := &cobra.Command{
		Use:   "invalidate MODEL...",
		Short: "Drop cached snapshots for the given models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(cmd.Context(), func(ctx context.Context, c *cache.Cache) error {
				for _, id := range args {
					if c.Invalidate(ctx, id) {
						fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", id)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: not cached\n", id)
					}
				}
				return nil
			})
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash cached blobs and drop corrupt or stale entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(cmd.Context(), func(ctx context.Context, c *cache.Cache) error {
				n := c.Verify(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "verified, %d entries removed\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(list, invalidate, verify)
	return cmd
}

func (a *app) withCache(ctx context.Context, fn func(context.Context, *cache.Cache) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	st, err := store.Open(ctx, a.cfg.StatePath())
	if err != nil {
		return err
	}
	defer st.Close()
	c, err := cache.Open(ctx, a.cfg.CacheConfig(), st, cache.WithLogger(a.log))
	if err != nil {
		return err
	}
	return fn(ctx, c)
}
