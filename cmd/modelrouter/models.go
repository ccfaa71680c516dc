package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"modelrouter/internal/cache"
	"modelrouter/internal/registry"
	"modelrouter/internal/store"
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and edit the model catalogue without starting the server",
	}

	var subject string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(ctx context.Context, st *store.Store, reg *registry.Registry) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSUBJECT\tKIND\tPRIORITY\tUSES\tLAST USED\tLOCATION")
				for _, d := range reg.List(registry.Filter{Subject: subject}) {
					last := "never"
					if !d.LastUsedAt.IsZero() {
						last = humanize.Time(d.LastUsedAt)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", d.ID, d.Subject, d.Kind, d.Priority,
						humanize.Comma(d.UsageCount), last, d.Location)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&subject, "subject", "", "Only list models for this subject")

	var d registry.Descriptor
	register := &cobra.Command{
		Use:     "register ID LOCATION",
		Short:   "Register a model file, manifest or server URL",
		Args:    cobra.ExactArgs(2),
		Example: "  modelrouter models register algebra ~/models/math/algebra.gguf --subject math --priority 2",
		RunE: func(cmd *cobra.Command, args []string) error {
			d.ID, d.Location = args[0], args[1]
			return a.withRegistry(cmd.Context(), func(ctx context.Context, st *store.Store, reg *registry.Registry) error {
				got, err := reg.Register(ctx, d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s, subject %s)\n", got.ID, got.Kind, got.Subject)
				return nil
			})
		},
	}
	rf := register.Flags()
	rf.StringVar(&d.Subject, "subject", "", "Subject the model specializes in")
	rf.IntVar(&d.Priority, "priority", 1, "Selection priority within the subject")
	rf.StringVar(&d.Kind, "kind", "", "Runtime kind (inferred from the location when empty)")
	rf.IntVar(&d.MaxIdleSec, "max-idle", 0, "Per-model idle timeout in seconds")
	rf.IntVar(&d.MemoryHintMB, "memory-mb", 0, "Expected memory footprint in MB")
	_ = register.MarkFlagRequired("subject")

	deregister := &cobra.Command{
		Use:   "deregister ID",
		Short: "Remove a model from the catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(ctx context.Context, st *store.Store, reg *registry.Registry) error {
				id := args[0]
				if err := reg.Deregister(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deregistered %s\n", id)
				if !a.cfg.CacheOn() {
					return nil
				}
				// a snapshot of a removed model can never be restored
				c, err := cache.Open(ctx, a.cfg.CacheConfig(), st, cache.WithLogger(a.log))
				if err != nil {
					return err
				}
				if c.Invalidate(ctx, id) {
					fmt.Fprintf(cmd.OutOrStdout(), "dropped cached snapshot of %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, register, deregister)
	return cmd
}

func (a *app) withRegistry(ctx context.Context, fn func(context.Context, *store.Store, *registry.Registry) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	st, err := store.Open(ctx, a.cfg.StatePath())
	if err != nil {
		return err
	}
	defer st.Close()
	reg, err := registry.Open(ctx, st, registry.WithLogger(a.log))
	if err != nil {
		return err
	}
	return fn(ctx, st, reg)
}
