package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/store"
	"github.com/aikogroup/aiko-gpt-sub001/internal/pipeline"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <thread-id>",
		Short: "Print the latest checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			e, _, _, err := a.threadEngine(ctx, args[0])
			if err != nil {
				return err
			}
			snap, err := e.Inspect(ctx, args[0])
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), snap)
		},
	}
}

func newRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <thread-id>",
		Short: "Continue a thread interrupted mid-run",
		Long:  "Continue a thread whose last checkpoint is still running, for example after a crash or Ctrl-C.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			e, _, _, err := a.threadEngine(ctx, args[0])
			if err != nil {
				return err
			}
			snap, err := e.Recover(ctx, args[0])
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), snap)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List threads with their pipeline and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			ids, err := a.store.List(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No threads found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "THREAD\tPIPELINE\tSTATUS\tPENDING\tREVISION")
			for _, id := range ids {
				cp, err := a.store.Get(ctx, id)
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", id, cp.Config[pipeline.ConfigPipeline], cp.Status,
					strings.Join(cp.PendingNodes, ","), cp.Revision)
			}
			return w.Flush()
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>...",
		Short: "Delete one or more threads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			var errs []error
			for _, id := range args {
				e, _, _, err := a.threadEngine(ctx, id)
				if err == nil {
					err = e.Delete(ctx, id)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

func newPipelinesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List available pipelines and their review gates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range a.registry.Names() {
				p, err := a.registry.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n  %s\n", p.Name, p.Description)
				g := p.Build(pipeline.Deps{})
				for _, node := range g.Nodes() {
					if field, ok := p.Gates[node]; ok {
						fmt.Fprintf(out, "  gate %s (decision field %s)\n", node, field)
					}
				}
			}
			return nil
		},
	}
}

// printSnapshot writes snap as indented JSON.
func printSnapshot(w io.Writer, snap graph.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
