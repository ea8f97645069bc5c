package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/problemdex"
	"github.com/kailas-cloud/problemdex/internal/version"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the category vocabulary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			cats, err := ix.Categories(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), cats)
			}
			for _, c := range cats {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document counts by category and recency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			snap, err := ix.Stats(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(w, snap)
			}
			fmt.Fprintf(w, "%s: %d documents (%s, %s)\n", ix.Collection(), snap.Total, ix.Backend(), ix.ModelName())
			for _, c := range snap.Categories() {
				fmt.Fprintf(w, "  %-32s %d\n", c, snap.ByCategory[c])
			}
			for _, win := range snap.Windows {
				fmt.Fprintf(w, "%s: %d\n", win.Period.Name, win.Total)
				cats := make([]string, 0, len(win.ByCategory))
				for c := range win.ByCategory {
					cats = append(cats, c)
				}
				sort.Strings(cats)
				for _, c := range cats {
					fmt.Fprintf(w, "  %-32s %d\n", c, win.ByCategory[c])
				}
			}
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every document of the collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			if err := ix.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", ix.Collection())
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the store and embedding model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			rep := ix.Health(ctx)
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d documents)\n", rep.Status, rep.Documents)
			for name, res := range rep.Checks {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %s\n", name, res)
			}
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "problemctl %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(categoriesCmd, statsCmd, clearCmd, healthCmd, versionCmd)
}
