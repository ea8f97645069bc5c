package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/problemdex"
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Rank problems by similarity to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			resp, err := ix.Search(ctx, query, queryOptions()...)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), &resp)
		})
	},
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List problems in insertion order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			resp, err := ix.Browse(ctx, queryOptions()...)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), &resp)
		})
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Show a diverse sample drawn through the configured sample queries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			resp, err := ix.Sample(ctx, queryOptions()...)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), &resp)
		})
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar ID",
	Short: "Rank problems by similarity to a stored problem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			resp, err := ix.Similar(ctx, args[0], queryOptions()...)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), &resp)
		})
	},
}

type resultView struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Category  string   `json:"category"`
	SourceURL string   `json:"source_url,omitempty"`
	Score     *float64 `json:"similarity_score,omitempty"`
}

type groupView struct {
	Category string       `json:"category"`
	Results  []resultView `json:"results"`
}

func printResponse(w io.Writer, resp *problemdex.Response) error {
	groups := resp.Groups()
	if jsonOut {
		out := make([]groupView, len(groups))
		for i, g := range groups {
			out[i] = groupView{Category: g.Category, Results: make([]resultView, len(g.Results))}
			for j := range g.Results {
				r := &g.Results[j]
				v := resultView{
					ID: r.ID(), Title: r.Title(), Summary: r.Summary(),
					Category: r.Category(), SourceURL: r.Source().URL,
				}
				if s, ok := r.Score(); ok {
					v.Score = &s
				}
				out[i].Results[j] = v
			}
		}
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "%d results (%s)\n", len(resp.Results), resp.Mode)
	for _, g := range groups {
		fmt.Fprintf(w, "\n%s\n", g.Category)
		for j := range g.Results {
			r := &g.Results[j]
			if s, ok := r.Score(); ok {
				fmt.Fprintf(w, "  %.3f  %s\n", s, r.Title())
			} else {
				fmt.Fprintf(w, "         %s\n", r.Title())
			}
			if u := r.Source().URL; u != "" {
				fmt.Fprintf(w, "         %s\n", u)
			}
		}
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, browseCmd, sampleCmd, similarCmd} {
		addQueryFlags(c)
		rootCmd.AddCommand(c)
	}
}
