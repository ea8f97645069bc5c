package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex"
	"github.com/kailas-cloud/problemdex/internal/usecase/ingest"
)

var (
	ingestFile  string
	ingestClear bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load records from a JSONL file (one record per line, - for stdin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if ingestFile != "-" {
			f, err := os.Open(ingestFile)
			if err != nil {
				return fmt.Errorf("open %s: %w", ingestFile, err)
			}
			defer f.Close() //nolint:errcheck
			in = f
		}
		records, err := ingest.ReadJSONL(in)
		if err != nil {
			return err
		}

		return withIndex(cmd, func(ctx context.Context, ix *problemdex.Index) error {
			if ingestClear {
				if err := ix.Clear(ctx); err != nil {
					return fmt.Errorf("clear: %w", err)
				}
				logger.Info("collection cleared", zap.String("collection", ix.Collection()))
			}

			rep, err := ix.Add(ctx, records)
			if err != nil {
				return err
			}
			return printIngestReport(cmd.OutOrStdout(), len(records), &rep)
		})
	},
}

func printIngestReport(w io.Writer, received int, rep *problemdex.IngestReport) error {
	failed := rep.Failed()
	if jsonOut {
		type chunk struct {
			Offset int    `json:"offset"`
			Size   int    `json:"size"`
			Error  string `json:"error"`
		}
		out := struct {
			Received int     `json:"received"`
			Added    int     `json:"added"`
			Failed   []chunk `json:"failed,omitempty"`
		}{Received: received, Added: rep.Added}
		for _, c := range failed {
			out.Failed = append(out.Failed, chunk{Offset: c.Offset, Size: c.Size, Error: c.Err.Error()})
		}
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "added %d of %d records\n", rep.Added, received)
	for _, c := range failed {
		fmt.Fprintf(w, "  skipped records %d-%d: %v\n", c.Offset, c.Offset+c.Size-1, c.Err)
	}
	return nil
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "JSONL file to load")
	ingestCmd.Flags().BoolVar(&ingestClear, "clear", false, "Clear the collection first")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
