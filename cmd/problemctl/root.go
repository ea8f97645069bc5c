package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex"
	"github.com/kailas-cloud/problemdex/internal/config"
	logpkg "github.com/kailas-cloud/problemdex/internal/logger"
)

var (
	verbose  bool
	jsonOut  bool
	envName  string
	category string
	limit    int
	techOnly bool

	logger *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "problemctl",
	Short: "Operate a problemdex collection",
	Long: `problemctl loads, queries and inspects the problem collection configured
for the selected environment (config/<env>.yaml), without going through the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logpkg.NewCLI(verbose)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger = l
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&envName, "env", config.GetEnv(), "Configuration environment")
}

// addQueryFlags registers the result filters shared by search, browse and sample.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&category, "category", "c", problemdex.AllCategories, "Restrict to one category")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().BoolVar(&techOnly, "tech-only", false, "Apply the configured tag allow-list")
}

func queryOptions() []problemdex.QueryOption {
	opts := []problemdex.QueryOption{problemdex.InCategory(category)}
	if limit > 0 {
		opts = append(opts, problemdex.Limit(limit))
	}
	if techOnly {
		opts = append(opts, problemdex.TechOnly())
	}
	return opts
}

// openIndex opens the collection configured for --env.
func openIndex(ctx context.Context) (*problemdex.Index, error) {
	cfg, err := config.Load(envName)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	ix, err := problemdex.Open(ctx, problemdex.FromConfig(cfg), problemdex.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return ix, nil
}

// withIndex opens the index, runs fn and closes the index.
func withIndex(cmd *cobra.Command, fn func(ctx context.Context, ix *problemdex.Index) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ix, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			logger.Warn("close index", zap.Error(err))
		}
	}()
	return fn(ctx, ix)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
