// Package commands implements the lawsker CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lawsker/lawsker/internal/config"
)

// Version is set at build time with -ldflags "-X ...commands.Version=...".
var Version = "0.1.0-dev"

// rootOptions carries the persistent flags and the logger built from them.
type rootOptions struct {
	configPath string
	verbose    bool
	logger     *zap.Logger
}

// NewRootCmd builds the lawsker command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "lawsker",
		Short: "Lawsker demo site server",
		Long: `lawsker serves the Lawsker demo pages and drives the guided
business-flow demo on the server.

Run "lawsker serve" to start the site with the embedded pages, or
"lawsker serve ./site" to serve a directory from disk.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logger != nil {
				return nil
			}
			zcfg := zap.NewProductionConfig()
			if opts.verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to lawsker.yaml (default: lawsker.yaml in the site directory)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newInitCmd(),
		newRoutesCmd(opts),
		newRunsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads --config when given, otherwise lawsker.yaml from dir, then
// applies LAWSKER_* environment overrides.
func (o *rootOptions) loadConfig(dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lawsker version %s\n", Version)
		},
	}
}
