package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lawsker/lawsker/internal/store"
)

const runsTimeout = 10 * time.Second

func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the completed demo run counter",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the number of completed demo runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCounter(cmd.Context(), opts, func(ctx context.Context, c store.Counter) error {
				n, err := c.Count(ctx)
				if err != nil {
					return fmt.Errorf("read run counter: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Completed demo runs: %d\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Set the completed demo run counter back to zero",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCounter(cmd.Context(), opts, func(ctx context.Context, c store.Counter) error {
				if err := c.Reset(ctx); err != nil {
					return fmt.Errorf("reset run counter: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Completed demo runs reset to 0")
				return nil
			})
		},
	})

	return cmd
}

// withCounter opens the configured counter store for the duration of fn.
func withCounter(ctx context.Context, opts *rootOptions, fn func(context.Context, store.Counter) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.loadConfig(".")
	if err != nil {
		return err
	}

	counter, err := store.Open(cfg.Store, opts.logger)
	if err != nil {
		return fmt.Errorf("open run counter: %w", err)
	}
	defer counter.Close()

	ctx, cancel := context.WithTimeout(ctx, runsTimeout)
	defer cancel()
	return fn(ctx, counter)
}
