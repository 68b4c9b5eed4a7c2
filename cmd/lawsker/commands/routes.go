package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lawsker/lawsker/internal/assets"
	"github.com/lawsker/lawsker/internal/server"
)

func newRoutesCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "routes [dir]",
		Short: "Print the route table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			cfg, err := opts.loadConfig(dir)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			entries := server.Table(cfg)
			site, _, err := openSite(cfg.Site.Dir)
			if err != nil {
				return err
			}
			if err := reportSiteMismatches(cmd.ErrOrStderr(), entries, site); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tKIND\tTARGET\tSTATUS")
			for _, e := range entries {
				target := e.Target
				if target == "" {
					target = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.Path, e.Kind, target, e.Status)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the table as JSON")
	return cmd
}

// reportSiteMismatches warns about page routes whose file is missing from
// site and about root pages that no route or block names. Unrouted pages are
// still served under their file name.
func reportSiteMismatches(w io.Writer, entries []server.Entry, site fs.FS) error {
	routed := make(map[string]bool)
	for _, e := range entries {
		if e.Kind == "blocked" {
			routed[strings.TrimPrefix(e.Path, "/")] = true
			continue
		}
		if e.Kind != "page" {
			continue
		}
		routed[e.Target] = true
		if _, err := fs.Stat(site, e.Target); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(w, "warning: %s: %s not found in site\n", e.Path, e.Target)
		}
	}

	pages, err := assets.Pages(site)
	if err != nil {
		return fmt.Errorf("list site pages: %w", err)
	}
	for _, p := range pages {
		if !routed[p] {
			fmt.Fprintf(w, "warning: %s is not routed; only /%s serves it\n", p, p)
		}
	}
	return nil
}
