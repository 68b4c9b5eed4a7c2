package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lawsker/lawsker/internal/assets"
	"github.com/lawsker/lawsker/internal/config"
)

func newInitCmd() *cobra.Command {
	var force, withSite bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default lawsker.yaml",
		Long: `Write lawsker.yaml with the default route table, redirects and demo
settings into dir (default: current directory).

With --with-site the embedded pages are copied next to it and the config
serves them from disk with hot reload, ready for editing.`,
		Example: `  lawsker init
  lawsker init ./site --with-site
  lawsker serve ./site`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}

			cfgPath := filepath.Join(dir, "lawsker.yaml")
			if err := checkWritable(cfgPath, force); err != nil {
				return err
			}

			cfg := config.DefaultConfig()
			if withSite {
				n, err := copySite(dir, assets.SiteFS(), force)
				if err != nil {
					return err
				}
				cfg.Site.Dir = "."
				cfg.Features.HotReload = true
				fmt.Fprintf(cmd.OutOrStdout(), "Copied %d site files into %s\n", n, dir)
			}

			if err := cfg.Save(cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", cfgPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")
	cmd.Flags().BoolVar(&withSite, "with-site", false, "copy the embedded pages and serve them from disk")
	return cmd
}

func checkWritable(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// copySite writes every file of site under dst and returns how many it wrote.
func copySite(dst string, site fs.FS, force bool) (int, error) {
	n := 0
	err := fs.WalkDir(site, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if err := checkWritable(target, force); err != nil {
			return err
		}
		data, err := fs.ReadFile(site, p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		n++
		return nil
	})
	return n, err
}
