package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lawsker/lawsker/internal/assets"
	"github.com/lawsker/lawsker/internal/config"
	"github.com/lawsker/lawsker/internal/output"
	"github.com/lawsker/lawsker/internal/sequencer"
	"github.com/lawsker/lawsker/internal/server"
	"github.com/lawsker/lawsker/internal/store"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	port  int
	host  string
	watch bool
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Start the demo site server",
		Long: `Serves the Lawsker pages and the demo API until interrupted.

Without a directory the embedded pages are served. With a directory, page
files are read from disk and --watch pushes reloads to open demo pages.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}

			configDir := dir
			if configDir == "" {
				configDir = "."
			}
			cfg, err := opts.loadConfig(configDir)
			if err != nil {
				return err
			}

			// CLI flags override config
			if dir != "" {
				cfg.Site.Dir = dir
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = flags.port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = flags.host
			}
			if cmd.Flags().Changed("watch") {
				cfg.Features.HotReload = flags.watch
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, opts.logger, cmd.OutOrStdout(), nil)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 8080, "port to listen on")
	cmd.Flags().StringVar(&flags.host, "host", "localhost", "host to bind")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "reload open pages when site files change")
	return cmd
}

// runServe runs the site until ctx is cancelled. listening, when set, is
// called with the bound address once the listener is open.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, listening func(addr string)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	site, siteDir, err := openSite(cfg.Site.Dir)
	if err != nil {
		return err
	}

	counter, err := store.Open(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open run counter: %w", err)
	}
	defer closeLogged(counter, "run counter", logger)

	steps, err := sequencer.StepsFromConfig(cfg.Demo.Steps)
	if err != nil {
		return fmt.Errorf("demo steps: %w", err)
	}
	if err := sequencer.RenderDescriptions(steps); err != nil {
		return err
	}
	seq := sequencer.New(sequencer.Options{
		Steps:        steps,
		Counter:      counter,
		Logger:       logger,
		StartDelay:   cfg.Demo.GetStartDelay(),
		AdvanceDelay: cfg.Demo.GetAdvanceDelay(),
		FinishDelay:  cfg.Demo.GetFinishDelay(),
	})
	defer seq.Close()

	outputs, err := output.RegistryFromConfig(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("notify outputs: %w", err)
	}
	defer closeLogged(outputs, "notify outputs", logger)

	srv := server.New(server.Options{
		Config:    cfg,
		Site:      site,
		SiteDir:   siteDir,
		Sequencer: seq,
		Counter:   counter,
		Outputs:   outputs,
		Logger:    logger,
	})
	defer closeLogged(srv, "server", logger)

	if cfg.Features.HotReload {
		if siteDir == "" {
			logger.Warn("hot reload ignored for the embedded site")
		} else if err := srv.EnableWatch(); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
	}

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	source := "embedded site"
	if siteDir != "" {
		source = siteDir
	}
	fmt.Fprintf(out, "Lawsker demo server\n\n")
	fmt.Fprintf(out, "Serving: %s\n", source)
	fmt.Fprintf(out, "Running at http://%s\n", ln.Addr())
	fmt.Fprintf(out, "Demo at http://%s/demo\n", ln.Addr())
	if cfg.Features.HotReload && siteDir != "" {
		fmt.Fprintf(out, "Watch mode enabled\n")
	}
	logger.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("site", source),
		zap.String("store", cfg.Store.GetDriver()),
		zap.Strings("outputs", outputs.Names()))
	if listening != nil {
		listening(ln.Addr().String())
	}

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return srv.NotifyCompletions(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not covered by Shutdown.
		closeLogged(srv, "server", logger)
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// closeLogged closes c during shutdown, logging instead of returning a
// failure so the remaining components still close.
func closeLogged(c io.Closer, name string, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", zap.String("component", name), zap.Error(err))
	}
}

// openSite returns the embedded site for an empty dir, otherwise the directory
// as a filesystem along with its absolute path.
func openSite(dir string) (fs.FS, string, error) {
	if dir == "" {
		return assets.SiteFS(), "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("directory does not exist: %s", dir)
		}
		return nil, "", err
	}
	if !info.IsDir() {
		return nil, "", fmt.Errorf("not a directory: %s", dir)
	}
	return os.DirFS(abs), abs, nil
}
