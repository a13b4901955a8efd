package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/constellation/pkg/compositor"
	"github.com/odvcencio/constellation/pkg/embedder/server"
	"github.com/odvcencio/constellation/pkg/render/textmode"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the embedder API over HTTP",
	Long: `Runs the engine and exposes its commands and event stream over HTTP so a
browser chrome can drive it. Frames are kept in memory unless --tty draws the
first window on the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Server.Listen = listen
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		tty, _ := cmd.Flags().GetBool("tty")
		log := newLogger(cfg)

		var backend compositor.Backend = compositor.NewMemoryBackend(cfg.Server.EventBufferSize).KeepLast(64)
		if tty {
			backend = textmode.New(cmd.OutOrStdout(), textmode.Options{
				CellWidth:  cfg.Compositor.CellWidth,
				CellHeight: cfg.Compositor.CellHeight,
			})
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := newEngine(ctx, cfg, log, backend)
		if err != nil {
			return err
		}
		defer e.close()

		srv, err := server.New(server.Options{
			Controller:         e.constellation.Controller(),
			Events:             e.hub,
			Pointer:            e.compositor,
			Logger:             log,
			Listen:             cfg.Server.Listen,
			ReadHeaderTimeout:  cfg.Server.ReadHeaderTimeout,
			ShutdownTimeout:    cfg.Server.ShutdownTimeout,
			RequestBodyMaxSize: cfg.Server.RequestBodyMaxSize,
			AllowedOrigins:     cfg.Server.AllowedOrigins,
		})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		e.start(gctx, g)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		return ignoreCanceled(g.Wait())
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Override server.listen")
	serveCmd.Flags().Bool("tty", false, "Draw the first window on the terminal")
	rootCmd.AddCommand(serveCmd)
}
