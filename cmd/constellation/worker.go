package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/content"
	"github.com/odvcencio/constellation/pkg/errors"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Host content workers for an engine on a NATS bus",
	Long: `Attaches to the NATS bus and answers spawn requests from any engine on it,
running the script and layout workers of each pipeline in this process. Several
workers share the load through a queue group.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if url, _ := cmd.Flags().GetString("nats-url"); url != "" {
			cfg.Transport.NATS.URL = url
		}
		log := newLogger(cfg).Component("worker")

		b, err := bus.NewNATSBus(bus.Config{
			URL:     cfg.Transport.NATS.URL,
			Name:    cfg.Transport.NATS.Name + "-worker",
			Timeout: cfg.Transport.NATS.RequestTimeout,
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeTransportBroken, "connect to NATS").
				WithContext("url", cfg.Transport.NATS.URL)
		}
		defer b.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		host := content.NewHost(b, content.Options{
			MaxWorkers: cfg.Content.MaxWorkers,
			SlowDelay:  cfg.Content.SlowDelay,
			Logger:     log,
		})
		if err := host.Start(ctx); err != nil {
			return errors.Wrap(err, errors.ErrCodeTransportBroken, "start content host")
		}
		defer host.Close()

		log.Info("content worker ready", "nats", cfg.Transport.NATS.URL, "max_workers", cfg.Content.MaxWorkers)
		<-ctx.Done()
		log.Info("content worker stopping", "live", host.Live())
		return nil
	},
}

func init() {
	workerCmd.Flags().String("nats-url", "", "Override transport.nats.url")
	rootCmd.AddCommand(workerCmd)
}
