package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dropwire/dropwire/internal/logger"
	"github.com/dropwire/dropwire/internal/relay"
)

var relayAddrFlag string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "run a signaling relay server",
	Long:  `run the rendezvous relay that pairs two peers by room code and forwards their signaling blobs`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.New()

		srv, err := relay.NewServer(relay.Config{Addr: relayAddrFlag, Logger: log})
		if err != nil {
			log.Fatal(err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			_ = srv.Shutdown()
		}()

		if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayAddrFlag, "addr", relay.DefaultAddr, "listen address")
}
