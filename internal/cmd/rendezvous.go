package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/livelyrics/bandlink/internal/logger"
	"github.com/livelyrics/bandlink/internal/rendezvous"
)

var flagListen string

var rendezvousCmd = &cobra.Command{
	Use:   "rendezvous",
	Short: "run a rendezvous relay for the webrtc transport",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger()

		srv, err := rendezvous.NewServer(flagListen, log)
		if err != nil {
			return err
		}

		ctx, restore := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer restore()

		go func() {
			<-ctx.Done()
			_ = srv.Shutdown()
		}()

		if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rendezvousCmd.Flags().StringVar(&flagListen, "listen", ":7654", "address to listen on")
}
