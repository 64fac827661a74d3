package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/livelyrics/bandlink/internal/protocol"
	"github.com/livelyrics/bandlink/internal/session"
	"github.com/livelyrics/bandlink/internal/store"
)

var flagWait time.Duration

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "wait for a nearby device to send a band join code",
	Long:  `receive makes this device visible to nearby senders and prints the join code it is handed`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, restore := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer restore()
		if flagWait > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, flagWait)
			defer cancel()
		}

		watch := a.manager.Watch()
		if err := a.manager.StartAdvertising(ctx); err != nil {
			return err
		}
		defer a.manager.StopAdvertising()

		fmt.Printf("Waiting as %q, press Ctrl-C to stop...\n", a.self.DisplayName)

		inv, err := waitForInvite(ctx, watch)
		if err != nil {
			return err
		}

		if err := a.transfers.Record(inv.ContentID, inv.ContentType, inv.SenderID, store.DirectionReceived, ""); err != nil {
			a.logger.Warnf("Failed to record transfer: %v", err)
		}
		if inv.ContentType == protocol.ContentTypeBand {
			fmt.Printf("Received band join code: %s\n", inv.ContentID)
		} else {
			fmt.Printf("Received %s invitation: %s\n", inv.ContentType, inv.ContentID)
		}
		return nil
	},
}

func init() {
	receiveCmd.Flags().DurationVar(&flagWait, "wait", 0, "give up after this long (0 waits until Ctrl-C)")
}

func waitForInvite(ctx context.Context, watch <-chan session.Snapshot) (*protocol.Invite, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case snap, ok := <-watch:
			if !ok {
				return nil, errors.New("session closed")
			}
			if snap.Received != nil {
				return snap.Received, nil
			}
			if snap.Err != nil {
				return nil, snap.Err
			}
		}
	}
}
