package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/livelyrics/bandlink/internal/protocol"
	"github.com/livelyrics/bandlink/internal/session"
	"github.com/livelyrics/bandlink/internal/store"
)

var flagPeer string

var sendCmd = &cobra.Command{
	Use:   "send join_code",
	Short: "send a band join code to a nearby device",
	Long:  `send browses for nearby devices in receive mode, invites one, and hands it the band join code`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, restore := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer restore()

		inv := &protocol.Invite{
			ContentID:   args[0],
			ContentType: protocol.ContentTypeBand,
			SenderID:    a.self.ID,
		}
		if err := inv.Validate(); err != nil {
			return err
		}
		a.manager.SetOutgoing(inv)

		watch := a.manager.Watch()
		if err := a.manager.StartBrowsing(ctx); err != nil {
			return err
		}
		defer a.manager.StopBrowsing()

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Searching for nearby devices"),
			progressbar.OptionSpinnerType(14),
		)
		target, err := waitForPeer(ctx, watch, bar)
		_ = bar.Finish()
		if err != nil {
			return err
		}

		fmt.Printf("\nInviting %s...\n", target.DisplayName)
		if err := a.manager.Invite(ctx, target.ID); err != nil {
			return err
		}

		// The staged join code goes out as soon as the peer accepts.
		if err := waitForDelivery(ctx, watch); err != nil {
			return err
		}
		if err := a.transfers.Record(inv.ContentID, inv.ContentType, inv.SenderID, store.DirectionSent, target.DisplayName); err != nil {
			a.logger.Warnf("Failed to record transfer: %v", err)
		}
		fmt.Printf("Join code delivered to %s\n", target.DisplayName)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&flagPeer, "peer", "", "display name or ID of the device to invite (default: first found)")
}

func waitForPeer(ctx context.Context, watch <-chan session.Snapshot, bar *progressbar.ProgressBar) (session.Peer, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return session.Peer{}, ctx.Err()
		case <-ticker.C:
			_ = bar.Add(1)
		case snap, ok := <-watch:
			if !ok {
				return session.Peer{}, errors.New("session closed")
			}
			if snap.Err != nil {
				return session.Peer{}, snap.Err
			}
			for _, p := range snap.Peers {
				if flagPeer == "" || p.DisplayName == flagPeer || p.ID == flagPeer {
					return p, nil
				}
			}
		}
	}
}

func waitForDelivery(ctx context.Context, watch <-chan session.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-watch:
			if !ok {
				return errors.New("session closed")
			}
			if snap.Outcome == session.OutcomeCompleted {
				return nil
			}
			if snap.Err != nil {
				return snap.Err
			}
		}
	}
}
