package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/livelyrics/bandlink/internal/db"
	"github.com/livelyrics/bandlink/internal/store"
)

var flagLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list recent join-code hand-offs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Open(flagDB)
		if err != nil {
			return err
		}

		transfers, err := store.NewTransferStore(conn).Recent(flagLimit)
		if err != nil {
			return err
		}
		if len(transfers) == 0 {
			fmt.Println("No transfers yet")
			return nil
		}

		for _, tr := range transfers {
			when := time.Unix(tr.CompletedAt, 0).Format("2006-01-02 15:04")
			peer := tr.PeerName
			if peer == "" {
				peer = tr.SenderID
			}
			fmt.Printf("%s  %-8s  %s  (%s)\n", when, tr.Direction, tr.ContentID, peer)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum number of entries to show")
}
