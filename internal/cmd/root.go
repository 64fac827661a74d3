// Package cmd wires the bandlink CLI: share a band join code with a
// nearby device over the local network.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/livelyrics/bandlink/internal/db"
	"github.com/livelyrics/bandlink/internal/identity"
	"github.com/livelyrics/bandlink/internal/logger"
	"github.com/livelyrics/bandlink/internal/rendezvous"
	"github.com/livelyrics/bandlink/internal/session"
	"github.com/livelyrics/bandlink/internal/store"
	"github.com/livelyrics/bandlink/internal/transport"
	"github.com/livelyrics/bandlink/internal/transport/lan"
	"github.com/livelyrics/bandlink/internal/transport/webrtc"
)

var (
	flagDB         string
	flagName       string
	flagTransport  string
	flagRendezvous string
	flagStun       []string
	flagTimeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:  `bandlink`,
	Long: `bandlink hands a band join code to a nearby device`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", defaultDBPath(), "path to the local database")
	rootCmd.PersistentFlags().StringVar(&flagName, "name", "", "display name to advertise")
	rootCmd.PersistentFlags().StringVar(&flagTransport, "transport", "lan", "transport to use (lan or webrtc)")
	rootCmd.PersistentFlags().StringVar(&flagRendezvous, "rendezvous", "", "rendezvous relay address for the webrtc transport")
	rootCmd.PersistentFlags().StringSliceVar(&flagStun, "stun", nil, "STUN server URLs for the webrtc transport")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "how long an invite waits for acceptance")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(rendezvousCmd)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "bandlink.db"
	}
	return filepath.Join(home, ".bandlink", "bandlink.db")
}

// app holds everything a command needs after setup.
type app struct {
	logger    *logrus.Logger
	self      transport.Identity
	transport transport.Transport
	manager   *session.Manager
	transfers *store.TransferStore
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func setup(cmd *cobra.Command) (*app, error) {
	log := logger.NewLogger()

	if err := os.MkdirAll(filepath.Dir(flagDB), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	conn, err := db.Open(flagDB)
	if err != nil {
		return nil, err
	}

	deviceStore := store.NewDeviceStore(conn)
	self, err := identity.Load(deviceStore)
	if err != nil {
		return nil, fmt.Errorf("loading device identity: %w", err)
	}
	if flagName != "" {
		if err := deviceStore.SetDisplayName(flagName); err != nil {
			return nil, fmt.Errorf("saving display name: %w", err)
		}
		self.DisplayName = flagName
	}

	a := &app{
		logger:    log,
		self:      self,
		transfers: store.NewTransferStore(conn),
	}

	switch flagTransport {
	case "lan":
		a.transport = lan.New(log)
	case "webrtc":
		if flagRendezvous == "" {
			return nil, fmt.Errorf("the webrtc transport needs --rendezvous")
		}
		relay, err := rendezvous.DialClient(cmd.Context(), flagRendezvous, self.ID, self.DisplayName, log)
		if err != nil {
			return nil, fmt.Errorf("dialing rendezvous relay: %w", err)
		}
		a.closers = append(a.closers, relay.Close)
		a.transport = webrtc.New(relay, flagStun, log)
	default:
		return nil, fmt.Errorf("unknown transport %q", flagTransport)
	}
	a.closers = append(a.closers, a.transport.Close)

	a.manager = session.NewManager(session.Config{
		Transport:     a.transport,
		Self:          self,
		Logger:        log,
		InviteTimeout: flagTimeout,
	})
	return a, nil
}
