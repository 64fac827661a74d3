// Package identity assigns this machine a stable device identity used
// in invites and discovery announcements.
package identity

import (
	"os"

	"github.com/google/uuid"

	"github.com/livelyrics/bandlink/internal/store"
	"github.com/livelyrics/bandlink/internal/transport"
)

// Load returns the persisted identity, creating one on first run. The
// default display name is the machine hostname.
func Load(ds *store.DeviceStore) (transport.Identity, error) {
	device, err := ds.Get()
	if err != nil {
		return transport.Identity{}, err
	}
	if device == nil {
		name, err := os.Hostname()
		if err != nil || name == "" {
			name = "bandlink device"
		}
		device, err = ds.Create(uuid.NewString(), name)
		if err != nil {
			return transport.Identity{}, err
		}
	}
	return transport.Identity{ID: device.UID, DisplayName: device.DisplayName}, nil
}
