package store

// Device holds this machine's persistent identity. There is exactly
// one row.
type Device struct {
	ID          uint   `gorm:"primaryKey"`
	UID         string `gorm:"uniqueIndex"`
	DisplayName string
	CreatedAt   int64
}

// Transfer records one completed join-code hand-off, sent or received.
type Transfer struct {
	ID          uint `gorm:"primaryKey"`
	ContentID   string
	ContentType string
	SenderID    string
	Direction   string
	PeerName    string
	CompletedAt int64
}

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)
