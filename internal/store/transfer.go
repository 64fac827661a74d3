package store

import (
	"time"

	"gorm.io/gorm"
)

type TransferStore struct {
	DB *gorm.DB
}

func NewTransferStore(db *gorm.DB) *TransferStore {
	return &TransferStore{DB: db}
}

func (ts *TransferStore) Record(contentID, contentType, senderID, direction, peerName string) error {
	transfer := Transfer{
		ContentID:   contentID,
		ContentType: contentType,
		SenderID:    senderID,
		Direction:   direction,
		PeerName:    peerName,
		CompletedAt: time.Now().Unix(),
	}
	return ts.DB.Create(&transfer).Error
}

// Recent returns the newest transfers first, at most limit rows.
func (ts *TransferStore) Recent(limit int) ([]Transfer, error) {
	var transfers []Transfer
	err := ts.DB.Order("completed_at desc, id desc").Limit(limit).Find(&transfers).Error
	return transfers, err
}
