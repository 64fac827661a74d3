package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type DeviceStore struct {
	DB *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{DB: db}
}

// Get returns the stored device row, or nil when none exists yet.
func (ds *DeviceStore) Get() (*Device, error) {
	var device Device
	err := ds.DB.First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (ds *DeviceStore) Create(uid, displayName string) (*Device, error) {
	device := Device{
		UID:         uid,
		DisplayName: displayName,
		CreatedAt:   time.Now().Unix(),
	}
	if err := ds.DB.Create(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (ds *DeviceStore) SetDisplayName(name string) error {
	return ds.DB.Model(&Device{}).Where("1 = 1").Update("display_name", name).Error
}
