package model

import (
	"strings"
	"time"
	"trackcore/internal/core/util"
)

// Device is a tracked terminal, keyed by the identity its protocol reports
// (IMEI for text terminals, BCD terminal id for binary ones).
type Device struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UniqueID   string    `json:"uniqueId"`
	Status     string    `json:"status"`
	Protocol   string    `json:"protocol"`
	LastUpdate time.Time `json:"lastUpdate"`
	PositionID string    `json:"positionId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Movement   string    `json:"movement,omitempty"`
}

// NewDevice auto-provisions a device record for an identity seen on the wire
// for the first time. Auto-provisioned devices start active; deactivation is
// an administrative action and frames from deactivated devices are rejected.
func NewDevice(uniqueID, protocol string) *Device {
	return &Device{
		ID:         util.GenerateID(),
		Name:       "Device " + uniqueID,
		UniqueID:   uniqueID,
		Status:     "active",
		Protocol:   protocol,
		LastUpdate: time.Now(),
		CreatedAt:  time.Now(),
	}
}

// IsActive reports whether the device may submit telemetry.
func (d *Device) IsActive() bool {
	return d.Status == "active"
}

// NewTestDevice creates a pre-activated device for tests.
func NewTestDevice(uniqueID string) *Device {
	return &Device{
		ID:         uniqueID,
		Name:       "Test Device",
		UniqueID:   uniqueID,
		Status:     "active",
		Protocol:   "test",
		LastUpdate: time.Now(),
		CreatedAt:  time.Now(),
	}
}

// IsTestDevice checks if this is a test device
func (d *Device) IsTestDevice() bool {
	return strings.HasPrefix(d.UniqueID, "test-") || strings.HasPrefix(d.UniqueID, "demo-")
}
