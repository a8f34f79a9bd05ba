package model

import (
	"time"
	"trackcore/internal/core/util"
)

// StateChange records one committed movement transition for a device.
type StateChange struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewStateChange(deviceID, from, to string) *StateChange {
	return &StateChange{
		ID:        util.GenerateID(),
		DeviceID:  deviceID,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	}
}
