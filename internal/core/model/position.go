package model

import (
	"time"
	"trackcore/internal/core/util"
)

// Position is the canonical location record produced by the ingestion
// pipeline, regardless of which wire protocol carried it.
type Position struct {
	ID         string                 `json:"id"`
	DeviceID   string                 `json:"deviceId"`
	Timestamp  time.Time              `json:"timestamp"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	Altitude   float64                `json:"altitude"`
	Speed      float64                `json:"speed"`  // km/h
	Course     float64                `json:"course"` // degrees
	Protocol   string                 `json:"protocol"`
	Valid      bool                   `json:"valid"`
	Satellites int                    `json:"satellites,omitempty"`
	Source     string                 `json:"source"` // gps or lbs
	Accuracy   float64                `json:"accuracy,omitempty"`
	Address    string                 `json:"address,omitempty"`
	Matched    bool                   `json:"matched"` // snapped to road network
	AlarmType  string                 `json:"alarmType,omitempty"`
	Status     map[string]interface{} `json:"status,omitempty"`
}

func NewPosition(deviceID, protocol string, lat, lon float64) *Position {
	return &Position{
		ID:        util.GenerateID(),
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Latitude:  lat,
		Longitude: lon,
		Protocol:  protocol,
		Valid:     true,
		Source:    "gps",
		Status:    make(map[string]interface{}),
	}
}
