package ingest

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const uplinkPrefix = "track.uplink."

// Uplink is the event published for every persisted position or committed
// state change. Subject is track.uplink.<kind> plus track.uplink.all.
type Uplink struct {
	Kind      string    `json:"kind"`
	Protocol  string    `json:"protocol,omitempty"`
	DeviceID  string    `json:"deviceId"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Course    float64   `json:"course,omitempty"`
	Movement  string    `json:"movement,omitempty"`
	Address   string    `json:"address,omitempty"`
	AlarmType string    `json:"alarmType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster fans decoded events out on the bus. A nil connection disables
// publishing; ingestion never depends on the bus being up.
type Broadcaster struct {
	nc  *nats.Conn
	log *slog.Logger
}

func NewBroadcaster(nc *nats.Conn, log *slog.Logger) *Broadcaster {
	return &Broadcaster{nc: nc, log: log.With("component", "broadcaster")}
}

func (b *Broadcaster) Publish(event *Uplink) {
	if b.nc == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error("failed to marshal uplink event", "error", err)
		return
	}

	if err := b.nc.Publish(uplinkPrefix+event.Kind, data); err != nil {
		b.log.Warn("uplink publish failed", "subject", uplinkPrefix+event.Kind, "error", err)
	}
	if err := b.nc.Publish(uplinkPrefix+"all", data); err != nil {
		b.log.Warn("uplink publish failed", "subject", uplinkPrefix+"all", "error", err)
	}
}
