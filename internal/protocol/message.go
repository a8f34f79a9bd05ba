package protocol

import "time"

// PacketKind classifies a decoded frame independently of the wire format it
// arrived in.
type PacketKind string

const (
	KindLogin     PacketKind = "login"
	KindLocation  PacketKind = "location"
	KindHeartbeat PacketKind = "heartbeat"
	KindAlarm     PacketKind = "alarm"
	KindLbsFix    PacketKind = "lbs"
	KindBatch     PacketKind = "batch"
	KindConfigAck PacketKind = "config_ack"
	KindUnknown   PacketKind = "unknown"
)

// Fix is one position sample. Valid reports whether the device claimed a
// satellite fix; Source records where the coordinates came from (GPS, LBS
// provider name, or empty when no coordinates exist).
type Fix struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Speed      float64 // km/h
	Course     float64
	Timestamp  time.Time
	Valid      bool
	Source     string
	Accuracy   float64
	Satellites uint8
}

// HasCoordinates reports whether the fix actually carries a position, either
// a valid satellite fix or one resolved through a cell-tower provider.
// Timestamp-only fixes (alarm frames, unresolved cell reports) have neither.
func (f *Fix) HasCoordinates() bool {
	return f != nil && (f.Valid || f.Source != "")
}

// Packet is the canonical result of decoding one frame. Every kind except
// KindUnknown carries a non-empty DeviceID, with one exception: GT06 location
// frames identify the device only at login, so their DeviceID may be empty and
// the ingest path stores them as unattributable.
type Packet struct {
	Kind      PacketKind
	Protocol  string // "hq", "jt808", "gt06"
	DeviceID  string
	Serial    uint16
	Fix       *Fix
	AlarmType string
	Status    map[string]interface{}
	Reply     []byte // outbound bytes, nil when no acknowledgement is due
	Records   []*Packet
	Raw       string
}

// StatusValue returns a named status field or nil.
func (p *Packet) StatusValue(key string) interface{} {
	if p.Status == nil {
		return nil
	}
	return p.Status[key]
}
