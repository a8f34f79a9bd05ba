// Package gt06 decodes the compact fixed-field binary protocol: 0x78 0x78
// start bytes, one declared-length byte, one message-kind byte, and a trailing
// serial + checksum + stop block that message content never includes. This
// device class receives no acknowledgements.
package gt06

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"trackcore/internal/protocol"
)

const protoName = "gt06"

const (
	startByte = 0x78
	minLength = 10
	// serial(2) + checksum(1) + stop(1) as sliced off the frame tail.
	trailerLen = 4
)

// Message kinds.
const (
	kindLogin     = 0x01
	kindLocation  = 0x12
	kindLocation2 = 0x22
	kindHeartbeat = 0x13
	kindAlarm     = 0x16
	kindAlarm2    = 0x26
)

// Coordinates arrive as unsigned 32-bit fixed-point scaled by 1,800,000
// (degrees times 60 times 30000). Kept exactly for compatibility with
// deployed firmware.
const coordScale = 1800000.0

type Decoder struct{}

func NewDecoder() *Decoder { return &Decoder{} }

// Decode parses one frame into a canonical packet. Location frames carry no
// terminal identity; only login frames do.
func (d *Decoder) Decode(data []byte) (*protocol.Packet, error) {
	raw := hex.EncodeToString(data)
	if len(data) < minLength {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrTooShort}
	}
	if data[0] != startByte || data[1] != startByte {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrBadFraming}
	}

	msgKind := data[3]
	content := data[4 : len(data)-trailerLen]

	pkt := &protocol.Packet{
		Protocol: protoName,
		Raw:      raw,
		Status:   map[string]interface{}{"declared_length": int(data[2])},
	}

	switch msgKind {
	case kindLogin:
		if len(content) < 8 {
			return nil, &protocol.DecodeError{Proto: protoName, Kind: "login", Raw: raw, Err: protocol.ErrTooShort}
		}
		pkt.Kind = protocol.KindLogin
		pkt.DeviceID = hex.EncodeToString(content[:8])

	case kindLocation, kindLocation2:
		if err := parseLocation(content, pkt); err != nil {
			return nil, &protocol.DecodeError{Proto: protoName, Kind: "location", Raw: raw, Err: err}
		}
		pkt.Kind = protocol.KindLocation

	case kindHeartbeat:
		if len(content) < 3 {
			return nil, &protocol.DecodeError{Proto: protoName, Kind: "heartbeat", Raw: raw, Err: protocol.ErrTooShort}
		}
		pkt.Kind = protocol.KindHeartbeat
		pkt.Status["status_byte"] = content[0]
		pkt.Status["battery_level"] = int(content[1])   // coarse 0-6
		pkt.Status["signal_strength"] = int(content[2]) // coarse 0-4

	case kindAlarm, kindAlarm2:
		pkt.Kind = protocol.KindAlarm
		pkt.AlarmType = "general"

	default:
		pkt.Kind = protocol.KindUnknown
		pkt.Status["message_kind"] = msgKind
	}
	return pkt, nil
}

// parseLocation decodes a location body: packed date-time(6), satellite
// nibble(1), lat(4), lon(4), speed(1), heading/status word(2).
func parseLocation(content []byte, pkt *protocol.Packet) error {
	if len(content) < 18 {
		return protocol.ErrTooShort
	}
	courseStatus := binary.BigEndian.Uint16(content[16:18])
	fix := &protocol.Fix{
		Satellites: content[6] & 0x0F,
		Latitude:   float64(binary.BigEndian.Uint32(content[7:11])) / coordScale,
		Longitude:  float64(binary.BigEndian.Uint32(content[11:15])) / coordScale,
		Speed:      float64(content[15]),
		Course:     float64(courseStatus & 0x03FF), // heading is the low 10 bits
		Valid:      true,
		Source:     "gps",
	}
	pkt.Status["course_status"] = courseStatus

	mo := int(content[1])
	day := int(content[2])
	if mo >= 1 && mo <= 12 && day >= 1 && day <= 31 {
		fix.Timestamp = time.Date(2000+int(content[0]), time.Month(mo), day,
			int(content[3]), int(content[4]), int(content[5]), 0, time.UTC)
	}
	pkt.Fix = fix
	return nil
}
