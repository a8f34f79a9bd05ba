// Package jt808 decodes the length-prefixed binary terminal protocol:
// 0x7E-framed, byte-stuffed, XOR-checksummed frames with a packed-decimal
// terminal identity of 6 (standard) or 8 (legacy) bytes.
package jt808

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"trackcore/internal/protocol"
)

const protoName = "jt808"

// Message kinds.
const (
	msgRegister   uint16 = 0x0100
	msgLocation   uint16 = 0x0200
	msgHeartbeat  uint16 = 0x0002
	msgHeartbeat2 uint16 = 0x0003 // nominally unregistration, used as keepalive in the field

	msgRegisterAck uint16 = 0x8100
	msgGeneralAck  uint16 = 0x8001
)

// Reply serials are fixed rather than maintained per session; deployed
// terminals accept them and changing them would alter observable wire
// behavior.
const (
	registerAckSerial uint16 = 0x0001
	generalAckSerial  uint16 = 0x0002
)

const minFrameLen = 13

type Decoder struct{}

func NewDecoder() *Decoder { return &Decoder{} }

// Decode parses one frame. Replies for registration, location, and keepalive
// kinds are attached to the returned packet, built through the same escape and
// checksum routine used here for verification.
func (d *Decoder) Decode(data []byte) (*protocol.Packet, error) {
	raw := hex.EncodeToString(data)
	if len(data) < minFrameLen {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrTooShort}
	}
	if data[0] != Marker || data[len(data)-1] != Marker {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrBadFraming}
	}

	body := Unescape(data[1 : len(data)-1])
	if len(body) < 12 {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrTooShort}
	}
	if Checksum(body[:len(body)-1]) != body[len(body)-1] {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrChecksumMismatch}
	}

	msgID := binary.BigEndian.Uint16(body[0:2])
	props := binary.BigEndian.Uint16(body[2:4])
	bodyLen := int(props & 0x03FF)
	subPackaged := props>>13&1 == 1

	// The header layout is MsgID(2) + Props(2) + TerminalID(?) + Serial(2),
	// but no field states the terminal-id width. It is inferred from the
	// arithmetic: total unescaped = header + declared body + checksum(1), so
	// idWidth = total - bodyLen - 1 - 6. Only 6 and 8 are legal.
	idWidth := len(body) - bodyLen - 1 - 6
	if idWidth != 6 && idWidth != 8 {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrUnknownTerminalID}
	}

	terminalID := body[4 : 4+idWidth]
	imei := strings.TrimPrefix(bcdString(terminalID[:6]), "0")
	serial := binary.BigEndian.Uint16(body[4+idWidth : 6+idWidth])
	content := body[6+idWidth : len(body)-1]

	pkt := &protocol.Packet{
		Protocol: protoName,
		DeviceID: imei,
		Serial:   serial,
		Raw:      raw,
		Status:   map[string]interface{}{"terminal_id_width": idWidth},
	}
	if subPackaged {
		pkt.Status["sub_packaged"] = true
	}

	switch msgID {
	case msgRegister:
		pkt.Kind = protocol.KindLogin
		pkt.Reply = registrationAck(serial, terminalID)
	case msgLocation:
		if err := parseLocation(content, pkt); err != nil {
			return nil, &protocol.DecodeError{Proto: protoName, Kind: "location", Raw: raw, Err: err}
		}
		pkt.Kind = protocol.KindLocation
		pkt.Reply = generalAck(msgID, serial, terminalID)
	case msgHeartbeat, msgHeartbeat2:
		pkt.Kind = protocol.KindHeartbeat
		pkt.Reply = generalAck(msgID, serial, terminalID)
	default:
		pkt.Kind = protocol.KindUnknown
		pkt.Status["message_id"] = msgID
	}
	return pkt, nil
}

// parseLocation decodes a 0x0200 body:
// alarm(4) status(4) lat(4) lon(4) altitude(2) speed(2) heading(2) bcdTime(6).
func parseLocation(body []byte, pkt *protocol.Packet) error {
	if len(body) < 28 {
		return protocol.ErrTooShort
	}
	fix := &protocol.Fix{
		Latitude:  float64(binary.BigEndian.Uint32(body[8:12])) / 1e6,
		Longitude: float64(binary.BigEndian.Uint32(body[12:16])) / 1e6,
		Altitude:  float64(binary.BigEndian.Uint16(body[16:18])),
		Speed:     float64(binary.BigEndian.Uint16(body[18:20])) / 10.0,
		Course:    float64(binary.BigEndian.Uint16(body[20:22])),
	}
	pkt.Status["alarm_flags"] = binary.BigEndian.Uint32(body[0:4])
	pkt.Status["status_flags"] = binary.BigEndian.Uint32(body[4:8])

	if ts, ok := parseBCDTime(body[22:28]); ok {
		fix.Timestamp = ts
		fix.Valid = true
		fix.Source = "gps"
	}
	pkt.Fix = fix
	return nil
}

// parseBCDTime decodes a packed-decimal YYMMDDhhmmss timestamp as UTC.
func parseBCDTime(b []byte) (time.Time, bool) {
	s := bcdString(b)
	if len(s) != 12 {
		return time.Time{}, false
	}
	var parts [6]int
	for i := 0; i < 6; i++ {
		n, err := strconv.Atoi(s[i*2 : i*2+2])
		if err != nil {
			return time.Time{}, false
		}
		parts[i] = n
	}
	mo := parts[1]
	if mo < 1 || mo > 12 || parts[2] < 1 || parts[2] > 31 || parts[3] > 23 || parts[4] > 59 || parts[5] > 59 {
		return time.Time{}, false
	}
	return time.Date(2000+parts[0], time.Month(mo), parts[2], parts[3], parts[4], parts[5], 0, time.UTC), true
}

// registrationAck builds a 0x8100 response: serial(2) + result(1) + auth code,
// reusing the terminal identity exactly as received.
func registrationAck(serial uint16, terminalID []byte) []byte {
	body := binary.BigEndian.AppendUint16(nil, serial)
	body = append(body, 0x00) // success
	body = append(body, '1')  // auth code
	return buildFrame(msgRegisterAck, terminalID, registerAckSerial, body)
}

// generalAck builds a 0x8001 platform response: ackSerial(2) + ackMsgID(2) +
// result(1).
func generalAck(ackMsgID, ackSerial uint16, terminalID []byte) []byte {
	body := binary.BigEndian.AppendUint16(nil, ackSerial)
	body = binary.BigEndian.AppendUint16(body, ackMsgID)
	body = append(body, 0x00)
	return buildFrame(msgGeneralAck, terminalID, generalAckSerial, body)
}
