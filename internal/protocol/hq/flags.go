package hq

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// FlagMeta describes one bit of the 32-bit status/alarm field.
type FlagMeta struct {
	Name string
	Desc string
}

// Flag bit positions used directly by the decoder.
const (
	bitACC = 1
	bitSOS = 3
)

// flagTable maps bit index to metadata. Vendor docs for this field are thin;
// the names follow the fleet we actually see in production.
var flagTable = map[int]FlagMeta{
	0:  {"acc_on", "ACC (ignition) ON"},
	1:  {"gps_fixed", "GPS position valid/fix"},
	2:  {"charging", "External power / charging"},
	3:  {"sos", "SOS / emergency alarm"},
	4:  {"overspeed", "Overspeed alarm"},
	5:  {"gps_tamper", "GPS antenna tamper/cut"},
	6:  {"low_battery", "Low internal battery"},
	7:  {"power_cut", "External power cut"},
	8:  {"tamper", "Device tamper"},
	9:  {"geofence", "Geofence breach"},
	10: {"input1", "Digital input 1"},
	11: {"input2", "Digital input 2"},
	12: {"relay_on", "Relay/immobilizer active"},
	13: {"gps_disabled", "GPS disabled/standby"},
	14: {"acc_alarm", "ACC tamper/rapid on-off"},
	15: {"pir_alarm", "Motion/PIR alarm"},
	16: {"seatbelt", "Seatbelt status"},
	17: {"backup_batt_low", "Backup battery low"},
	18: {"oil_cut", "Oil/electronic fuel cut"},
	19: {"door_open", "Door open"},
	20: {"tilt_alarm", "Tilt/rollover alarm"},
	21: {"shock_alarm", "Vibration/shock alarm"},
	22: {"temperature_alarm", "Temperature sensor alarm"},
}

// FlagName returns the metadata name for a bit, or a bit_N placeholder for
// reserved/vendor-specific positions.
func FlagName(bit int) string {
	if m, ok := flagTable[bit]; ok {
		return m.Name
	}
	return "bit_" + itoa(bit)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [2]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

// FlagBit is one decoded bit of the field.
type FlagBit struct {
	Bit   int    `json:"bit"`
	Value bool   `json:"value"`
	Name  string `json:"name"`
	Desc  string `json:"desc"`
}

// ParseFlags decodes a hex string such as "fbfffbff" into its 32-bit value and
// per-bit map. These trackers transmit the word little-endian; bigEndian exists
// for the few models that do not. Garbage input degrades to an all-zero field,
// never an error.
func ParseFlags(raw string, bigEndian bool) (uint32, map[int]FlagBit) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			return r
		}
		return -1
	}, raw)
	if len(cleaned)%2 == 1 {
		cleaned = "0" + cleaned
	}

	b, err := hex.DecodeString(cleaned)
	if err != nil {
		b = nil
	}
	for len(b) < 4 {
		b = append(b, 0)
	}
	b = b[:4]

	var value uint32
	if bigEndian {
		value = binary.BigEndian.Uint32(b)
	} else {
		value = binary.LittleEndian.Uint32(b)
	}

	bits := make(map[int]FlagBit, 32)
	for i := 0; i < 32; i++ {
		meta := flagTable[i]
		name := meta.Name
		if name == "" {
			name = FlagName(i)
		}
		bits[i] = FlagBit{
			Bit:   i,
			Value: value>>uint(i)&1 == 1,
			Name:  name,
			Desc:  meta.Desc,
		}
	}
	return value, bits
}
