package hq

import (
	"errors"
	"math"
	"testing"
	"time"

	"trackcore/internal/lbs"
	"trackcore/internal/protocol"
)

type fakeCells struct {
	calls int
	last  [4]int
	loc   *lbs.Location
}

func (f *fakeCells) Resolve(mcc, mnc, lac, cid int) *lbs.Location {
	f.calls++
	f.last = [4]int{mcc, mnc, lac, cid}
	return f.loc
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDecodeV1(t *testing.T) {
	d := NewDecoder(nil)
	pkt, err := d.Decode([]byte("*HQ,123456789012345,V1,120000,A,2940.9263,N,05123.4567,E,50.0,180.0,201125,FFFFFFFF,432,35,1234,5678#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if pkt.Kind != protocol.KindLocation {
		t.Errorf("Kind = %v, want location", pkt.Kind)
	}
	if pkt.DeviceID != "123456789012345" {
		t.Errorf("DeviceID = %q", pkt.DeviceID)
	}
	if !pkt.Fix.Valid {
		t.Error("Fix.Valid = false, want true")
	}
	if !almostEqual(pkt.Fix.Latitude, 29.682105) {
		t.Errorf("Latitude = %v, want 29.682105", pkt.Fix.Latitude)
	}
	if !almostEqual(pkt.Fix.Longitude, 51.390945) {
		t.Errorf("Longitude = %v, want 51.390945", pkt.Fix.Longitude)
	}
	if pkt.Fix.Speed != 92.6 {
		t.Errorf("Speed = %v, want 92.6", pkt.Fix.Speed)
	}
	if pkt.Fix.Course != 180.0 {
		t.Errorf("Course = %v, want 180", pkt.Fix.Course)
	}
	want := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	if !pkt.Fix.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", pkt.Fix.Timestamp, want)
	}

	// FFFFFFFF sets every bit, including ACC and SOS.
	if pkt.Status["acc_on"] != true {
		t.Error("acc_on not set")
	}
	if pkt.AlarmType != "sos" {
		t.Errorf("AlarmType = %q, want sos", pkt.AlarmType)
	}
	if pkt.Status["voltage_mv"] != 432 {
		t.Errorf("voltage_mv = %v, want 432", pkt.Status["voltage_mv"])
	}
	if pkt.Status["voltage_v"] != 0.432 {
		t.Errorf("voltage_v = %v, want 0.432", pkt.Status["voltage_v"])
	}
	if pkt.Status["gsm_signal"] != 35 {
		t.Errorf("gsm_signal = %v, want 35", pkt.Status["gsm_signal"])
	}
}

func TestDecodeV1SouthWest(t *testing.T) {
	d := NewDecoder(nil)
	pkt, err := d.Decode([]byte("*HQ,123456789012345,V1,120000,A,2940.9263,S,05123.4567,W,0.0,0.0,201125,0#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pkt.Fix.Latitude >= 0 {
		t.Errorf("Latitude = %v, want negative for S", pkt.Fix.Latitude)
	}
	if pkt.Fix.Longitude >= 0 {
		t.Errorf("Longitude = %v, want negative for W", pkt.Fix.Longitude)
	}
}

func TestDecodeV1LBSFallback(t *testing.T) {
	cells := &fakeCells{loc: &lbs.Location{Lat: 29.5, Lon: 51.2, Accuracy: 800, Provider: "opencellid"}}
	d := NewDecoder(cells)

	pkt, err := d.Decode([]byte("*HQ,123456789012345,V1,120000,V,0000.0000,N,00000.0000,E,0.0,0.0,201125,0,3850,21,4321,8765#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if cells.calls != 1 {
		t.Fatalf("Resolve called %d times, want 1", cells.calls)
	}
	if cells.last != [4]int{432, 1, 4321, 8765} {
		t.Errorf("Resolve args = %v, want default MCC/MNC with frame LAC/CID", cells.last)
	}
	if pkt.Fix.Valid {
		t.Error("Fix.Valid = true, want false")
	}
	if pkt.Fix.Latitude != 29.5 || pkt.Fix.Longitude != 51.2 {
		t.Errorf("coordinates = (%v, %v), want resolver result", pkt.Fix.Latitude, pkt.Fix.Longitude)
	}
	if pkt.Fix.Source != "opencellid" {
		t.Errorf("Source = %q, want opencellid", pkt.Fix.Source)
	}
}

func TestDecodeV1ValidFixSkipsLBS(t *testing.T) {
	cells := &fakeCells{loc: &lbs.Location{Lat: 1, Lon: 1}}
	d := NewDecoder(cells)

	_, err := d.Decode([]byte("*HQ,123456789012345,V1,120000,A,2940.9263,N,05123.4567,E,1.0,0.0,201125,0,3850,21,4321,8765#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if cells.calls != 0 {
		t.Errorf("Resolve called %d times for a valid fix, want 0", cells.calls)
	}
}

func TestDecodeV1BadCoordinate(t *testing.T) {
	d := NewDecoder(nil)
	_, err := d.Decode([]byte("*HQ,123456789012345,V1,120000,A,xxxx.yyyy,N,05123.4567,E,0.0,0.0,201125,0#"))
	if !errors.Is(err, protocol.ErrFieldParse) {
		t.Errorf("error = %v, want ErrFieldParse", err)
	}
}

func TestDecodeV0(t *testing.T) {
	cells := &fakeCells{loc: &lbs.Location{Lat: 25.5, Lon: 44.1, Provider: "pseudo"}}
	d := NewDecoder(cells)

	pkt, err := d.Decode([]byte("*HQ,123456789012345,V0,120000,201125,432,35,1234,5678#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pkt.Kind != protocol.KindLbsFix {
		t.Errorf("Kind = %v, want lbs", pkt.Kind)
	}
	if cells.last != [4]int{432, 35, 1234, 5678} {
		t.Errorf("Resolve args = %v", cells.last)
	}
	if pkt.Fix.Latitude != 25.5 {
		t.Errorf("Latitude = %v, want 25.5", pkt.Fix.Latitude)
	}
}

func TestDecodeV2Alarm(t *testing.T) {
	d := NewDecoder(nil)
	// Bit 3 set in little-endian order: 0x08 in the first byte.
	pkt, err := d.Decode([]byte("*HQ,123456789012345,V2,120000,S,08000000,201125#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pkt.Kind != protocol.KindAlarm {
		t.Errorf("Kind = %v, want alarm", pkt.Kind)
	}
	if pkt.AlarmType != "sos" {
		t.Errorf("AlarmType = %q, want sos", pkt.AlarmType)
	}
}

func TestDecodeHeartbeatVoltage(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		key   string
		want  interface{}
	}{
		{"millivolts", "*HQ,123456789012345,HB,120000,4000,25#", "voltage_v", 4.0},
		{"percent", "*HQ,123456789012345,HB,120000,85,25#", "voltage_percent", 85.0},
		{"raw guess", "*HQ,123456789012345,HB,120000,385.5,25#", "voltage_v", 385.5},
	}

	d := NewDecoder(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := d.Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if pkt.Kind != protocol.KindHeartbeat {
				t.Fatalf("Kind = %v, want heartbeat", pkt.Kind)
			}
			if got := pkt.Status[tt.key]; got != tt.want {
				t.Errorf("Status[%q] = %v, want %v", tt.key, got, tt.want)
			}
			if pkt.Status["signal_strength"] != 25 {
				t.Errorf("signal_strength = %v, want 25", pkt.Status["signal_strength"])
			}
		})
	}
}

func TestDecodeKeepalive(t *testing.T) {
	d := NewDecoder(nil)
	for _, frame := range []string{"*HQ,123456789012345,XT#", "*HQ,123456789012345,HTBT#", "*HTBT#"} {
		pkt, err := d.Decode([]byte(frame))
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", frame, err)
		}
		if pkt.Kind != protocol.KindHeartbeat {
			t.Errorf("Decode(%q) Kind = %v, want heartbeat", frame, pkt.Kind)
		}
	}
}

func TestDecodeUpload(t *testing.T) {
	d := NewDecoder(nil)
	pkt, err := d.Decode([]byte("*HQ,123456789012345,UPLOAD,V1:120000:A:2940.9263:N:05123.4567:E:50.0:180.0:201125:0,V1:120100:A:2940.9300:N:05123.4600:E:48.0:181.0:201125:0#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pkt.Kind != protocol.KindBatch {
		t.Fatalf("Kind = %v, want batch", pkt.Kind)
	}
	if len(pkt.Records) != 2 {
		t.Fatalf("Records = %d, want 2", len(pkt.Records))
	}
	for i, rec := range pkt.Records {
		if rec.Kind != protocol.KindLocation {
			t.Errorf("Records[%d].Kind = %v, want location", i, rec.Kind)
		}
		if rec.DeviceID != "123456789012345" {
			t.Errorf("Records[%d].DeviceID = %q", i, rec.DeviceID)
		}
	}
	if string(pkt.Reply) != "*HQ,123456789012345,V4,UPLOAD#" {
		t.Errorf("Reply = %q", pkt.Reply)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"empty", "", protocol.ErrEmptyPacket},
		{"no imei", "*HQ#", protocol.ErrMalformedPacket},
		{"v1 too short", "*HQ,123456789012345,V1,120000#", protocol.ErrTooShort},
	}

	d := NewDecoder(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode([]byte(tt.frame))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	d := NewDecoder(nil)
	pkt, err := d.Decode([]byte("*HQ,123456789012345,ZZ,whatever#"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pkt.Kind != protocol.KindUnknown {
		t.Errorf("Kind = %v, want unknown", pkt.Kind)
	}
	if pkt.DeviceID != "123456789012345" {
		t.Errorf("DeviceID = %q", pkt.DeviceID)
	}
}

func TestParseFlags(t *testing.T) {
	value, bits := ParseFlags("08000000", false)
	if value != 0x08 {
		t.Fatalf("value = %#x, want 0x08", value)
	}
	if !bits[bitSOS].Value {
		t.Error("bit 3 (sos) not set")
	}
	if bits[bitACC].Value {
		t.Error("bit 1 set unexpectedly")
	}

	// Big-endian models transmit the same word byte-reversed.
	value, bits = ParseFlags("00000008", true)
	if value != 0x08 || !bits[bitSOS].Value {
		t.Errorf("big-endian value = %#x, sos = %v", value, bits[bitSOS].Value)
	}

	// Garbage degrades to zero, never an error.
	value, _ = ParseFlags("zz!!", false)
	if value != 0 {
		t.Errorf("garbage value = %#x, want 0", value)
	}
}
