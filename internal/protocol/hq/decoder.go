package hq

import (
	"math"
	"strconv"
	"strings"
	"time"

	"trackcore/internal/lbs"
	"trackcore/internal/protocol"
)

const protoName = "hq"

// knotsToKmh converts the raw speed field these trackers report.
const knotsToKmh = 1.852

// Default network identity used when a packet carries only LAC/CID.
const (
	defaultMCC = 432
	defaultMNC = 1
)

// CellLocator resolves a cell-tower identity to an approximate location when
// the device has no satellite fix.
type CellLocator interface {
	Resolve(mcc, mnc, lac, cid int) *lbs.Location
}

type handlerFunc func(parts []string, raw string) (*protocol.Packet, error)

// Decoder parses the comma-delimited HQ text protocol. It is stateless apart
// from the cell locator the V1/V0 handlers fall back to.
type Decoder struct {
	cells         CellLocator
	bigEndianBits bool
	handlers      map[string]handlerFunc
}

// NewDecoder builds a text decoder. cells may be nil, in which case invalid
// fixes are recorded without coordinates.
func NewDecoder(cells CellLocator) *Decoder {
	d := &Decoder{cells: cells}
	d.handlers = map[string]handlerFunc{
		"V1":     d.handleV1,
		"V0":     d.handleV0,
		"V2":     d.handleV2,
		"V3":     d.handleV3,
		"HB":     d.handleHB,
		"SOS":    d.handleSOS,
		"UPLOAD": d.handleUpload,
		"CONFIG": d.handleConfig,
	}
	return d
}

// SetBigEndianFlags switches the 32-bit status field to big-endian byte order
// for tracker models that transmit it that way.
func (d *Decoder) SetBigEndianFlags(v bool) { d.bigEndianBits = v }

// Decode parses one text frame into a canonical packet. Handler failures come
// back as *protocol.DecodeError carrying the raw input and attempted type.
func (d *Decoder) Decode(data []byte) (*protocol.Packet, error) {
	raw := string(data)
	working := strings.TrimSpace(raw)
	if working == "" {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrEmptyPacket}
	}
	working = strings.TrimPrefix(working, "*")
	working = strings.TrimSuffix(working, "#")

	parts := strings.Split(working, ",")

	// Bare keepalive frames carry no identity at all.
	if working == "HTBT" {
		return d.handleKeepalive(nil, raw), nil
	}
	if len(parts) < 2 {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrMalformedPacket}
	}

	imei := parts[1]

	// Keepalive variants come before normal type dispatch.
	if len(parts) >= 3 && (parts[2] == "XT" || parts[2] == "HTBT") {
		return d.handleKeepalive(parts, raw), nil
	}

	if len(parts) < 3 {
		return nil, &protocol.DecodeError{Proto: protoName, Raw: raw, Err: protocol.ErrMalformedPacket}
	}
	pktType := parts[2]

	handler, ok := d.handlers[pktType]
	if !ok {
		return &protocol.Packet{
			Kind:     protocol.KindUnknown,
			Protocol: protoName,
			DeviceID: imei,
			Raw:      raw,
		}, nil
	}

	pkt, err := handler(parts, raw)
	if err != nil {
		return nil, err
	}
	pkt.Protocol = protoName
	pkt.DeviceID = imei
	pkt.Raw = raw
	return pkt, nil
}

// handleV1 parses a position report:
// *HQ,imei,V1,hhmmss,A,lat,N,lon,E,speed,course,ddmmyy,flags[,voltage,signal,lac,cid]#
func (d *Decoder) handleV1(parts []string, raw string) (*protocol.Packet, error) {
	if len(parts) < 12 {
		return nil, &protocol.DecodeError{Proto: protoName, Kind: "V1", Raw: raw, Err: protocol.ErrTooShort}
	}

	fix := &protocol.Fix{Valid: parts[4] == "A"}
	if ts, ok := parseTimeDate(parts[3], parts[11]); ok {
		fix.Timestamp = ts
	}
	if kn := safeFloat(parts[9]); kn != nil {
		fix.Speed = round2(*kn * knotsToKmh)
	}
	if c := safeFloat(parts[10]); c != nil {
		fix.Course = *c
	}

	status := make(map[string]interface{})
	accOn := false
	sos := false
	if len(parts) > 12 && parts[12] != "" {
		value, bits := ParseFlags(parts[12], d.bigEndianBits)
		status["flags_value"] = value
		status["flags"] = bits
		accOn = bits[bitACC].Value
		sos = bits[bitSOS].Value
	} else {
		status["flags_value"] = uint32(0)
	}
	status["acc_on"] = accOn

	// Trailing voltage/signal/LAC/CID block; only trusted when all four parse.
	var lac, cid *int
	if len(parts) >= 17 {
		vmv := safeInt(parts[13])
		sig := safeInt(parts[14])
		l := safeInt(parts[15])
		c := safeInt(parts[16])
		if vmv != nil && sig != nil && l != nil && c != nil {
			status["voltage_mv"] = *vmv
			status["voltage_v"] = round3(float64(*vmv) / 1000.0)
			status["gsm_signal"] = *sig
			status["lac"] = *l
			status["cid"] = *c
			lac, cid = l, c
		}
	}

	if fix.Valid {
		lat, ok := dmToDD(parts[5], parts[6])
		if !ok {
			return nil, protocol.FieldError(protoName, "V1", "latitude", raw)
		}
		lon, ok := dmToDD(parts[7], parts[8])
		if !ok {
			return nil, protocol.FieldError(protoName, "V1", "longitude", raw)
		}
		if lat < -90 || lat > 90 {
			return nil, protocol.FieldError(protoName, "V1", "latitude", raw)
		}
		if lon < -180 || lon > 180 {
			return nil, protocol.FieldError(protoName, "V1", "longitude", raw)
		}
		fix.Latitude = lat
		fix.Longitude = lon
		fix.Source = "gps"
	} else if lac != nil && cid != nil && d.cells != nil {
		if loc := d.cells.Resolve(defaultMCC, defaultMNC, *lac, *cid); loc != nil {
			fix.Latitude = loc.Lat
			fix.Longitude = loc.Lon
			fix.Accuracy = loc.Accuracy
			fix.Source = loc.Provider
		}
	}

	pkt := &protocol.Packet{Kind: protocol.KindLocation, Fix: fix, Status: status}
	if sos {
		pkt.AlarmType = "sos"
	}
	return pkt, nil
}

// handleV0 parses an LBS-only report:
// *HQ,imei,V0,hhmmss,ddmmyy,mcc,mnc,lac,cid#
func (d *Decoder) handleV0(parts []string, raw string) (*protocol.Packet, error) {
	if len(parts) < 9 {
		return nil, &protocol.DecodeError{Proto: protoName, Kind: "V0", Raw: raw, Err: protocol.ErrTooShort}
	}

	fix := &protocol.Fix{Valid: false}
	if ts, ok := parseTimeDate(parts[3], parts[4]); ok {
		fix.Timestamp = ts
	}

	status := make(map[string]interface{})
	mcc := safeInt(parts[5])
	mnc := safeInt(parts[6])
	lac := safeInt(parts[7])
	cid := safeInt(parts[8])
	for k, v := range map[string]*int{"mcc": mcc, "mnc": mnc, "lac": lac, "cid": cid} {
		if v != nil {
			status[k] = *v
		}
	}

	if mcc != nil && mnc != nil && lac != nil && cid != nil && d.cells != nil {
		if loc := d.cells.Resolve(*mcc, *mnc, *lac, *cid); loc != nil {
			fix.Latitude = loc.Lat
			fix.Longitude = loc.Lon
			fix.Accuracy = loc.Accuracy
			fix.Source = loc.Provider
		}
	} else {
		status["location_resolved_via"] = "insufficient_lbs"
	}

	return &protocol.Packet{Kind: protocol.KindLbsFix, Fix: fix, Status: status}, nil
}

// handleV2 parses an alarm/status report:
// *HQ,imei,V2,hhmmss,status,alarm,ddmmyy#
func (d *Decoder) handleV2(parts []string, raw string) (*protocol.Packet, error) {
	if len(parts) < 7 {
		return nil, &protocol.DecodeError{Proto: protoName, Kind: "V2", Raw: raw, Err: protocol.ErrTooShort}
	}

	status := make(map[string]interface{})
	status["status_raw"] = parts[4]

	pkt := &protocol.Packet{Kind: protocol.KindAlarm, Status: status}
	if ts, ok := parseTimeDate(parts[3], parts[6]); ok {
		pkt.Fix = &protocol.Fix{Timestamp: ts}
	}

	if parts[5] != "" {
		value, bits := ParseFlags(parts[5], d.bigEndianBits)
		status["alarm_value"] = value
		status["alarm_info"] = bits
		if bits[bitSOS].Value {
			pkt.AlarmType = "sos"
		}
	} else {
		status["alarm_value"] = uint32(0)
	}
	return pkt, nil
}

// handleV3 accepts the rare LBS status variant. Its cell fields sit in
// vendor-specific positions, so the record is kept but never resolved.
func (d *Decoder) handleV3(parts []string, raw string) (*protocol.Packet, error) {
	if len(parts) < 7 {
		return nil, &protocol.DecodeError{Proto: protoName, Kind: "V3", Raw: raw, Err: protocol.ErrTooShort}
	}
	fix := &protocol.Fix{Valid: false}
	if ts, ok := parseTimeDate(parts[3], parts[6]); ok {
		fix.Timestamp = ts
	}
	return &protocol.Packet{
		Kind:   protocol.KindLbsFix,
		Fix:    fix,
		Status: map[string]interface{}{"location_resolved_via": "unsupported_in_v3"},
	}, nil
}

// handleHB parses *HQ,imei,HB,hhmmss[,S][,voltage[,signal]]#. The voltage
// field is free-form across vendors: >=1000 reads as millivolts, 0..100 as a
// percentage, anything else is kept as a raw guess. Malformed values degrade
// to absent fields rather than failing the record.
func (d *Decoder) handleHB(parts []string, raw string) (*protocol.Packet, error) {
	status := make(map[string]interface{})
	pkt := &protocol.Packet{Kind: protocol.KindHeartbeat, Status: status}
	if len(parts) > 3 {
		if ts, ok := parseTimeDate(parts[3], "000000"); ok {
			pkt.Fix = &protocol.Fix{Timestamp: ts}
		}
	}

	var voltageRaw, signalRaw string
	if len(parts) > 4 {
		rest := parts[4:]
		if len(rest[0]) == 1 && (rest[0][0] < '0' || rest[0][0] > '9') {
			status["status_raw"] = rest[0]
			if len(rest) >= 3 {
				voltageRaw, signalRaw = rest[1], rest[2]
			} else if len(rest) >= 2 {
				voltageRaw = rest[1]
			}
		} else {
			voltageRaw = rest[0]
			if len(rest) >= 2 {
				signalRaw = rest[1]
			}
		}
	}

	if v := safeFloat(voltageRaw); v != nil {
		switch {
		case *v >= 1000:
			status["voltage_v"] = round3(*v / 1000.0)
			status["voltage_interpretation"] = "mV->V"
		case *v >= 0 && *v <= 100:
			status["voltage_percent"] = round2(*v)
			status["voltage_interpretation"] = "percent_or_unknown"
		default:
			status["voltage_v"] = round3(*v)
			status["voltage_interpretation"] = "raw_guess"
		}
	}
	if s := safeInt(signalRaw); s != nil {
		status["signal_strength"] = *s
	}
	return pkt, nil
}

// handleKeepalive covers the HTBT and XT framings that carry nothing beyond
// "device is online".
func (d *Decoder) handleKeepalive(parts []string, raw string) *protocol.Packet {
	imei := ""
	if len(parts) > 1 {
		imei = parts[1]
	}
	return &protocol.Packet{
		Kind:     protocol.KindHeartbeat,
		Protocol: protoName,
		DeviceID: imei,
		Raw:      raw,
		Status:   map[string]interface{}{"note": "device online"},
	}
}

// handleSOS reuses the position handler and tags the alarm; frames too broken
// for V1 parsing still surface as an alarm with the raw parts attached.
func (d *Decoder) handleSOS(parts []string, raw string) (*protocol.Packet, error) {
	pkt, err := d.handleV1(parts, raw)
	if err != nil {
		return &protocol.Packet{
			Kind:   protocol.KindAlarm,
			Status: map[string]interface{}{"raw_parts": strings.Join(parts, ",")},
		}, nil
	}
	pkt.Kind = protocol.KindAlarm
	pkt.AlarmType = "sos"
	return pkt, nil
}

// uploadAck is the fixed confirmation these units expect after a batch.
const uploadAckSuffix = ",V4,UPLOAD#"

// handleUpload parses a multi-record batch, re-invoking the top-level decode
// for every embedded record.
func (d *Decoder) handleUpload(parts []string, raw string) (*protocol.Packet, error) {
	proto, imei := parts[0], parts[1]
	pkt := &protocol.Packet{
		Kind:  protocol.KindBatch,
		Reply: []byte("*" + proto + "," + imei + uploadAckSuffix),
	}

	for _, sub := range parts[3:] {
		var embedded string
		switch {
		case strings.Contains(sub, ":"):
			// "V1:..." style records use colons inside the slot.
			embedded = proto + "," + imei + "," + strings.ReplaceAll(sub, ":", ",")
		case strings.HasPrefix(sub, "V1"), strings.HasPrefix(sub, "V0"),
			strings.HasPrefix(sub, "V2"), strings.HasPrefix(sub, "HB"):
			embedded = proto + "," + imei + "," + sub
		default:
			pkt.Records = append(pkt.Records, &protocol.Packet{
				Kind: protocol.KindUnknown, Protocol: protoName, DeviceID: imei, Raw: sub,
			})
			continue
		}
		rec, err := d.Decode([]byte("*" + embedded + "#"))
		if err != nil {
			rec = &protocol.Packet{Kind: protocol.KindUnknown, Protocol: protoName, DeviceID: imei, Raw: sub}
		}
		pkt.Records = append(pkt.Records, rec)
	}
	return pkt, nil
}

// handleConfig parses a configuration acknowledgement, scanning the payload
// for ok/err tokens.
func (d *Decoder) handleConfig(parts []string, raw string) (*protocol.Packet, error) {
	status := make(map[string]interface{})
	payload := parts[3:]
	status["payload"] = strings.Join(payload, ",")
	for _, p := range payload {
		switch strings.ToLower(p) {
		case "ok", "ack", "success":
			status["status"] = "ack"
		case "err", "error", "nok":
			status["status"] = "error"
		}
	}
	return &protocol.Packet{Kind: protocol.KindConfigAck, Status: status}, nil
}

// dmToDD converts DDMM.MMMM (or DDDMM.MMMM) to decimal degrees. Degree width
// is auto-detected: values at or above 10000 carry three degree digits. S and
// W always negate.
func dmToDD(value, direction string) (float64, bool) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	degrees := math.Floor(v / 100)
	minutes := v - degrees*100
	dd := degrees + minutes/60.0
	switch strings.ToUpper(direction) {
	case "S", "W":
		dd = -dd
	}
	return math.Round(dd*1e7) / 1e7, true
}

// parseTimeDate combines hhmmss and ddmmyy into a UTC timestamp. Two-digit
// years 80-99 map to 1980-1999, everything else to 2000-2079.
func parseTimeDate(hhmmss, ddmmyy string) (time.Time, bool) {
	if len(hhmmss) < 6 || len(ddmmyy) < 6 {
		return time.Time{}, false
	}
	nums := make([]int, 6)
	for i, s := range []string{hhmmss[0:2], hhmmss[2:4], hhmmss[4:6], ddmmyy[0:2], ddmmyy[2:4], ddmmyy[4:6]} {
		n, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	hh, mm, ss, dd, mo, yy := nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]
	year := 2000 + yy
	if yy >= 80 {
		year = 1900 + yy
	}
	if mo < 1 || mo > 12 || dd < 1 || dd > 31 || hh > 23 || mm > 59 || ss > 59 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(mo), dd, hh, mm, ss, 0, time.UTC), true
}

func safeInt(s string) *int {
	f := safeFloat(s)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func safeFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
