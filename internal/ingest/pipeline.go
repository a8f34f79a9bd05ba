// Package ingest receives raw device frames over TCP, UDP, and the message
// bus, pushes them through the security gate and protocol decoders, and turns
// the survivors into canonical positions, movement transitions, and uplink
// events.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trackcore/internal/cache"
	"trackcore/internal/core/model"
	"trackcore/internal/core/repository"
	"trackcore/internal/enrich"
	"trackcore/internal/observability"
	"trackcore/internal/protocol"
	"trackcore/internal/protocol/gt06"
	"trackcore/internal/protocol/hq"
	"trackcore/internal/protocol/jt808"
	"trackcore/internal/security"
	"trackcore/internal/state"
)

// Session carries per-connection identity. Some binary terminals send their
// identity only at login, so location frames on the same connection borrow it
// from here.
type Session struct {
	mu       sync.Mutex
	deviceID string
}

func (s *Session) Bind(id string) {
	s.mu.Lock()
	s.deviceID = id
	s.mu.Unlock()
}

func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Frame is one raw datagram or TCP read handed to the pipeline.
type Frame struct {
	Source    string
	Transport string
	Data      []byte
	Session   *Session
	Reply     func([]byte) error // nil when the transport cannot answer
}

// PipelineDeps wires the pipeline's collaborators.
type PipelineDeps struct {
	Gate       *security.Gate
	HQ         *hq.Decoder
	JT808      *jt808.Decoder
	GT06       *gt06.Decoder
	Classifier *state.Classifier

	Devices   repository.DeviceRepository
	Positions repository.PositionRepository
	RawFrames repository.RawFrameRepository
	Changes   repository.StateChangeRepository
	Denylist  repository.DenylistRepository

	Shadow      *cache.ShadowStore
	Geocoder    *enrich.Geocoder
	Matcher     *enrich.MapMatcher
	Broadcaster *Broadcaster
	Metrics     *observability.Metrics
	Log         *slog.Logger
}

// Pipeline processes one frame at a time per device. Frames for different
// devices run concurrently on the worker pool.
type Pipeline struct {
	PipelineDeps
	log *slog.Logger

	locks sync.Map // deviceID -> *sync.Mutex
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		PipelineDeps: deps,
		log:          deps.Log.With("component", "pipeline"),
	}
}

// Process runs one frame end to end. Called from pool workers.
func (p *Pipeline) Process(frame *Frame) {
	start := time.Now()
	defer func() {
		p.Metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	p.Metrics.FramesReceived.WithLabelValues(frame.Transport).Inc()

	if denied, err := p.Denylist.IsDenied(frame.Source); err != nil {
		p.log.Warn("denylist lookup failed", "source", frame.Source, "error", err)
	} else if denied {
		p.log.Debug("rejecting frame from denylisted source", "source", frame.Source)
		p.Metrics.FramesRejected.WithLabelValues("denylisted").Inc()
		raw := model.NewRawFrame(frame.Source, frame.Transport, frame.Data)
		raw.Status = model.RawRejected
		raw.Detail = "source denylisted"
		p.RawFrames.Create(raw)
		return
	}

	verdict := p.Gate.Check(frame.Source, frame.Data)
	if verdict != security.VerdictSafe {
		p.rejectFrame(frame, verdict)
		return
	}

	raw := model.NewRawFrame(frame.Source, frame.Transport, frame.Data)
	if err := p.RawFrames.Create(raw); err != nil {
		p.log.Warn("failed to record raw frame", "error", err)
	}

	pkt, ok := p.decode(frame, raw)
	if !ok {
		return
	}

	if pkt.Reply != nil && frame.Reply != nil {
		if err := frame.Reply(pkt.Reply); err != nil {
			p.log.Warn("failed to send reply", "source", frame.Source, "error", err)
		}
	}

	deviceID := p.resolveIdentity(frame, pkt)
	if deviceID == "" {
		p.RawFrames.UpdateStatus(raw.ID, model.RawUnknownID, "frame carries no identity and none is bound to the session")
		return
	}

	mu := p.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	device, err := p.ensureDevice(deviceID, pkt.Protocol)
	if err != nil {
		p.log.Error("failed to provision device", "device", deviceID, "error", err)
		p.RawFrames.UpdateStatus(raw.ID, model.RawFailed, "device provisioning failed")
		return
	}
	if !device.IsActive() {
		p.Metrics.FramesRejected.WithLabelValues("inactive_device").Inc()
		p.RawFrames.UpdateStatus(raw.ID, model.RawRejected, "device is not active")
		return
	}

	switch pkt.Kind {
	case protocol.KindBatch:
		p.processBatch(device, pkt, raw)
	case protocol.KindLocation, protocol.KindAlarm, protocol.KindLbsFix:
		p.processPosition(device, pkt, raw)
	case protocol.KindHeartbeat:
		p.processHeartbeat(device, pkt, raw)
	default:
		// login, config_ack and other administrative frames just refresh
		// the device and leave no audit copy behind.
		device.LastUpdate = time.Now()
		p.Devices.Update(device)
		p.RawFrames.Delete(raw.ID)
	}
}

func (p *Pipeline) rejectFrame(frame *Frame, verdict security.Verdict) {
	p.Metrics.FramesRejected.WithLabelValues(string(verdict)).Inc()

	raw := model.NewRawFrame(frame.Source, frame.Transport, frame.Data)
	status := model.RawRejected
	if verdict == security.VerdictRateLimited {
		status = model.RawRateLimited
	}
	raw.Status = status
	raw.Detail = string(verdict)
	p.RawFrames.Create(raw)

	if verdict == security.VerdictMalicious {
		p.log.Warn("malicious frame, denylisting source", "source", frame.Source)
		p.Denylist.Create(model.NewDenylistEntry(frame.Source, "malicious payload", frame.Data))
	}
}

// PromoteDenylistEntry is the administrative escalation for a denylist entry:
// it bulk-deletes every stored raw frame from the entry's source. Ingestion
// itself only records entries and refuses to decode the source's traffic.
func (p *Pipeline) PromoteDenylistEntry(source string) (int64, error) {
	denied, err := p.Denylist.IsDenied(source)
	if err != nil {
		return 0, err
	}
	if !denied {
		return 0, nil
	}
	purged, err := p.RawFrames.DeleteBySource(source)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		p.log.Info("purged raw frames for denylisted source", "source", source, "count", purged)
	}
	return purged, nil
}

func (p *Pipeline) decode(frame *Frame, raw *model.RawFrame) (*protocol.Packet, bool) {
	var (
		pkt *protocol.Packet
		err error
	)

	switch wire := protocol.Sniff(frame.Data); wire {
	case protocol.WireHQ:
		pkt, err = p.HQ.Decode(frame.Data)
	case protocol.WireJT808:
		pkt, err = p.JT808.Decode(frame.Data)
	case protocol.WireGT06:
		pkt, err = p.GT06.Decode(frame.Data)
	default:
		p.RawFrames.UpdateStatus(raw.ID, model.RawFailed, "unrecognized protocol")
		return nil, false
	}

	if err != nil {
		proto := "unknown"
		if pkt != nil {
			proto = pkt.Protocol
		} else if de, ok := err.(*protocol.DecodeError); ok {
			proto = de.Proto
		}
		p.Metrics.DecodeErrors.WithLabelValues(proto).Inc()
		p.log.Warn("decode failed", "source", frame.Source, "error", err)
		p.RawFrames.UpdateStatus(raw.ID, model.RawFailed, err.Error())
		return nil, false
	}

	p.Metrics.FramesDecoded.WithLabelValues(pkt.Protocol, string(pkt.Kind)).Inc()
	return pkt, true
}

func (p *Pipeline) resolveIdentity(frame *Frame, pkt *protocol.Packet) string {
	if pkt.Kind == protocol.KindLogin && pkt.DeviceID != "" && frame.Session != nil {
		frame.Session.Bind(pkt.DeviceID)
	}
	if pkt.DeviceID != "" {
		return pkt.DeviceID
	}
	if frame.Session != nil {
		return frame.Session.DeviceID()
	}
	return ""
}

func (p *Pipeline) deviceLock(deviceID string) *sync.Mutex {
	mu, _ := p.locks.LoadOrStore(deviceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ensureDevice finds the device by its wire identity, provisioning a new
// record the first time an identity is seen. Telemetry from an unseen
// terminal is never dropped silently.
func (p *Pipeline) ensureDevice(uniqueID, proto string) (*model.Device, error) {
	device, err := p.Devices.FindByUniqueID(uniqueID)
	if err != nil {
		return nil, err
	}
	if device != nil {
		return device, nil
	}

	device = model.NewDevice(uniqueID, proto)
	if err := p.Devices.Create(device); err != nil {
		return nil, err
	}
	p.log.Info("auto-provisioned device", "device", uniqueID, "protocol", proto)
	return device, nil
}

func (p *Pipeline) processBatch(device *model.Device, pkt *protocol.Packet, raw *model.RawFrame) {
	records := pkt.Records
	p.matchBatch(records)

	for _, rec := range records {
		if rec.DeviceID == "" {
			rec.DeviceID = pkt.DeviceID
		}
		p.storePosition(device, rec, nil)
	}
	p.RawFrames.Delete(raw.ID)
}

// matchBatch snaps a batch's fixes onto the road network in one call and
// writes the corrected coordinates back into the records.
func (p *Pipeline) matchBatch(records []*protocol.Packet) {
	if p.Matcher == nil {
		return
	}

	var points []enrich.Point
	var indices []int
	for i, rec := range records {
		if rec.Fix != nil && rec.Fix.Valid {
			points = append(points, enrich.Point{Lat: rec.Fix.Latitude, Lon: rec.Fix.Longitude})
			indices = append(indices, i)
		}
	}

	result := p.Matcher.Match(points)
	if result == nil || len(result.SnappedPoints) != len(points) {
		return
	}
	for n, idx := range indices {
		fix := records[idx].Fix
		fix.Latitude = result.SnappedPoints[n].Lat
		fix.Longitude = result.SnappedPoints[n].Lon
		if records[idx].Status == nil {
			records[idx].Status = make(map[string]interface{})
		}
		records[idx].Status["matched"] = true
	}
}

func (p *Pipeline) processPosition(device *model.Device, pkt *protocol.Packet, raw *model.RawFrame) {
	// Timestamp-only alarms and unresolved cell reports have no position to
	// persist or to feed the classifier; they refresh the device like a
	// heartbeat would.
	if !pkt.Fix.HasCoordinates() {
		p.processHeartbeat(device, pkt, raw)
		return
	}
	p.storePosition(device, pkt, raw)
}

// storePosition runs suppression, enrichment, and persistence for one fix.
// raw may be nil for batch sub-records, which share the batch's audit frame.
func (p *Pipeline) storePosition(device *model.Device, pkt *protocol.Packet, raw *model.RawFrame) {
	fix := pkt.Fix
	if !fix.HasCoordinates() {
		return
	}

	dec := p.Classifier.ObserveFix(device.UniqueID, fix.Latitude, fix.Longitude, fix.Speed)

	// Alarms are never suppressed: a stationary SOS still matters.
	if dec.Suppress && pkt.Kind != protocol.KindAlarm {
		p.Metrics.FramesSuppressed.Inc()
		if raw != nil {
			p.RawFrames.UpdateStatus(raw.ID, model.RawSuppressed, "no significant change")
		}
		device.LastUpdate = time.Now()
		p.Devices.Update(device)
		return
	}

	pos := model.NewPosition(device.ID, pkt.Protocol, fix.Latitude, fix.Longitude)
	if !fix.Timestamp.IsZero() {
		pos.Timestamp = fix.Timestamp
	}
	pos.Altitude = fix.Altitude
	pos.Speed = fix.Speed
	pos.Course = fix.Course
	pos.Valid = fix.Valid
	pos.Satellites = int(fix.Satellites)
	pos.Accuracy = fix.Accuracy
	pos.AlarmType = pkt.AlarmType
	if fix.Source != "" {
		pos.Source = fix.Source
	}
	if len(pkt.Status) > 0 {
		pos.Status = pkt.Status
		if matched, ok := pkt.Status["matched"].(bool); ok && matched {
			pos.Matched = true
		}
	}

	if pos.Source != "gps" {
		p.Metrics.LBSResolutions.WithLabelValues(pos.Source).Inc()
	}

	if p.Geocoder != nil {
		pos.Address = p.Geocoder.Address(fix.Latitude, fix.Longitude)
	}

	if err := p.Positions.Create(pos); err != nil {
		p.log.Error("failed to persist position", "device", device.UniqueID, "error", err)
		if raw != nil {
			p.RawFrames.UpdateStatus(raw.ID, model.RawFailed, "position persist failed")
		}
		return
	}

	device.LastUpdate = time.Now()
	device.PositionID = pos.ID
	if dec.Transition {
		device.Movement = string(dec.State)
	}
	if err := p.Devices.Update(device); err != nil {
		p.log.Warn("failed to update device", "device", device.UniqueID, "error", err)
	}

	if dec.Transition {
		p.recordTransition(device, pos, dec.State)
	}

	p.updateShadow(device, pos)

	p.Broadcaster.Publish(&Uplink{
		Kind:      string(pkt.Kind),
		Protocol:  pkt.Protocol,
		DeviceID:  device.UniqueID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Speed:     pos.Speed,
		Course:    pos.Course,
		Movement:  device.Movement,
		Address:   pos.Address,
		AlarmType: pos.AlarmType,
		Timestamp: pos.Timestamp,
	})

	if raw != nil {
		p.RawFrames.Delete(raw.ID)
	}
}

func (p *Pipeline) processHeartbeat(device *model.Device, pkt *protocol.Packet, raw *model.RawFrame) {
	device.LastUpdate = time.Now()

	dec := p.Classifier.ObserveHeartbeat(device.UniqueID)
	if dec.Transition {
		device.Movement = string(dec.State)
		change := model.NewStateChange(device.UniqueID, "", string(dec.State))
		if prev, err := p.Changes.FindLatestByDeviceID(device.UniqueID); err == nil && prev != nil {
			change.From = prev.To
		}
		p.Changes.Create(change)
		p.Metrics.StateChanges.WithLabelValues(string(dec.State)).Inc()
		p.Broadcaster.Publish(&Uplink{
			Kind:      "state",
			Protocol:  pkt.Protocol,
			DeviceID:  device.UniqueID,
			Movement:  string(dec.State),
			Timestamp: time.Now(),
		})
	}

	p.Devices.Update(device)
	if raw != nil {
		p.RawFrames.Delete(raw.ID)
	}
}

func (p *Pipeline) recordTransition(device *model.Device, pos *model.Position, to state.Movement) {
	change := model.NewStateChange(device.UniqueID, "", string(to))
	change.Latitude = pos.Latitude
	change.Longitude = pos.Longitude
	if prev, err := p.Changes.FindLatestByDeviceID(device.UniqueID); err == nil && prev != nil {
		change.From = prev.To
	}
	if err := p.Changes.Create(change); err != nil {
		p.log.Warn("failed to record state change", "device", device.UniqueID, "error", err)
	}
	p.Metrics.StateChanges.WithLabelValues(string(to)).Inc()

	p.Broadcaster.Publish(&Uplink{
		Kind:      "state",
		Protocol:  pos.Protocol,
		DeviceID:  device.UniqueID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Movement:  string(to),
		Timestamp: time.Now(),
	})
}

func (p *Pipeline) updateShadow(device *model.Device, pos *model.Position) {
	if p.Shadow == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Shadow.Put(ctx, &cache.Shadow{
		DeviceID:  device.UniqueID,
		Protocol:  pos.Protocol,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Speed:     pos.Speed,
		Movement:  device.Movement,
		Address:   pos.Address,
		SeenAt:    time.Now(),
	})
	if err != nil {
		p.log.Warn("failed to refresh device shadow", "device", device.UniqueID, "error", err)
	}
}
