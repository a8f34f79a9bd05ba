package ingest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"trackcore/internal/core/model"
	"trackcore/internal/core/repository"
	"trackcore/internal/observability"
	"trackcore/internal/protocol/gt06"
	"trackcore/internal/protocol/hq"
	"trackcore/internal/protocol/jt808"
	"trackcore/internal/security"
	"trackcore/internal/state"
)

// promauto registers against the default registry, so the test binary builds
// its metrics exactly once.
var testMetrics = observability.NewMetrics()

type testEnv struct {
	pipeline  *Pipeline
	devices   repository.DeviceRepository
	positions repository.PositionRepository
	rawFrames repository.RawFrameRepository
	changes   repository.StateChangeRepository
	denylist  repository.DenylistRepository
}

func newTestEnv(t *testing.T, gateOpts ...security.Option) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		devices:   repository.NewInMemoryDeviceRepository(),
		positions: repository.NewInMemoryPositionRepository(),
		rawFrames: repository.NewInMemoryRawFrameRepository(),
		changes:   repository.NewInMemoryStateChangeRepository(),
		denylist:  repository.NewInMemoryDenylistRepository(),
	}
	env.pipeline = NewPipeline(PipelineDeps{
		Gate:        security.NewGate(gateOpts...),
		HQ:          hq.NewDecoder(nil),
		JT808:       jt808.NewDecoder(),
		GT06:        gt06.NewDecoder(),
		Classifier:  state.NewClassifier(),
		Devices:     env.devices,
		Positions:   env.positions,
		RawFrames:   env.rawFrames,
		Changes:     env.changes,
		Denylist:    env.denylist,
		Broadcaster: NewBroadcaster(nil, log),
		Metrics:     testMetrics,
		Log:         log,
	})
	return env
}

func (e *testEnv) rawCount(t *testing.T, status string) int {
	t.Helper()
	frames, err := e.rawFrames.FindByStatus(status)
	if err != nil {
		t.Fatalf("FindByStatus(%q) error = %v", status, err)
	}
	return len(frames)
}

func TestProcessTextLocation(t *testing.T) {
	env := newTestEnv(t)

	env.pipeline.Process(&Frame{
		Source:    "10.0.0.1:31000",
		Transport: "tcp",
		Data:      []byte("*HQ,123456789012345,V1,120000,A,2940.9263,N,05123.4567,E,50.0,180.0,201125,0#"),
	})

	device, err := env.devices.FindByUniqueID("123456789012345")
	if err != nil || device == nil {
		t.Fatalf("device not auto-provisioned: %v", err)
	}
	if device.Status != "active" {
		t.Errorf("device status = %q, want auto-provisioned devices active", device.Status)
	}
	if device.Protocol != "hq" {
		t.Errorf("device protocol = %q, want hq", device.Protocol)
	}

	positions, _ := env.positions.FindByDeviceID(device.ID)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Speed != 92.6 {
		t.Errorf("Speed = %v, want 92.6", positions[0].Speed)
	}

	// Fully processed frames leave no audit copy behind.
	if n := env.rawCount(t, model.RawPending); n != 0 {
		t.Errorf("pending raw frames = %d, want 0", n)
	}
}

func TestProcessSuppressesNoChange(t *testing.T) {
	env := newTestEnv(t)
	frame := []byte("*HQ,123456789012345,V1,120000,A,2940.9263,N,05123.4567,E,0.0,180.0,201125,0#")

	env.pipeline.Process(&Frame{Source: "s", Transport: "tcp", Data: frame})
	env.pipeline.Process(&Frame{Source: "s", Transport: "tcp", Data: frame})

	device, _ := env.devices.FindByUniqueID("123456789012345")
	positions, _ := env.positions.FindByDeviceID(device.ID)
	if len(positions) != 1 {
		t.Errorf("positions = %d, want 1 after suppression", len(positions))
	}
	if n := env.rawCount(t, model.RawSuppressed); n != 1 {
		t.Errorf("suppressed raw frames = %d, want 1", n)
	}
}

func TestProcessMaliciousDenylistsSource(t *testing.T) {
	env := newTestEnv(t)
	malicious := []byte("*HQ,123,<script>alert(1)</script>#")

	env.pipeline.Process(&Frame{Source: "6.6.6.6", Transport: "tcp", Data: malicious})

	denied, _ := env.denylist.IsDenied("6.6.6.6")
	if !denied {
		t.Fatal("source not denylisted after malicious frame")
	}
	entries, _ := env.denylist.FindAll()
	if len(entries) != 1 || string(entries[0].Payload) != string(malicious) {
		t.Error("denylist entry does not record the payload/source pair")
	}

	// Follow-up traffic is never decoded, but still leaves a diagnostic.
	env.pipeline.Process(&Frame{
		Source:    "6.6.6.6",
		Transport: "tcp",
		Data:      []byte("*HQ,123456789012345,V1,120000,A,2940.9263,N,05123.4567,E,50.0,180.0,201125,0#"),
	})
	if device, _ := env.devices.FindByUniqueID("123456789012345"); device != nil {
		t.Error("frame from denylisted source was processed")
	}
	if n := env.rawCount(t, model.RawRejected); n != 2 {
		t.Errorf("rejected raw frames = %d, want 2", n)
	}

	// Promotion is the administrative step that purges the source's history.
	purged, err := env.pipeline.PromoteDenylistEntry("6.6.6.6")
	if err != nil {
		t.Fatalf("PromoteDenylistEntry() error = %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}
	if n := env.rawCount(t, model.RawRejected); n != 0 {
		t.Errorf("rejected raw frames = %d, want 0 after promotion", n)
	}
}

func TestPromoteDenylistEntryRequiresEntry(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.Process(&Frame{Source: "10.0.0.9", Transport: "udp",
		Data: []byte("*HQ,123456789012345,HB,120000#")})

	purged, err := env.pipeline.PromoteDenylistEntry("10.0.0.9")
	if err != nil {
		t.Fatalf("PromoteDenylistEntry() error = %v", err)
	}
	if purged != 0 {
		t.Errorf("purged = %d for a source that was never denylisted, want 0", purged)
	}
}

func TestProcessInactiveDeviceRejected(t *testing.T) {
	env := newTestEnv(t)
	device := model.NewDevice("123456789012345", "hq")
	device.Status = "inactive"
	env.devices.Create(device)

	env.pipeline.Process(&Frame{
		Source:    "10.0.0.1",
		Transport: "tcp",
		Data:      []byte("*HQ,123456789012345,V1,120000,A,2940.9263,N,05123.4567,E,50.0,180.0,201125,0#"),
	})

	positions, _ := env.positions.FindByDeviceID(device.ID)
	if len(positions) != 0 {
		t.Errorf("positions persisted for inactive device = %d, want 0", len(positions))
	}
	got, _ := env.devices.FindByUniqueID("123456789012345")
	if got.Status != "inactive" {
		t.Errorf("device status = %q, want inactive to stick until re-activated administratively", got.Status)
	}
	if n := env.rawCount(t, model.RawRejected); n != 1 {
		t.Errorf("rejected raw frames = %d, want 1", n)
	}
}

func TestProcessAlarmWithoutCoordinates(t *testing.T) {
	env := newTestEnv(t)
	fix := []byte("*HQ,123456789012345,V1,120000,A,2940.9263,N,05123.4567,E,0.0,180.0,201125,0#")

	env.pipeline.Process(&Frame{Source: "s", Transport: "tcp", Data: fix})
	// Timestamp-only alarm: nothing to persist, and the classifier's last
	// known position must survive it.
	env.pipeline.Process(&Frame{Source: "s", Transport: "tcp",
		Data: []byte("*HQ,123456789012345,V2,120100,FFFFFBFF,08000000,201125#")})
	env.pipeline.Process(&Frame{Source: "s", Transport: "tcp", Data: fix})

	device, _ := env.devices.FindByUniqueID("123456789012345")
	positions, _ := env.positions.FindByDeviceID(device.ID)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1 (no alarm row, repeat fix suppressed)", len(positions))
	}
	if positions[0].Latitude == 0 && positions[0].Longitude == 0 {
		t.Error("zero-coordinate position persisted")
	}
}

func TestProcessRateLimited(t *testing.T) {
	env := newTestEnv(t, security.WithRateLimit(1, time.Minute))
	frame := []byte("*HQ,123456789012345,HB,120000#")

	env.pipeline.Process(&Frame{Source: "s", Transport: "udp", Data: frame})
	env.pipeline.Process(&Frame{Source: "s", Transport: "udp", Data: frame})

	if n := env.rawCount(t, model.RawRateLimited); n != 1 {
		t.Errorf("rate_limited raw frames = %d, want 1", n)
	}
}

func TestProcessSessionIdentity(t *testing.T) {
	env := newTestEnv(t)
	session := &Session{}

	login := []byte{0x78, 0x78, 0x0D, 0x01,
		0x03, 0x53, 0x41, 0x90, 0x36, 0x41, 0x99, 0x01,
		0x00, 0x01, 0x00, 0x0A}
	env.pipeline.Process(&Frame{Source: "s", Transport: "tcp", Data: login, Session: session})

	if session.DeviceID() != "0353419036419901" {
		t.Fatalf("session identity = %q, not bound at login", session.DeviceID())
	}

	location := []byte{0x78, 0x78, 0x1F, 0x12,
		0x19, 0x0B, 0x14, 0x0C, 0x1E, 0x2D,
		0xC8,
		0x02, 0x25, 0x51, 0x00,
		0x04, 0xD3, 0xF6, 0x40,
		0x3C,
		0x14, 0xB4,
		0x00, 0x02, 0x00, 0x0A}
	env.pipeline.Process(&Frame{Source: "s", Transport: "tcp", Data: location, Session: session})

	device, _ := env.devices.FindByUniqueID("0353419036419901")
	if device == nil {
		t.Fatal("device missing after session-attributed location")
	}
	positions, _ := env.positions.FindByDeviceID(device.ID)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Latitude != 20.0 || positions[0].Longitude != 45.0 {
		t.Errorf("position = (%v, %v), want (20, 45)", positions[0].Latitude, positions[0].Longitude)
	}
}

func TestProcessUnattributableFrameKept(t *testing.T) {
	env := newTestEnv(t)

	// A location frame with no login and no session identity cannot be
	// attributed; it stays in the audit store.
	location := []byte{0x78, 0x78, 0x1F, 0x12,
		0x19, 0x0B, 0x14, 0x0C, 0x1E, 0x2D,
		0xC8,
		0x02, 0x25, 0x51, 0x00,
		0x04, 0xD3, 0xF6, 0x40,
		0x3C,
		0x14, 0xB4,
		0x00, 0x02, 0x00, 0x0A}
	env.pipeline.Process(&Frame{Source: "s", Transport: "udp", Data: location})

	if n := env.rawCount(t, model.RawUnknownID); n != 1 {
		t.Errorf("unknown_identity raw frames = %d, want 1", n)
	}
}

func TestProcessRegistrationReply(t *testing.T) {
	env := newTestEnv(t)

	// 0x0100 register, 6-byte packed identity, serial 0x0010.
	register := []byte{0x7E,
		0x01, 0x00, 0x00, 0x00,
		0x01, 0x23, 0x45, 0x67, 0x89, 0x01,
		0x00, 0x10,
		0x99,
		0x7E}

	var replies [][]byte
	env.pipeline.Process(&Frame{
		Source:    "s",
		Transport: "tcp",
		Data:      register,
		Reply: func(b []byte) error {
			replies = append(replies, b)
			return nil
		},
	})

	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if replies[0][0] != 0x7E || replies[0][len(replies[0])-1] != 0x7E {
		t.Error("reply is not a framed message")
	}

	device, _ := env.devices.FindByUniqueID("12345678901")
	if device == nil {
		t.Fatal("device not provisioned from registration")
	}
	if device.Protocol != "jt808" {
		t.Errorf("device protocol = %q, want jt808", device.Protocol)
	}
}

func TestProcessBatch(t *testing.T) {
	env := newTestEnv(t)

	var replies [][]byte
	env.pipeline.Process(&Frame{
		Source:    "s",
		Transport: "tcp",
		Data:      []byte("*HQ,123456789012345,UPLOAD,V1:120000:A:2940.9263:N:05123.4567:E:50.0:180.0:201125:0,V1:120100:A:2941.9300:N:05124.4600:E:48.0:181.0:201125:0#"),
		Reply: func(b []byte) error {
			replies = append(replies, b)
			return nil
		},
	})

	device, _ := env.devices.FindByUniqueID("123456789012345")
	if device == nil {
		t.Fatal("device not provisioned from batch")
	}
	positions, _ := env.positions.FindByDeviceID(device.ID)
	if len(positions) != 2 {
		t.Errorf("positions = %d, want 2", len(positions))
	}
	if len(replies) != 1 || string(replies[0]) != "*HQ,123456789012345,V4,UPLOAD#" {
		t.Errorf("batch ack = %q", replies)
	}
}

func TestProcessHeartbeatTransitionsToIdle(t *testing.T) {
	env := newTestEnv(t)
	frame := []byte("*HQ,123456789012345,HB,120000#")

	for i := 0; i < 3; i++ {
		env.pipeline.Process(&Frame{Source: "s", Transport: "tcp", Data: frame})
	}

	device, _ := env.devices.FindByUniqueID("123456789012345")
	if device.Movement != "Idle" {
		t.Errorf("device movement = %q, want Idle after three heartbeats", device.Movement)
	}
	changes, _ := env.changes.FindByDeviceID("123456789012345")
	if len(changes) != 1 {
		t.Errorf("state changes = %d, want exactly 1", len(changes))
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := NewPool(1, 1, testMetrics, log)
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if !pool.Submit(func() { close(started); <-release }) {
		t.Fatal("first submit rejected")
	}
	<-started // worker busy; queue is empty again

	if !pool.Submit(func() { <-release }) {
		t.Fatal("second submit rejected with a free queue slot")
	}
	if pool.Submit(func() {}) {
		t.Error("third submit accepted with worker busy and queue full")
	}
	close(release)
}
