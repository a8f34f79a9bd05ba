// Package state tracks per-device movement over the device's operational
// lifetime. Transitions are debounced with named consecutive-occurrence
// counters: incrementing one resets the others, and a state change commits
// only once its counter reaches the threshold, so a single noisy sample never
// flips a vehicle between Moving and Stopped.
package state

import (
	"math"
	"sync"
)

// Movement is the classified state of one device.
type Movement string

const (
	Moving  Movement = "Moving"
	Stopped Movement = "Stopped"
	Idle    Movement = "Idle"
)

// Counter names.
const (
	signalMoving    = "moving"
	signalStopped   = "stopped"
	signalHeartbeat = "heartbeat"
)

const (
	defaultThreshold   = 3
	defaultMinDistance = 5.0 // meters
	defaultSpeedDelta  = 1.0 // km/h
)

// Decision is the classifier's verdict on one observation.
type Decision struct {
	State      Movement
	Transition bool // a state change committed on this observation
	Suppress   bool // "no significant change": skip the location record
}

type deviceTrack struct {
	mu       sync.Mutex
	state    Movement
	counters map[string]int

	hasLast   bool
	lastLat   float64
	lastLon   float64
	lastSpeed float64
}

// Classifier owns all per-device tracks. Construct once at server start; the
// zero value is not usable.
type Classifier struct {
	threshold   int
	minDistance float64
	speedDelta  float64

	mu      sync.Mutex
	devices map[string]*deviceTrack
}

func NewClassifier() *Classifier {
	return &Classifier{
		threshold:   defaultThreshold,
		minDistance: defaultMinDistance,
		speedDelta:  defaultSpeedDelta,
		devices:     make(map[string]*deviceTrack),
	}
}

func (c *Classifier) track(deviceID string) *deviceTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.devices[deviceID]
	if !ok {
		tr = &deviceTrack{counters: make(map[string]int)}
		c.devices[deviceID] = tr
	}
	return tr
}

// ObserveFix feeds one position sample. Speed is km/h.
func (c *Classifier) ObserveFix(deviceID string, lat, lon, speed float64) Decision {
	tr := c.track(deviceID)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	signal := signalStopped
	target := Stopped
	if speed > 0 {
		signal = signalMoving
		target = Moving
	}

	dist := -1.0
	if tr.hasLast {
		dist = Haversine(tr.lastLat, tr.lastLon, lat, lon)
	}

	dec := Decision{State: tr.state}
	dec.Suppress = tr.hasLast && speed == 0 && dist <= c.minDistance &&
		math.Abs(speed-tr.lastSpeed) <= c.speedDelta

	bump(tr.counters, signal)

	switch {
	case tr.state == target:
		// already there
	case target == Moving && (dist < 0 || dist > c.minDistance):
		// Distance tripwire: actual displacement with reported speed is
		// committed immediately, hysteresis only debounces stopping.
		c.commit(tr, &dec, target, signal)
	case tr.counters[signal] >= c.threshold:
		c.commit(tr, &dec, target, signal)
	}

	if !dec.Suppress {
		tr.hasLast = true
		tr.lastLat = lat
		tr.lastLon = lon
		tr.lastSpeed = speed
	}
	return dec
}

// ObserveHeartbeat downgrades a silent device to Idle after enough
// consecutive heartbeats, even without a fix.
func (c *Classifier) ObserveHeartbeat(deviceID string) Decision {
	tr := c.track(deviceID)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	bump(tr.counters, signalHeartbeat)
	dec := Decision{State: tr.state}
	if tr.state != Idle && tr.counters[signalHeartbeat] >= c.threshold {
		c.commit(tr, &dec, Idle, signalHeartbeat)
	}
	return dec
}

// Current reports a device's present state; Idle for devices never seen.
func (c *Classifier) Current(deviceID string) Movement {
	c.mu.Lock()
	tr, ok := c.devices[deviceID]
	c.mu.Unlock()
	if !ok {
		return Idle
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.state == "" {
		return Idle
	}
	return tr.state
}

func (c *Classifier) commit(tr *deviceTrack, dec *Decision, target Movement, signal string) {
	tr.state = target
	tr.counters[signal] = 0
	dec.State = target
	dec.Transition = true
}

// bump increments one named counter and resets its siblings.
func bump(counters map[string]int, name string) {
	for k := range counters {
		if k != name {
			counters[k] = 0
		}
	}
	counters[name]++
}

const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance between two points in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}
