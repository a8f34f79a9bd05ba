// Package lbs derives approximate positions from cell-tower identifiers when
// satellite positioning is unavailable. Providers are tried in order; the
// first non-nil result wins and is tagged with the provider name. A
// deterministic offline pseudo-resolver terminates the chain, so resolution
// never comes back empty.
package lbs

import (
	"log/slog"
	"math"
	"sync"
)

// CellKey identifies one cell tower.
type CellKey struct {
	MCC int
	MNC int
	LAC int
	CID int
}

// Location is a resolved approximate position. Accuracy is meters, zero when
// the provider did not report one.
type Location struct {
	Lat      float64
	Lon      float64
	Accuracy float64
	Provider string
}

// Provider answers a single cell lookup. Returning (nil, err) or (nil, nil)
// both mean "try the next provider".
type Provider interface {
	Name() string
	Locate(key CellKey) (*Location, error)
}

const defaultCacheSize = 4096

// Resolver memoizes lookups per cell key for the process lifetime, bounded in
// size.
type Resolver struct {
	providers []Provider
	log       *slog.Logger

	mu       sync.Mutex
	cache    map[CellKey]*Location
	maxCache int
}

// NewResolver builds a resolver over the given provider chain. The offline
// pseudo-resolver is always appended implicitly.
func NewResolver(log *slog.Logger, providers ...Provider) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		providers: providers,
		log:       log,
		cache:     make(map[CellKey]*Location),
		maxCache:  defaultCacheSize,
	}
}

// Resolve returns a location for the cell. Provider failures are swallowed and
// the chain moves on; the pseudo fallback guarantees a non-nil result.
func (r *Resolver) Resolve(mcc, mnc, lac, cid int) *Location {
	key := CellKey{MCC: mcc, MNC: mnc, LAC: lac, CID: cid}

	r.mu.Lock()
	if loc, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return loc
	}
	r.mu.Unlock()

	loc := r.lookup(key)

	r.mu.Lock()
	if len(r.cache) >= r.maxCache {
		// Bounded memo, not an LRU: evict one arbitrary entry when full.
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[key] = loc
	r.mu.Unlock()
	return loc
}

func (r *Resolver) lookup(key CellKey) *Location {
	for _, p := range r.providers {
		loc, err := p.Locate(key)
		if err != nil {
			r.log.Debug("lbs provider failed", "provider", p.Name(), "err", err)
			continue
		}
		if loc != nil {
			loc.Provider = p.Name()
			return loc
		}
	}
	loc := pseudoLocate(key)
	loc.Provider = "pseudo"
	return loc
}

// pseudoLocate fabricates a stable but physically meaningless coordinate from
// the cell identity. Useful offline and in tests; never fails.
func pseudoLocate(key CellKey) *Location {
	seed := abs(key.MCC)*100000000 + abs(key.MNC)*1000000 + abs(key.LAC)*1000 + abs(key.CID)
	frac := float64(seed%1000000) / 1000000.0
	return &Location{
		Lat: math.Round((20.0+frac*20.0)*1e6) / 1e6,
		Lon: math.Round((40.0+frac*20.0)*1e6) / 1e6,
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
