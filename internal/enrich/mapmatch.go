// Package enrich augments canonical positions after decoding: snapping fix
// sequences to the road network and resolving human-readable addresses.
package enrich

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	mapMatchURL          = "https://api.neshan.org/v3/map-matching"
	maxPointsPerRequest  = 1000
	minPointsForMatching = 2
	matchMaxRetries      = 3
	matchRetryDelay      = time.Second
	matchCacheSize       = 1024
)

// Point is one GPS coordinate in a path to be matched.
type Point struct {
	Lat float64
	Lon float64
}

// MatchResult is the road-snapped outcome for one path.
type MatchResult struct {
	SnappedPoints []Point
	Geometry      string // encoded polyline
}

type matchResponse struct {
	SnappedPoints []struct {
		Location struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	} `json:"snappedPoints"`
	Geometry string `json:"geometry"`
}

// MapMatcher snaps GPS paths onto the road network through the Neshan
// map-matching API. Results are memoized by path hash.
type MapMatcher struct {
	apiKey string
	client *http.Client
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string]*MatchResult

	sleep func(time.Duration)
}

func NewMapMatcher(apiKey string, log *slog.Logger) *MapMatcher {
	return &MapMatcher{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With("component", "map_matcher"),
		cache:  make(map[string]*MatchResult),
		sleep:  time.Sleep,
	}
}

// Match snaps the path to the road network. Returns nil when matching is not
// possible (no key, too few points, or a permanent API error); the caller
// keeps the raw coordinates in that case.
func (m *MapMatcher) Match(points []Point) *MatchResult {
	if m.apiKey == "" {
		return nil
	}
	if len(points) < minPointsForMatching {
		return nil
	}
	if len(points) > maxPointsPerRequest {
		m.log.Warn("truncating match path", "points", len(points), "max", maxPointsPerRequest)
		points = points[:maxPointsPerRequest]
	}

	path := buildPath(points)
	key := cacheKey(path)

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached
	}
	m.mu.Unlock()

	result := m.callWithRetry(path)
	if result != nil {
		m.mu.Lock()
		if len(m.cache) >= matchCacheSize {
			for k := range m.cache {
				delete(m.cache, k)
				break
			}
		}
		m.cache[key] = result
		m.mu.Unlock()
	}
	return result
}

func buildPath(points []Point) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%g,%g", p.Lat, p.Lon)
	}
	return b.String()
}

func cacheKey(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

func (m *MapMatcher) callWithRetry(path string) *MatchResult {
	body, _ := json.Marshal(map[string]string{"path": path})

	for attempt := 1; attempt <= matchMaxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, mapMatchURL, bytes.NewReader(body))
		if err != nil {
			return nil
		}
		req.Header.Set("Api-Key", m.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			m.log.Warn("map matching request failed", "attempt", attempt, "error", err)
			if attempt < matchMaxRetries {
				m.sleep(matchRetryDelay * time.Duration(attempt))
				continue
			}
			return nil
		}

		if resp.StatusCode == http.StatusOK {
			var parsed matchResponse
			err := json.NewDecoder(resp.Body).Decode(&parsed)
			resp.Body.Close()
			if err != nil {
				m.log.Warn("map matching response unreadable", "error", err)
				return nil
			}
			result := &MatchResult{Geometry: parsed.Geometry}
			for _, sp := range parsed.SnappedPoints {
				result.SnappedPoints = append(result.SnappedPoints, Point{
					Lat: sp.Location.Latitude,
					Lon: sp.Location.Longitude,
				})
			}
			return result
		}

		retry := m.triageStatus(resp.StatusCode, attempt)
		resp.Body.Close()
		if !retry {
			return nil
		}
	}

	m.log.Error("map matching failed after all retries")
	return nil
}

// triageStatus decides whether a non-200 response is worth retrying.
// 470..485 are Neshan-specific codes; all but 482 (rate exceeded) are
// permanent for a given request.
func (m *MapMatcher) triageStatus(status, attempt int) bool {
	switch status {
	case 470, 480, 481, 483, 484, 485, http.StatusNotFound:
		m.log.Error("map matching rejected", "status", status)
		return false
	case 482:
		m.log.Warn("map matching rate exceeded", "attempt", attempt)
		if attempt < matchMaxRetries {
			m.sleep(matchRetryDelay * time.Duration(attempt) * 2)
			return true
		}
		return false
	case http.StatusInternalServerError:
		m.log.Error("map matching server error", "attempt", attempt)
		if attempt < matchMaxRetries {
			m.sleep(matchRetryDelay * time.Duration(attempt))
			return true
		}
		return false
	default:
		m.log.Error("map matching unexpected status", "status", status)
		return false
	}
}
