package enrich

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	geocodeCacheSize   = 1000
	nominatimMinPeriod = 1100 * time.Millisecond
)

// AddressProvider resolves a coordinate to a human-readable address.
type AddressProvider interface {
	Name() string
	Address(lat, lon float64) (string, error)
}

// Nominatim resolves addresses through an OSM Nominatim endpoint. The public
// instance enforces one request per second, so calls against it are paced.
type Nominatim struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client

	mu   sync.Mutex
	last time.Time
}

func NewNominatim(baseURL, userAgent string) *Nominatim {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org/reverse"
	}
	return &Nominatim{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *Nominatim) Name() string { return "nominatim" }

func (n *Nominatim) Address(lat, lon float64) (string, error) {
	if strings.Contains(n.BaseURL, "nominatim.openstreetmap.org") {
		n.mu.Lock()
		if wait := nominatimMinPeriod - time.Since(n.last); wait > 0 {
			time.Sleep(wait)
		}
		n.last = time.Now()
		n.mu.Unlock()
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%g", lat))
	q.Set("lon", fmt.Sprintf("%g", lon))
	q.Set("format", "json")
	q.Set("accept-language", "fa")
	q.Set("addressdetails", "1")

	req, err := http.NewRequest(http.MethodGet, n.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", n.UserAgent)

	resp, err := n.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nominatim status %d", resp.StatusCode)
	}

	var parsed struct {
		DisplayName string            `json:"display_name"`
		Address     map[string]string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Address) > 0 {
		if formatted := FormatAddress(parsed.Address); formatted != "" {
			return formatted, nil
		}
	}
	return parsed.DisplayName, nil
}

// OpenCage is the fallback geocoding provider.
type OpenCage struct {
	APIKey string
	Client *http.Client
}

func NewOpenCage(apiKey string) *OpenCage {
	return &OpenCage{
		APIKey: apiKey,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (o *OpenCage) Name() string { return "opencage" }

func (o *OpenCage) Address(lat, lon float64) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("opencage api key not set")
	}

	q := url.Values{}
	q.Set("q", fmt.Sprintf("%g+%g", lat, lon))
	q.Set("key", o.APIKey)
	q.Set("language", "fa")

	resp, err := o.Client.Get("https://api.opencagedata.com/geocode/v1/json?" + q.Encode())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("opencage status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Components map[string]string `json:"components"`
			Formatted  string            `json:"formatted"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Results) == 0 {
		return "", fmt.Errorf("opencage: no results")
	}
	first := parsed.Results[0]
	if len(first.Components) > 0 {
		if formatted := FormatAddress(first.Components); formatted != "" {
			return formatted, nil
		}
	}
	return first.Formatted, nil
}

// Geocoder rotates over its providers round-robin and memoizes addresses by
// coordinate rounded to four decimals (roughly 11 m).
type Geocoder struct {
	providers []AddressProvider
	log       *slog.Logger

	mu    sync.Mutex
	next  int
	cache map[string]string
}

func NewGeocoder(log *slog.Logger, providers ...AddressProvider) *Geocoder {
	return &Geocoder{
		providers: providers,
		log:       log.With("component", "geocoder"),
		cache:     make(map[string]string),
	}
}

// Address resolves lat/lon to an address, or "" when every provider fails.
func (g *Geocoder) Address(lat, lon float64) string {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)

	g.mu.Lock()
	if addr, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return addr
	}
	start := g.next
	if len(g.providers) > 0 {
		g.next = (g.next + 1) % len(g.providers)
	}
	g.mu.Unlock()

	for i := range g.providers {
		p := g.providers[(start+i)%len(g.providers)]
		addr, err := p.Address(lat, lon)
		if err != nil {
			g.log.Warn("geocoding provider failed", "provider", p.Name(), "error", err)
			continue
		}
		if addr == "" {
			continue
		}
		g.mu.Lock()
		if len(g.cache) >= geocodeCacheSize {
			for k := range g.cache {
				delete(g.cache, k)
				break
			}
		}
		g.cache[key] = addr
		g.mu.Unlock()
		return addr
	}

	g.log.Error("all geocoding providers failed", "lat", lat, "lon", lon)
	return ""
}

// FormatAddress joins address components as
// province - city - road - finer parts, dropping country and postcode.
func FormatAddress(details map[string]string) string {
	var parts []string

	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		for _, existing := range parts {
			if existing == v {
				return
			}
		}
		parts = append(parts, v)
	}

	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(details[k]); v != "" {
				return v
			}
		}
		return ""
	}

	add(pick("state", "province", "region"))
	add(pick("city", "town", "village", "county", "district"))
	add(pick("road", "street", "highway", "pedestrian", "residential"))
	for _, k := range []string{"neighbourhood", "suburb", "city_district", "quarter", "hamlet", "house_number", "building", "public_building"} {
		add(details[k])
	}

	return strings.Join(parts, " - ")
}
