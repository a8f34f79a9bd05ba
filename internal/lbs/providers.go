package lbs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const providerTimeout = 6 * time.Second

// OpenCellID queries the paid opencellid.org cell endpoint. The service has
// shuffled its URL layout over time, so a few known patterns are tried.
type OpenCellID struct {
	Key    string
	Client *http.Client
}

func NewOpenCellID(key string) *OpenCellID {
	return &OpenCellID{Key: key, Client: &http.Client{Timeout: providerTimeout}}
}

func (p *OpenCellID) Name() string { return "opencellid" }

func (p *OpenCellID) Locate(key CellKey) (*Location, error) {
	if p.Key == "" {
		return nil, nil
	}
	urls := []string{
		fmt.Sprintf("https://opencellid.org/cell/get?mcc=%d&mnc=%d&lac=%d&cellid=%d&fmt=json&key=%s",
			key.MCC, key.MNC, key.LAC, key.CID, p.Key),
		fmt.Sprintf("https://www.opencellid.org/cell/get?mcc=%d&mnc=%d&lac=%d&cellid=%d&fmt=json&key=%s",
			key.MCC, key.MNC, key.LAC, key.CID, p.Key),
	}
	var lastErr error
	for _, url := range urls {
		resp, err := p.Client.Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		loc := parseOpenCellID(resp)
		resp.Body.Close()
		if loc != nil {
			return loc, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

func parseOpenCellID(resp *http.Response) *Location {
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var body struct {
		Lat       *float64 `json:"lat"`
		Latitude  *float64 `json:"latitude"`
		Lon       *float64 `json:"lon"`
		Longitude *float64 `json:"longitude"`
		Range     float64  `json:"range"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	lat, lon := body.Lat, body.Lon
	if lat == nil {
		lat = body.Latitude
	}
	if lon == nil {
		lon = body.Longitude
	}
	if lat == nil || lon == nil {
		return nil
	}
	acc := body.Range
	if acc == 0 {
		acc = body.Accuracy
	}
	return &Location{Lat: *lat, Lon: *lon, Accuracy: acc}
}

// Geolocate queries a community geolocation service speaking the Google-style
// geolocate API (Mozilla Location Service and its successors).
type Geolocate struct {
	URL    string
	Key    string
	Client *http.Client
}

func NewGeolocate(url, key string) *Geolocate {
	return &Geolocate{URL: url, Key: key, Client: &http.Client{Timeout: providerTimeout}}
}

func (p *Geolocate) Name() string { return "geolocate" }

func (p *Geolocate) Locate(key CellKey) (*Location, error) {
	payload := map[string]interface{}{
		"cellTowers": []map[string]int{{
			"mobileCountryCode": key.MCC,
			"mobileNetworkCode": key.MNC,
			"locationAreaCode":  key.LAC,
			"cellId":            key.CID,
		}},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Post(p.URL+"?key="+p.Key, "application/json", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var body struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		Accuracy float64 `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Location.Lat == 0 && body.Location.Lng == 0 {
		return nil, nil
	}
	return &Location{Lat: body.Location.Lat, Lon: body.Location.Lng, Accuracy: body.Accuracy}, nil
}
