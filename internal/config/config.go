package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Host        string
	TCPPort     string
	UDPPort     string
	MetricsAddr string
	LogLevel    string

	NATSURL     string
	IngestTopic string

	RedisURL string

	Workers   int
	QueueSize int

	RateLimit     int
	RateWindowSec int
	MaxFrameSize  int

	OpenCellIDKey string
	GeolocateKey  string
	GeolocateURL  string
	NeshanKey     string
	NominatimURL  string
	OpenCageKey   string
	GeocodeAgent  string
}

func LoadConfig() *Config {
	return &Config{
		Host:        getEnv("HOST", "0.0.0.0"),
		TCPPort:     getEnv("TCP_PORT", "5023"),
		UDPPort:     getEnv("UDP_PORT", "5023"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		NATSURL:     getEnv("NATS_URL", ""),
		IngestTopic: getEnv("INGEST_TOPIC", "track.ingest"),

		RedisURL: getEnv("REDIS_URL", ""),

		Workers:   getEnvInt("WORKERS", 20),
		QueueSize: getEnvInt("QUEUE_SIZE", 256),

		RateLimit:     getEnvInt("RATE_LIMIT", 20),
		RateWindowSec: getEnvInt("RATE_WINDOW_SEC", 60),
		MaxFrameSize:  getEnvInt("MAX_FRAME_SIZE", 2000),

		OpenCellIDKey: getEnv("OPENCELLID_API_KEY", ""),
		GeolocateKey:  getEnv("GEOLOCATE_API_KEY", ""),
		GeolocateURL:  getEnv("GEOLOCATE_URL", ""),
		NeshanKey:     getEnv("NESHAN_SERVICE_API_KEY", ""),
		NominatimURL:  getEnv("NOMINATIM_BASE_URL", ""),
		OpenCageKey:   getEnv("OPENCAGE_API_KEY", ""),
		GeocodeAgent:  getEnv("GEOCODE_USER_AGENT", "trackcore/1.0"),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.TrimSpace(value)
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
