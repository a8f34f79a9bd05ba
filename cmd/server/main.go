package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"trackcore/internal/cache"
	"trackcore/internal/config"
	"trackcore/internal/core/repository"
	"trackcore/internal/enrich"
	"trackcore/internal/ingest"
	"trackcore/internal/lbs"
	"trackcore/internal/observability"
	"trackcore/internal/protocol/gt06"
	"trackcore/internal/protocol/hq"
	"trackcore/internal/protocol/jt808"
	"trackcore/internal/security"
	"trackcore/internal/state"
)

func main() {
	cfg := config.LoadConfig()
	logger := observability.NewLogger(cfg.LogLevel, "trackcore")

	// Storage
	mongoConfig := config.NewMongoConfig()
	db, err := config.ConnectMongoDB(mongoConfig)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to MongoDB", "database", mongoConfig.Database)

	deviceRepo := repository.NewMongoDeviceRepository(db)
	positionRepo := repository.NewMongoPositionRepository(db)
	rawFrameRepo := repository.NewMongoRawFrameRepository(db)
	changeRepo := repository.NewMongoStateChangeRepository(db)
	denylistRepo := repository.NewMongoDenylistRepository(db)

	shadow := cache.NewShadowStore(cfg.RedisURL, logger)
	defer shadow.Close()

	// Bus
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Info("NATS url not provided, bus transport and broadcast disabled")
	}

	// Cell tower resolver chain
	var cellProviders []lbs.Provider
	if cfg.OpenCellIDKey != "" {
		cellProviders = append(cellProviders, lbs.NewOpenCellID(cfg.OpenCellIDKey))
	}
	if cfg.GeolocateKey != "" {
		cellProviders = append(cellProviders, lbs.NewGeolocate(cfg.GeolocateURL, cfg.GeolocateKey))
	}
	resolver := lbs.NewResolver(logger, cellProviders...)

	// Enrichment
	geocoder := enrich.NewGeocoder(logger,
		enrich.NewNominatim(cfg.NominatimURL, cfg.GeocodeAgent),
		enrich.NewOpenCage(cfg.OpenCageKey))
	matcher := enrich.NewMapMatcher(cfg.NeshanKey, logger)

	metrics := observability.NewMetrics()

	gate := security.NewGate(
		security.WithRateLimit(cfg.RateLimit, time.Duration(cfg.RateWindowSec)*time.Second),
		security.WithMaxFrameSize(cfg.MaxFrameSize))

	pipeline := ingest.NewPipeline(ingest.PipelineDeps{
		Gate:        gate,
		HQ:          hq.NewDecoder(resolver),
		JT808:       jt808.NewDecoder(),
		GT06:        gt06.NewDecoder(),
		Classifier:  state.NewClassifier(),
		Devices:     deviceRepo,
		Positions:   positionRepo,
		RawFrames:   rawFrameRepo,
		Changes:     changeRepo,
		Denylist:    denylistRepo,
		Shadow:      shadow,
		Geocoder:    geocoder,
		Matcher:     matcher,
		Broadcaster: ingest.NewBroadcaster(nc, logger),
		Metrics:     metrics,
		Log:         logger,
	})

	pool := ingest.NewPool(cfg.Workers, cfg.QueueSize, metrics, logger)
	server := ingest.NewServer(cfg.Host, cfg.TCPPort, cfg.UDPPort, cfg.IngestTopic, pipeline, pool, nc, logger)
	if err := server.Start(); err != nil {
		logger.Error("failed to start ingest server", "error", err)
		os.Exit(1)
	}

	obs := observability.NewServer(cfg.MetricsAddr, logger)
	obs.Start()

	logger.Info("trackcore running",
		"tcp", cfg.TCPPort, "udp", cfg.UDPPort, "metrics", cfg.MetricsAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	server.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs.Stop(ctx)
}
