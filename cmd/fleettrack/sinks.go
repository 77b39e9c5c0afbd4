package main

import (
	"fmt"
	"time"

	"github.com/banshee-data/fleettrack/internal/config"
	"github.com/banshee-data/fleettrack/internal/db"
	"github.com/banshee-data/fleettrack/internal/httputil"
	"github.com/banshee-data/fleettrack/internal/proximity"
	"github.com/banshee-data/fleettrack/internal/resource"
	"github.com/banshee-data/fleettrack/internal/telemetry"
	"github.com/google/uuid"
)

const remoteTimeout = 10 * time.Second

// dialMQTT is replaced in tests.
var dialMQTT = func(cfg telemetry.MQTTConfig) (telemetry.Sink, func() error, error) {
	s, err := telemetry.DialMQTT(cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// buildSink assembles the configured telemetry sinks. The returned close
// function releases every sink that holds a connection. With no sinks
// configured the sink is nil and records are only kept in memory.
func buildSink(cfg *config.TrackingConfig, dbHandle *resource.Handle) (telemetry.Sink, func(), error) {
	var (
		sinks   telemetry.MultiSink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	for _, name := range cfg.TelemetrySinks {
		switch name {
		case config.SinkHTTP:
			sinks = append(sinks, telemetry.NewHTTPSink(cfg.GetTelemetryEndpoint(), httputil.NewTimeoutClient(remoteTimeout)))
		case config.SinkSQLite:
			sinks = append(sinks, db.NewTelemetryStore(dbHandle))
		case config.SinkMQTT:
			clientID := "fleettrack-" + cfg.GetVehicleID()
			if cfg.GetVehicleID() == "" {
				clientID = "fleettrack-" + uuid.NewString()
			}
			s, closeFn, err := dialMQTT(telemetry.MQTTConfig{
				Broker:      cfg.GetMQTTBroker(),
				ClientID:    clientID,
				TopicPrefix: cfg.GetMQTTTopicPrefix(),
				QoS:         cfg.GetMQTTQoS(),
			})
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, s)
			closers = append(closers, closeFn)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown telemetry sink %q", name)
		}
	}

	switch len(sinks) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}

// buildDirectory serves proximity lookups from a remote directory when one
// is configured, else from the local database.
func buildDirectory(cfg *config.TrackingConfig, dbHandle *resource.Handle) proximity.Directory {
	if url := cfg.GetDirectoryURL(); url != "" {
		return proximity.NewHTTPDirectory(url, httputil.NewTimeoutClient(remoteTimeout))
	}
	return db.NewLocationDirectory(dbHandle)
}
