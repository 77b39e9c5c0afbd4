package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/banshee-data/fleettrack/internal/fusion"
	"github.com/banshee-data/fleettrack/internal/proximity"
	"github.com/banshee-data/fleettrack/internal/serialmux"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/telemetry"
	"github.com/banshee-data/fleettrack/internal/tracking"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/tracking.defaults.json"

// Telemetry sink names accepted in telemetry_sinks.
const (
	SinkHTTP   = "http"
	SinkMQTT   = "mqtt"
	SinkSQLite = "sqlite"
)

// TrackingConfig is the root configuration. Every field is optional: nil
// fields fall back to the defaults returned by the Get* methods, so partial
// files are safe. JSON and YAML share the same keys.
type TrackingConfig struct {
	// Acquisition
	HighAccuracy       *bool    `json:"high_accuracy,omitempty" yaml:"high_accuracy,omitempty"`
	AcquisitionTimeout *string  `json:"acquisition_timeout,omitempty" yaml:"acquisition_timeout,omitempty"` // duration string like "10s"
	MaxSampleAge       *string  `json:"max_sample_age,omitempty" yaml:"max_sample_age,omitempty"`
	AutoStart          *bool    `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`
	UERE               *float64 `json:"uere_m,omitempty" yaml:"uere_m,omitempty" validate:"omitempty,gt=0,lte=100"`

	// Serial receiver
	SerialPort     *string                `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	SerialOptions  *serialmux.PortOptions `json:"serial_options,omitempty" yaml:"serial_options,omitempty"`
	SerialInitCmds []string               `json:"serial_init_commands,omitempty" yaml:"serial_init_commands,omitempty"`

	// Fusion gates
	MinHeadingDistanceM *float64 `json:"min_heading_distance_m,omitempty" yaml:"min_heading_distance_m,omitempty" validate:"omitempty,gte=0"`
	MinHeadingSpeedKmh  *float64 `json:"min_heading_speed_kmh,omitempty" yaml:"min_heading_speed_kmh,omitempty" validate:"omitempty,gte=0"`
	HighSpeedKmh        *float64 `json:"high_speed_kmh,omitempty" yaml:"high_speed_kmh,omitempty" validate:"omitempty,gte=0"`
	LongDistanceM       *float64 `json:"long_distance_m,omitempty" yaml:"long_distance_m,omitempty" validate:"omitempty,gte=0"`
	LargeDiffDeg        *float64 `json:"large_diff_deg,omitempty" yaml:"large_diff_deg,omitempty" validate:"omitempty,gte=0,lte=180"`
	MinHeadingChangeDeg *float64 `json:"min_heading_change_deg,omitempty" yaml:"min_heading_change_deg,omitempty" validate:"omitempty,gte=0,lte=180"`
	PathGateM           *float64 `json:"path_gate_m,omitempty" yaml:"path_gate_m,omitempty" validate:"omitempty,gt=0"`

	// Telemetry
	LoggingEnabled    *bool    `json:"logging_enabled,omitempty" yaml:"logging_enabled,omitempty"`
	SessionID         *string  `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	VehicleID         *string  `json:"vehicle_id,omitempty" yaml:"vehicle_id,omitempty"`
	TelemetryInterval *string  `json:"telemetry_interval,omitempty" yaml:"telemetry_interval,omitempty"`
	TelemetrySinks    []string `json:"telemetry_sinks,omitempty" yaml:"telemetry_sinks,omitempty" validate:"dive,oneof=http mqtt sqlite"`
	TelemetryEndpoint *string  `json:"telemetry_endpoint,omitempty" yaml:"telemetry_endpoint,omitempty" validate:"omitempty,url"`
	MQTTBroker        *string  `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty" validate:"omitempty,url"`
	MQTTTopicPrefix   *string  `json:"mqtt_topic_prefix,omitempty" yaml:"mqtt_topic_prefix,omitempty"`
	MQTTQoS           *int     `json:"mqtt_qos,omitempty" yaml:"mqtt_qos,omitempty" validate:"omitempty,min=0,max=2"`

	// Proximity
	ProximityEnabled    *bool    `json:"proximity_enabled,omitempty" yaml:"proximity_enabled,omitempty"`
	ProximityPhase      *string  `json:"proximity_phase,omitempty" yaml:"proximity_phase,omitempty"`
	ProximityRadiusM    *float64 `json:"proximity_radius_m,omitempty" yaml:"proximity_radius_m,omitempty" validate:"omitempty,gt=0,lte=10000"`
	ProximityIntervalMs *int     `json:"proximity_interval_ms,omitempty" yaml:"proximity_interval_ms,omitempty" validate:"omitempty,gte=100"`
	ProximityPopupMs    *int     `json:"proximity_popup_ms,omitempty" yaml:"proximity_popup_ms,omitempty" validate:"omitempty,gte=0"`
	ProximityFadeMs     *int     `json:"proximity_fade_ms,omitempty" yaml:"proximity_fade_ms,omitempty" validate:"omitempty,gte=0"`
	DirectoryURL        *string  `json:"directory_url,omitempty" yaml:"directory_url,omitempty" validate:"omitempty,url"`

	// Storage and HTTP
	DBPath     *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty" validate:"omitempty,hostname_port"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTrackingConfig returns a config with every field unset.
func EmptyTrackingConfig() *TrackingConfig {
	return &TrackingConfig{}
}

// DefaultTrackingConfig returns a config with every field set to its
// default. It matches config/tracking.defaults.json.
func DefaultTrackingConfig() *TrackingConfig {
	th := fusion.DefaultThresholds()
	return &TrackingConfig{
		HighAccuracy:        ptrBool(true),
		AcquisitionTimeout:  ptrString("15s"),
		MaxSampleAge:        ptrString("0s"),
		AutoStart:           ptrBool(false),
		MinHeadingDistanceM: ptrFloat64(th.MinHeadingDistanceM),
		MinHeadingSpeedKmh:  ptrFloat64(th.MinHeadingSpeedKmh),
		HighSpeedKmh:        ptrFloat64(th.HighSpeedKmh),
		LongDistanceM:       ptrFloat64(th.LongDistanceM),
		LargeDiffDeg:        ptrFloat64(th.LargeDiffDeg),
		MinHeadingChangeDeg: ptrFloat64(th.MinHeadingChangeDeg),
		PathGateM:           ptrFloat64(tracking.DefaultPathGateM),
		LoggingEnabled:      ptrBool(false),
		TelemetryInterval:   ptrString("5s"),
		ProximityEnabled:    ptrBool(true),
		ProximityRadiusM:    ptrFloat64(proximity.DefaultRadiusM),
		ProximityIntervalMs: ptrInt(int(proximity.DefaultInterval / time.Millisecond)),
		ProximityPopupMs:    ptrInt(int(proximity.DefaultPopupDuration / time.Millisecond)),
		ProximityFadeMs:     ptrInt(int(proximity.DefaultFadeDelay / time.Millisecond)),
		DBPath:              ptrString("fleettrack.db"),
		ListenAddr:          ptrString(":8080"),
	}
}

// LoadTrackingConfig reads a .json, .yaml or .yml file and validates it.
func LoadTrackingConfig(path string) (*TrackingConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTrackingConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics when the file cannot be found and is
// meant for test setup.
func MustLoadDefaultConfig() *TrackingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTrackingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges, duration strings and sink prerequisites.
func (c *TrackingConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	for name, v := range map[string]*string{
		"acquisition_timeout": c.AcquisitionTimeout,
		"max_sample_age":      c.MaxSampleAge,
		"telemetry_interval":  c.TelemetryInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.SerialOptions != nil {
		if _, err := c.SerialOptions.Normalize(); err != nil {
			return fmt.Errorf("serial_options: %w", err)
		}
	}
	if slices.Contains(c.TelemetrySinks, SinkHTTP) && c.GetTelemetryEndpoint() == "" {
		return errors.New("telemetry_endpoint is required for the http sink")
	}
	if slices.Contains(c.TelemetrySinks, SinkMQTT) && c.GetMQTTBroker() == "" {
		return errors.New("mqtt_broker is required for the mqtt sink")
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func msOr(v *int, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return time.Duration(*v) * time.Millisecond
}

// GetAcquisitionTimeout returns acquisition_timeout or 15s.
func (c *TrackingConfig) GetAcquisitionTimeout() time.Duration {
	return durationOr(c.AcquisitionTimeout, 15*time.Second)
}

// GetMaxSampleAge returns max_sample_age or 0 (no cache).
func (c *TrackingConfig) GetMaxSampleAge() time.Duration {
	return durationOr(c.MaxSampleAge, 0)
}

// GetHighAccuracy returns high_accuracy or true.
func (c *TrackingConfig) GetHighAccuracy() bool { return boolOr(c.HighAccuracy, true) }

// GetAutoStart returns auto_start or false.
func (c *TrackingConfig) GetAutoStart() bool { return boolOr(c.AutoStart, false) }

// GetUERE returns uere_m or 0, which selects the NMEA default.
func (c *TrackingConfig) GetUERE() float64 { return floatOr(c.UERE, 0) }

// GetSerialPort returns serial_port, empty when no receiver is configured.
func (c *TrackingConfig) GetSerialPort() string { return stringOr(c.SerialPort, "") }

// GetSerialOptions returns the normalised serial options.
func (c *TrackingConfig) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.SerialOptions != nil {
		opts = *c.SerialOptions
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

// GetPathGateM returns path_gate_m or tracking.DefaultPathGateM.
func (c *TrackingConfig) GetPathGateM() float64 {
	return floatOr(c.PathGateM, tracking.DefaultPathGateM)
}

// GetThresholds returns the fusion gates with defaults filled in.
func (c *TrackingConfig) GetThresholds() fusion.Thresholds {
	def := fusion.DefaultThresholds()
	return fusion.Thresholds{
		MinHeadingDistanceM: floatOr(c.MinHeadingDistanceM, def.MinHeadingDistanceM),
		MinHeadingSpeedKmh:  floatOr(c.MinHeadingSpeedKmh, def.MinHeadingSpeedKmh),
		HighSpeedKmh:        floatOr(c.HighSpeedKmh, def.HighSpeedKmh),
		LongDistanceM:       floatOr(c.LongDistanceM, def.LongDistanceM),
		LargeDiffDeg:        floatOr(c.LargeDiffDeg, def.LargeDiffDeg),
		MinHeadingChangeDeg: floatOr(c.MinHeadingChangeDeg, def.MinHeadingChangeDeg),
	}
}

// GetLoggingEnabled returns logging_enabled or false.
func (c *TrackingConfig) GetLoggingEnabled() bool { return boolOr(c.LoggingEnabled, false) }

// GetSessionID returns session_id, empty to use the tracker's session ids.
func (c *TrackingConfig) GetSessionID() string { return stringOr(c.SessionID, "") }

// GetVehicleID returns vehicle_id.
func (c *TrackingConfig) GetVehicleID() string { return stringOr(c.VehicleID, "") }

// GetTelemetryInterval returns telemetry_interval or 5s.
func (c *TrackingConfig) GetTelemetryInterval() time.Duration {
	return durationOr(c.TelemetryInterval, telemetry.DefaultInterval)
}

// GetTelemetryEndpoint returns telemetry_endpoint.
func (c *TrackingConfig) GetTelemetryEndpoint() string { return stringOr(c.TelemetryEndpoint, "") }

// GetMQTTBroker returns mqtt_broker.
func (c *TrackingConfig) GetMQTTBroker() string { return stringOr(c.MQTTBroker, "") }

// GetMQTTTopicPrefix returns mqtt_topic_prefix or "fleettrack".
func (c *TrackingConfig) GetMQTTTopicPrefix() string {
	return stringOr(c.MQTTTopicPrefix, "fleettrack")
}

// GetMQTTQoS returns mqtt_qos or 1.
func (c *TrackingConfig) GetMQTTQoS() byte {
	if c.MQTTQoS == nil {
		return 1
	}
	return byte(*c.MQTTQoS)
}

// GetProximityEnabled returns proximity_enabled or true.
func (c *TrackingConfig) GetProximityEnabled() bool { return boolOr(c.ProximityEnabled, true) }

// GetProximityPhase returns proximity_phase.
func (c *TrackingConfig) GetProximityPhase() string { return stringOr(c.ProximityPhase, "") }

// GetDirectoryURL returns directory_url, empty to use the local database.
func (c *TrackingConfig) GetDirectoryURL() string { return stringOr(c.DirectoryURL, "") }

// GetDBPath returns db_path or "fleettrack.db".
func (c *TrackingConfig) GetDBPath() string { return stringOr(c.DBPath, "fleettrack.db") }

// GetListenAddr returns listen_addr or ":8080".
func (c *TrackingConfig) GetListenAddr() string { return stringOr(c.ListenAddr, ":8080") }

// SourceOptions converts the acquisition settings.
func (c *TrackingConfig) SourceOptions() source.Options {
	return source.Options{
		HighAccuracy: c.GetHighAccuracy(),
		Timeout:      c.GetAcquisitionTimeout(),
		MaxAge:       c.GetMaxSampleAge(),
	}
}

// TrackerConfig converts the settings used by tracking.Tracker.
func (c *TrackingConfig) TrackerConfig() tracking.Config {
	return tracking.Config{
		Options:    c.SourceOptions(),
		Thresholds: c.GetThresholds(),
		PathGateM:  c.GetPathGateM(),
	}
}

// EmitterConfig converts the settings used by telemetry.Emitter.
func (c *TrackingConfig) EmitterConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:   c.GetLoggingEnabled(),
		Interval:  c.GetTelemetryInterval(),
		SessionID: c.GetSessionID(),
		VehicleID: c.GetVehicleID(),
	}
}

// ScannerConfig converts the settings used by proximity.Scanner.
func (c *TrackingConfig) ScannerConfig() proximity.Config {
	return proximity.Config{
		Interval:      msOr(c.ProximityIntervalMs, proximity.DefaultInterval),
		RadiusM:       floatOr(c.ProximityRadiusM, proximity.DefaultRadiusM),
		PopupDuration: msOr(c.ProximityPopupMs, proximity.DefaultPopupDuration),
		FadeDelay:     msOr(c.ProximityFadeMs, proximity.DefaultFadeDelay),
	}
}
