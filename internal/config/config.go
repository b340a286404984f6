package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang/geo/r2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Occupancy OccupancyConfig `json:"occupancy" yaml:"occupancy"`
	Heatmap   HeatmapConfig   `json:"heatmap" yaml:"heatmap"`
	Crowd     CrowdConfig     `json:"crowd" yaml:"crowd"`
	Directory DirectoryConfig `json:"directory" yaml:"directory"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultCameraID string `json:"default_camera_id" yaml:"default_camera_id"`
}

// DensityBands are exclusive upper bounds in people per reference unit.
type DensityBands struct {
	Empty  float64 `json:"empty" yaml:"empty"`
	Low    float64 `json:"low" yaml:"low"`
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

type OccupancyProfile struct {
	ReferenceUnit float64      `json:"reference_unit" yaml:"reference_unit"`
	DensityBands  DensityBands `json:"density_bands" yaml:"density_bands"`
	MinConfidence float64      `json:"min_confidence" yaml:"min_confidence"`
}

type OccupancyConfig struct {
	OccupancyProfile `json:",inline" yaml:",inline"`
	// CameraOverrides replace individual non-zero fields of the global
	// profile for one camera.
	CameraOverrides map[string]OccupancyProfile `json:"camera_overrides" yaml:"camera_overrides"`
}

// ForCamera merges any override for cameraID over the global profile.
func (o OccupancyConfig) ForCamera(cameraID string) OccupancyProfile {
	p := o.OccupancyProfile
	ov, ok := o.CameraOverrides[cameraID]
	if !ok {
		return p
	}
	if ov.ReferenceUnit > 0 {
		p.ReferenceUnit = ov.ReferenceUnit
	}
	if ov.DensityBands != (DensityBands{}) {
		p.DensityBands = ov.DensityBands
	}
	if ov.MinConfidence > 0 {
		p.MinConfidence = ov.MinConfidence
	}
	return p
}

type HeatmapConfig struct {
	GridSize float64       `json:"grid_size" yaml:"grid_size"`
	TopN     int           `json:"top_n" yaml:"top_n"`
	Window   time.Duration `json:"window" yaml:"window"`
}

// CountBands are inclusive upper bounds on summed person counts.
type CountBands struct {
	Empty  int `json:"empty" yaml:"empty"`
	Low    int `json:"low" yaml:"low"`
	Medium int `json:"medium" yaml:"medium"`
	High   int `json:"high" yaml:"high"`
}

type CrowdConfig struct {
	Horizon       time.Duration `json:"horizon" yaml:"horizon"`
	CountBands    CountBands    `json:"count_bands" yaml:"count_bands"`
	StaleFallback string        `json:"stale_fallback" yaml:"stale_fallback"`
	ReadMode      string        `json:"read_mode" yaml:"read_mode"`
	FanoutLimit   int           `json:"fanout_limit" yaml:"fanout_limit"`
}

type DirectoryConfig struct {
	Locations []LocationConfig `json:"locations" yaml:"locations" validate:"dive"`
	Cameras   []CameraConfig   `json:"cameras" yaml:"cameras" validate:"dive"`
}

type LocationConfig struct {
	ID      string   `json:"id" yaml:"id" validate:"required"`
	Devices []string `json:"devices" yaml:"devices" validate:"dive,required"`
}

type CameraConfig struct {
	ID    string       `json:"id" yaml:"id" validate:"required"`
	Zones []ZoneConfig `json:"zones" yaml:"zones" validate:"dive"`
}

type ZoneConfig struct {
	ID      string     `json:"id" yaml:"id" validate:"required"`
	Name    string     `json:"name" yaml:"name"`
	Polygon []r2.Point `json:"polygon" yaml:"polygon" validate:"min=3"`
}

type EngineConfig struct {
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew  time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
	AlertCooldown time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit    int    `json:"store_limit" yaml:"store_limit"`
	ZoneLevel     string `json:"zone_level" yaml:"zone_level"`
	LocationLevel string `json:"location_level" yaml:"location_level"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC", DefaultCameraID: "unknown"},
		},
		Occupancy: OccupancyConfig{
			OccupancyProfile: OccupancyProfile{
				ReferenceUnit: 10000,
				DensityBands:  DensityBands{Empty: 0.5, Low: 1.5, Medium: 3.0, High: 5.0},
			},
		},
		Heatmap: HeatmapConfig{GridSize: 100, TopN: 10, Window: 5 * time.Minute},
		Crowd: CrowdConfig{
			Horizon:       5 * time.Minute,
			CountBands:    CountBands{Empty: 0, Low: 3, Medium: 6, High: 10},
			StaleFallback: "moderate",
			ReadMode:      "latest",
			FanoutLimit:   8,
		},
		Engine: EngineConfig{
			DedupeWindow:  2 * time.Second,
			MaxClockSkew:  10 * time.Minute,
			MaxFutureSkew: 5 * time.Second,
			AlertCooldown: time.Minute,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:crowdpulse.db?_pragma=busy_timeout(5000)"},
		Metrics: MetricsConfig{StoreLimit: 5000},
		Alerts:  AlertsConfig{StoreLimit: 1000, ZoneLevel: "overcrowded", LocationLevel: "overcrowded"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

func Parse(content []byte) (*Config, error) {
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	cfg := DefaultConfig()
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultCameraID == "" {
		cfg.Ingest.Parser.DefaultCameraID = "unknown"
	}
	if cfg.Occupancy.ReferenceUnit <= 0 {
		cfg.Occupancy.ReferenceUnit = def.Occupancy.ReferenceUnit
	}
	if cfg.Occupancy.DensityBands == (DensityBands{}) {
		cfg.Occupancy.DensityBands = def.Occupancy.DensityBands
	}
	if cfg.Heatmap.GridSize <= 0 {
		cfg.Heatmap.GridSize = def.Heatmap.GridSize
	}
	if cfg.Heatmap.TopN <= 0 {
		cfg.Heatmap.TopN = def.Heatmap.TopN
	}
	if cfg.Crowd.Horizon <= 0 {
		cfg.Crowd.Horizon = def.Crowd.Horizon
	}
	if cfg.Crowd.CountBands == (CountBands{}) {
		cfg.Crowd.CountBands = def.Crowd.CountBands
	}
	if cfg.Crowd.StaleFallback == "" {
		cfg.Crowd.StaleFallback = def.Crowd.StaleFallback
	}
	if cfg.Crowd.ReadMode == "" {
		cfg.Crowd.ReadMode = def.Crowd.ReadMode
	}
	if cfg.Crowd.FanoutLimit <= 0 {
		cfg.Crowd.FanoutLimit = def.Crowd.FanoutLimit
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
}

var validate = validator.New()

var locationLevels = map[string]struct{}{
	"empty": {}, "low": {}, "medium": {}, "moderate": {}, "high": {}, "overcrowded": {},
}

var zoneLevels = map[string]struct{}{
	"empty": {}, "low": {}, "medium": {}, "high": {}, "overcrowded": {},
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if err := validateProfile("occupancy", cfg.Occupancy.OccupancyProfile); err != nil {
		return err
	}
	for cam := range cfg.Occupancy.CameraOverrides {
		if err := validateProfile("occupancy.camera_overrides."+cam, cfg.Occupancy.ForCamera(cam)); err != nil {
			return err
		}
	}
	if cfg.Heatmap.Window < 0 {
		return errors.New("heatmap.window must be >= 0")
	}
	b := cfg.Crowd.CountBands
	if !(b.Empty >= 0 && b.Empty < b.Low && b.Low < b.Medium && b.Medium < b.High) {
		return fmt.Errorf("crowd.count_bands must be strictly ascending from >= 0: %+v", b)
	}
	if _, ok := locationLevels[cfg.Crowd.StaleFallback]; !ok {
		return fmt.Errorf("crowd.stale_fallback: unknown level %q", cfg.Crowd.StaleFallback)
	}
	switch cfg.Crowd.ReadMode {
	case "latest", "average":
	default:
		return fmt.Errorf("crowd.read_mode must be latest or average, got %q", cfg.Crowd.ReadMode)
	}
	if cfg.Alerts.ZoneLevel != "" {
		if _, ok := zoneLevels[cfg.Alerts.ZoneLevel]; !ok {
			return fmt.Errorf("alerts.zone_level: unknown level %q", cfg.Alerts.ZoneLevel)
		}
	}
	if cfg.Alerts.LocationLevel != "" {
		if _, ok := locationLevels[cfg.Alerts.LocationLevel]; !ok {
			return fmt.Errorf("alerts.location_level: unknown level %q", cfg.Alerts.LocationLevel)
		}
	}
	return ValidateDirectory(cfg.Directory)
}

func validateProfile(name string, p OccupancyProfile) error {
	if p.ReferenceUnit <= 0 {
		return fmt.Errorf("%s.reference_unit must be > 0", name)
	}
	d := p.DensityBands
	if !(d.Empty > 0 && d.Empty < d.Low && d.Low < d.Medium && d.Medium < d.High) {
		return fmt.Errorf("%s.density_bands must be strictly ascending and positive: %+v", name, d)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("%s.min_confidence must be within [0,1]", name)
	}
	return nil
}

// ValidateDirectory rejects configuration the engine must never see: zones
// with fewer than three vertices or non-finite vertices, cameras with zones
// but no owning location, and devices claimed by two locations.
func ValidateDirectory(dir DirectoryConfig) error {
	if err := validate.Struct(dir); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	owner := make(map[string]string)
	for _, loc := range dir.Locations {
		for _, dev := range loc.Devices {
			if prev, ok := owner[dev]; ok && prev != loc.ID {
				return fmt.Errorf("directory: device %q assigned to both %q and %q", dev, prev, loc.ID)
			}
			owner[dev] = loc.ID
		}
	}
	for _, cam := range dir.Cameras {
		if _, ok := owner[cam.ID]; !ok {
			return fmt.Errorf("directory: camera %q has no location", cam.ID)
		}
		for _, z := range cam.Zones {
			for _, v := range z.Polygon {
				if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
					return fmt.Errorf("directory: zone %q on camera %q has a non-finite vertex", z.ID, cam.ID)
				}
			}
		}
	}
	return nil
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
