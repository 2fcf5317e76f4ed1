package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds runtime options.
type Config struct {
	// Deployment constants stamped onto every record.
	Measurement     string `json:"measurement,omitempty" yaml:"measurement,omitempty"`
	SensorTag       string `json:"sensor_tag,omitempty" yaml:"sensor_tag,omitempty"`
	LocationTag     string `json:"location_tag,omitempty" yaml:"location_tag,omitempty"`
	SchemaSupported int    `json:"schema_supported,omitempty" yaml:"schema_supported,omitempty"`

	Source    string `json:"source,omitempty" yaml:"source,omitempty"` // lines|homeassistant
	InputPath string `json:"input,omitempty" yaml:"input,omitempty"`
	// Home Assistant websocket source
	HAURL          string `json:"ha_url,omitempty" yaml:"ha_url,omitempty"`
	HAToken        string `json:"ha_token,omitempty" yaml:"ha_token,omitempty"`
	SpectrumEntity string `json:"spectrum_entity,omitempty" yaml:"spectrum_entity,omitempty"`
	CPULoadEntity  string `json:"cpu_load_entity,omitempty" yaml:"cpu_load_entity,omitempty"`

	OutputPath     string `json:"output,omitempty" yaml:"output,omitempty"`
	ReportPath     string `json:"report,omitempty" yaml:"report,omitempty"`
	OutputType     string `json:"output_type,omitempty" yaml:"output_type,omitempty"` // stdout|file|rotate|http|kafka
	OutputMaxB     int64  `json:"output_max_bytes,omitempty" yaml:"output_max_bytes,omitempty"`
	OutputMaxFiles int    `json:"output_max_files,omitempty" yaml:"output_max_files,omitempty"`
	// InfluxDB v2 write API
	InfluxOrg    string `json:"influx_org,omitempty" yaml:"influx_org,omitempty"`
	InfluxBucket string `json:"influx_bucket,omitempty" yaml:"influx_bucket,omitempty"`
	InfluxToken  string `json:"influx_token,omitempty" yaml:"influx_token,omitempty"`
	HTTPGzip     bool   `json:"http_gzip,omitempty" yaml:"http_gzip,omitempty"`
	// Kafka
	KafkaBrokers []string `json:"kafka_brokers,omitempty" yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `json:"kafka_topic,omitempty" yaml:"kafka_topic,omitempty"`

	Transforms []string `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	DropFields []string `json:"drop_fields,omitempty" yaml:"drop_fields,omitempty"`
	MinRMS     float64  `json:"min_rms,omitempty" yaml:"min_rms,omitempty"`

	// Classify holds the rule thresholds of the classify transform.
	Classify ClassifyConfig `json:"classify,omitempty" yaml:"classify,omitempty"`

	// CPUSampleMS enables the host CPU sampler feeding the cpu_load cache.
	CPUSampleMS int `json:"cpu_sample_ms,omitempty" yaml:"cpu_sample_ms,omitempty"`

	SinkMaxRetries    int     `json:"sink_max_retries,omitempty" yaml:"sink_max_retries,omitempty"`
	SinkBackoffBaseMS int     `json:"sink_backoff_base_ms,omitempty" yaml:"sink_backoff_base_ms,omitempty"`
	SinkBackoffMaxMS  int     `json:"sink_backoff_max_ms,omitempty" yaml:"sink_backoff_max_ms,omitempty"`
	SinkBackoffJitter float64 `json:"sink_backoff_jitter_pct,omitempty" yaml:"sink_backoff_jitter_pct,omitempty"`
	DLQPath           string  `json:"dlq,omitempty" yaml:"dlq,omitempty"`
	// Batching configuration
	BatchSize          int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	BatchFlushInterval int `json:"batch_flush_interval_ms,omitempty" yaml:"batch_flush_interval_ms,omitempty"`
	// Shutdown configuration
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds,omitempty" yaml:"shutdown_timeout_seconds,omitempty"`
	// Logging configuration
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty"`   // debug, info, warn, error
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"` // json, text

	// explicit holds keys set by a file or flag, so Merge can apply zero
	// values such as sink_max_retries: 0 or http_gzip: false.
	explicit map[string]bool
}

// ClassifyConfig holds the thresholds of the rule-based device classifier.
type ClassifyConfig struct {
	TagKey         string  `json:"tag_key,omitempty" yaml:"tag_key,omitempty"`
	PumpPeakMinHz  float64 `json:"pump_peak_min_hz,omitempty" yaml:"pump_peak_min_hz,omitempty"`
	PumpPeakMaxHz  float64 `json:"pump_peak_max_hz,omitempty" yaml:"pump_peak_max_hz,omitempty"`
	PumpMinRMS     float64 `json:"pump_min_rms,omitempty" yaml:"pump_min_rms,omitempty"`
	PumpMinBand    float64 `json:"pump_min_band,omitempty" yaml:"pump_min_band,omitempty"`
	FanMinRMS      float64 `json:"fan_min_rms,omitempty" yaml:"fan_min_rms,omitempty"`
	FanMaxRMS      float64 `json:"fan_max_rms,omitempty" yaml:"fan_max_rms,omitempty"`
	FanMinBandMean float64 `json:"fan_min_band_mean,omitempty" yaml:"fan_min_band_mean,omitempty"`
	IdleMaxRMS     float64 `json:"idle_max_rms,omitempty" yaml:"idle_max_rms,omitempty"`
}

// DefaultClassify returns the thresholds of the bundled analysis rules.
func DefaultClassify() ClassifyConfig {
	return ClassifyConfig{
		TagKey:         "device",
		PumpPeakMinHz:  45,
		PumpPeakMaxHz:  55,
		PumpMinRMS:     0.02,
		PumpMinBand:    15,
		FanMinRMS:      0.01,
		FanMaxRMS:      0.03,
		FanMinBandMean: 8,
		IdleMaxRMS:     0.005,
	}
}

// MarkSet records keys as explicitly set, letting their zero values win in
// Merge.
func (c *Config) MarkSet(keys ...string) {
	if c.explicit == nil {
		c.explicit = make(map[string]bool, len(keys))
	}
	for _, k := range keys {
		c.explicit[k] = true
	}
}

// IsSet reports whether key was explicitly set.
func (c Config) IsSet(key string) bool {
	return c.explicit[key]
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Measurement:            "body_sound",
		SensorTag:              "body_sound_1",
		LocationTag:            "basement",
		SchemaSupported:        1,
		Source:                 "lines",
		InputPath:              "-",
		SpectrumEntity:         "text_sensor.body_sound_spectrum_json",
		CPULoadEntity:          "sensor.body_sound_cpu_load",
		ReportPath:             "report.json",
		OutputType:             "stdout",
		OutputMaxB:             10 * 1024 * 1024, // 10 MiB default rotation threshold
		OutputMaxFiles:         5,
		KafkaTopic:             "body_sound",
		Transforms:             []string{"field_filter"},
		Classify:               DefaultClassify(),
		SinkMaxRetries:         3,
		SinkBackoffBaseMS:      100,
		SinkBackoffMaxMS:       2000,
		SinkBackoffJitter:      0.2,
		BatchSize:              1,
		BatchFlushInterval:     1000,
		ShutdownTimeoutSeconds: 30,
		LogLevel:               "info",
		LogFormat:              "json",
	}
}

// Merge overlays non-zero values from override onto base.
func Merge(base, override Config) Config {
	result := base

	if override.Measurement != "" {
		result.Measurement = override.Measurement
	}
	if override.SensorTag != "" {
		result.SensorTag = override.SensorTag
	}
	if override.LocationTag != "" {
		result.LocationTag = override.LocationTag
	}
	if override.SchemaSupported > 0 {
		result.SchemaSupported = override.SchemaSupported
	}
	if override.Source != "" {
		result.Source = override.Source
	}
	if override.InputPath != "" {
		result.InputPath = override.InputPath
	}
	if override.HAURL != "" {
		result.HAURL = override.HAURL
	}
	if override.HAToken != "" {
		result.HAToken = override.HAToken
	}
	if override.SpectrumEntity != "" {
		result.SpectrumEntity = override.SpectrumEntity
	}
	if override.CPULoadEntity != "" {
		result.CPULoadEntity = override.CPULoadEntity
	}
	if override.OutputPath != "" {
		result.OutputPath = override.OutputPath
	}
	if override.OutputType != "" {
		result.OutputType = override.OutputType
	}
	if override.OutputMaxB != 0 {
		result.OutputMaxB = override.OutputMaxB
	}
	if override.OutputMaxFiles != 0 {
		result.OutputMaxFiles = override.OutputMaxFiles
	}
	if override.ReportPath != "" {
		result.ReportPath = override.ReportPath
	}
	if override.InfluxOrg != "" {
		result.InfluxOrg = override.InfluxOrg
	}
	if override.InfluxBucket != "" {
		result.InfluxBucket = override.InfluxBucket
	}
	if override.InfluxToken != "" {
		result.InfluxToken = override.InfluxToken
	}
	if override.HTTPGzip || override.IsSet("http_gzip") {
		result.HTTPGzip = override.HTTPGzip
	}
	if len(override.KafkaBrokers) > 0 {
		result.KafkaBrokers = override.KafkaBrokers
	}
	if override.KafkaTopic != "" {
		result.KafkaTopic = override.KafkaTopic
	}
	if len(override.Transforms) > 0 {
		result.Transforms = override.Transforms
	}
	if len(override.DropFields) > 0 {
		result.DropFields = override.DropFields
	}
	if override.MinRMS > 0 || override.IsSet("min_rms") {
		result.MinRMS = override.MinRMS
	}
	result.Classify = mergeClassify(result.Classify, override.Classify)
	if override.CPUSampleMS > 0 || override.IsSet("cpu_sample_ms") {
		result.CPUSampleMS = override.CPUSampleMS
	}
	if override.SinkMaxRetries > 0 || override.IsSet("sink_max_retries") {
		result.SinkMaxRetries = override.SinkMaxRetries
	}
	if override.SinkBackoffBaseMS > 0 {
		result.SinkBackoffBaseMS = override.SinkBackoffBaseMS
	}
	if override.SinkBackoffMaxMS > 0 {
		result.SinkBackoffMaxMS = override.SinkBackoffMaxMS
	}
	if override.SinkBackoffJitter > 0 || override.IsSet("sink_backoff_jitter_pct") {
		result.SinkBackoffJitter = override.SinkBackoffJitter
	}
	if override.DLQPath != "" {
		result.DLQPath = override.DLQPath
	}
	if override.BatchSize > 0 {
		result.BatchSize = override.BatchSize
	}
	if override.BatchFlushInterval > 0 {
		result.BatchFlushInterval = override.BatchFlushInterval
	}
	if override.ShutdownTimeoutSeconds > 0 {
		result.ShutdownTimeoutSeconds = override.ShutdownTimeoutSeconds
	}
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		result.LogFormat = override.LogFormat
	}

	result.explicit = nil
	for _, set := range []map[string]bool{base.explicit, override.explicit} {
		for k := range set {
			result.MarkSet(k)
		}
	}
	return result
}

func mergeClassify(base, override ClassifyConfig) ClassifyConfig {
	result := base
	if override.TagKey != "" {
		result.TagKey = override.TagKey
	}
	floats := []struct {
		dst *float64
		v   float64
	}{
		{&result.PumpPeakMinHz, override.PumpPeakMinHz},
		{&result.PumpPeakMaxHz, override.PumpPeakMaxHz},
		{&result.PumpMinRMS, override.PumpMinRMS},
		{&result.PumpMinBand, override.PumpMinBand},
		{&result.FanMinRMS, override.FanMinRMS},
		{&result.FanMaxRMS, override.FanMaxRMS},
		{&result.FanMinBandMean, override.FanMinBandMean},
		{&result.IdleMaxRMS, override.IdleMaxRMS},
	}
	for _, f := range floats {
		if f.v != 0 {
			*f.dst = f.v
		}
	}
	return result
}

// FromEnv applies SPECTRUM_* environment overrides to the provided config.
func FromEnv(base Config) Config {
	return fromLookup(base, os.Getenv)
}

func fromLookup(base Config, getenv func(string) string) Config {
	result := base

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = parsed
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = ParseList(v)
		}
	}

	str("SPECTRUM_MEASUREMENT", &result.Measurement)
	str("SPECTRUM_SENSOR_TAG", &result.SensorTag)
	str("SPECTRUM_LOCATION_TAG", &result.LocationTag)
	integer("SPECTRUM_SCHEMA_SUPPORTED", &result.SchemaSupported)
	str("SPECTRUM_SOURCE", &result.Source)
	str("SPECTRUM_INPUT", &result.InputPath)
	str("SPECTRUM_HA_URL", &result.HAURL)
	str("SPECTRUM_HA_TOKEN", &result.HAToken)
	str("SPECTRUM_SPECTRUM_ENTITY", &result.SpectrumEntity)
	str("SPECTRUM_CPU_LOAD_ENTITY", &result.CPULoadEntity)
	str("SPECTRUM_OUTPUT", &result.OutputPath)
	str("SPECTRUM_OUTPUT_TYPE", &result.OutputType)
	if v := getenv("SPECTRUM_OUTPUT_MAX_BYTES"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			result.OutputMaxB = parsed
		}
	}
	integer("SPECTRUM_OUTPUT_MAX_FILES", &result.OutputMaxFiles)
	str("SPECTRUM_REPORT", &result.ReportPath)
	str("SPECTRUM_INFLUX_ORG", &result.InfluxOrg)
	str("SPECTRUM_INFLUX_BUCKET", &result.InfluxBucket)
	str("SPECTRUM_INFLUX_TOKEN", &result.InfluxToken)
	if v := getenv("SPECTRUM_HTTP_GZIP"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			result.HTTPGzip = parsed
		}
	}
	list("SPECTRUM_KAFKA_BROKERS", &result.KafkaBrokers)
	str("SPECTRUM_KAFKA_TOPIC", &result.KafkaTopic)
	list("SPECTRUM_TRANSFORMS", &result.Transforms)
	list("SPECTRUM_DROP_FIELDS", &result.DropFields)
	float("SPECTRUM_MIN_RMS", &result.MinRMS)
	str("SPECTRUM_CLASSIFY_TAG_KEY", &result.Classify.TagKey)
	float("SPECTRUM_CLASSIFY_PUMP_PEAK_MIN_HZ", &result.Classify.PumpPeakMinHz)
	float("SPECTRUM_CLASSIFY_PUMP_PEAK_MAX_HZ", &result.Classify.PumpPeakMaxHz)
	float("SPECTRUM_CLASSIFY_PUMP_MIN_RMS", &result.Classify.PumpMinRMS)
	float("SPECTRUM_CLASSIFY_PUMP_MIN_BAND", &result.Classify.PumpMinBand)
	float("SPECTRUM_CLASSIFY_FAN_MIN_RMS", &result.Classify.FanMinRMS)
	float("SPECTRUM_CLASSIFY_FAN_MAX_RMS", &result.Classify.FanMaxRMS)
	float("SPECTRUM_CLASSIFY_FAN_MIN_BAND_MEAN", &result.Classify.FanMinBandMean)
	float("SPECTRUM_CLASSIFY_IDLE_MAX_RMS", &result.Classify.IdleMaxRMS)
	integer("SPECTRUM_CPU_SAMPLE_MS", &result.CPUSampleMS)
	integer("SPECTRUM_SINK_MAX_RETRIES", &result.SinkMaxRetries)
	integer("SPECTRUM_SINK_BACKOFF_BASE_MS", &result.SinkBackoffBaseMS)
	integer("SPECTRUM_SINK_BACKOFF_MAX_MS", &result.SinkBackoffMaxMS)
	float("SPECTRUM_SINK_BACKOFF_JITTER_PCT", &result.SinkBackoffJitter)
	str("SPECTRUM_DLQ", &result.DLQPath)
	integer("SPECTRUM_BATCH_SIZE", &result.BatchSize)
	integer("SPECTRUM_BATCH_FLUSH_INTERVAL_MS", &result.BatchFlushInterval)
	integer("SPECTRUM_SHUTDOWN_TIMEOUT_SECONDS", &result.ShutdownTimeoutSeconds)
	str("SPECTRUM_LOG_LEVEL", &result.LogLevel)
	str("SPECTRUM_LOG_FORMAT", &result.LogFormat)

	return result
}

// Load reads a JSON or YAML config file into Config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var (
		cfg  Config
		keys map[string]any
	)
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
		if err := json.Unmarshal(data, &keys); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	}

	for k := range keys {
		cfg.MarkSet(k)
	}
	return cfg, nil
}

// ParseList splits comma/semicolon-separated values.
func ParseList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks the configuration for common misconfigurations and returns
// an error describing all issues found.
func Validate(cfg Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Measurement) == "" {
		errs = append(errs, "measurement cannot be empty")
	}
	if cfg.SchemaSupported < 1 {
		errs = append(errs, fmt.Sprintf("schema_supported must be >= 1, got %d", cfg.SchemaSupported))
	}

	switch strings.ToLower(cfg.Source) {
	case "", "lines":
	case "homeassistant", "ha":
		if cfg.HAURL == "" {
			errs = append(errs, "ha_url is required when source is homeassistant")
		}
		if cfg.SpectrumEntity == "" {
			errs = append(errs, "spectrum_entity is required when source is homeassistant")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid source %q: must be lines or homeassistant", cfg.Source))
	}

	switch strings.ToLower(cfg.OutputType) {
	case "", "stdout":
	case "file", "rotate", "rotating", "http", "influx":
		if cfg.OutputPath == "" {
			errs = append(errs, fmt.Sprintf("output is required when output_type is %s", cfg.OutputType))
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, "kafka_brokers is required when output_type is kafka")
		}
		if cfg.KafkaTopic == "" {
			errs = append(errs, "kafka_topic is required when output_type is kafka")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid output_type %q: must be stdout, file, rotate, http, or kafka", cfg.OutputType))
	}

	// Validate numeric limits (must be non-negative)
	if cfg.SinkMaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("sink_max_retries cannot be negative: %d", cfg.SinkMaxRetries))
	}
	if cfg.SinkBackoffBaseMS < 0 {
		errs = append(errs, fmt.Sprintf("sink_backoff_base_ms cannot be negative: %d", cfg.SinkBackoffBaseMS))
	}
	if cfg.SinkBackoffMaxMS < 0 {
		errs = append(errs, fmt.Sprintf("sink_backoff_max_ms cannot be negative: %d", cfg.SinkBackoffMaxMS))
	}
	if cfg.SinkBackoffJitter < 0 || cfg.SinkBackoffJitter > 1.0 {
		errs = append(errs, fmt.Sprintf("sink_backoff_jitter_pct should be between 0.0 and 1.0, got: %.2f", cfg.SinkBackoffJitter))
	}
	if cfg.SinkBackoffMaxMS > 0 && cfg.SinkBackoffBaseMS > 0 && cfg.SinkBackoffMaxMS < cfg.SinkBackoffBaseMS {
		errs = append(errs, fmt.Sprintf("sink_backoff_max_ms (%d) must be >= sink_backoff_base_ms (%d)", cfg.SinkBackoffMaxMS, cfg.SinkBackoffBaseMS))
	}
	if cfg.OutputMaxB < 0 {
		errs = append(errs, fmt.Sprintf("output_max_bytes cannot be negative: %d", cfg.OutputMaxB))
	}
	if cfg.OutputMaxFiles < 0 {
		errs = append(errs, fmt.Sprintf("output_max_files cannot be negative: %d", cfg.OutputMaxFiles))
	}
	if cfg.MinRMS < 0 {
		errs = append(errs, fmt.Sprintf("min_rms cannot be negative: %g", cfg.MinRMS))
	}
	if c := cfg.Classify; c.PumpPeakMaxHz < c.PumpPeakMinHz || c.FanMaxRMS < c.FanMinRMS {
		errs = append(errs, "classify thresholds must satisfy min <= max")
	}
	if cfg.CPUSampleMS < 0 {
		errs = append(errs, fmt.Sprintf("cpu_sample_ms cannot be negative: %d", cfg.CPUSampleMS))
	}
	if cfg.BatchSize < 0 {
		errs = append(errs, fmt.Sprintf("batch_size cannot be negative: %d", cfg.BatchSize))
	}
	if cfg.BatchFlushInterval < 0 {
		errs = append(errs, fmt.Sprintf("batch_flush_interval_ms cannot be negative: %d", cfg.BatchFlushInterval))
	}
	if cfg.ShutdownTimeoutSeconds < 0 {
		errs = append(errs, fmt.Sprintf("shutdown_timeout_seconds cannot be negative: %d", cfg.ShutdownTimeoutSeconds))
	}
	if cfg.DLQPath != "" && strings.TrimSpace(cfg.DLQPath) == "" {
		errs = append(errs, "DLQ path cannot be empty or whitespace-only")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.LogLevel != "" && !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, fmt.Sprintf("invalid log_level %q: must be debug, info, warn, or error", cfg.LogLevel))
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if cfg.LogFormat != "" && !validLogFormats[strings.ToLower(cfg.LogFormat)] {
		errs = append(errs, fmt.Sprintf("invalid log_format %q: must be json or text", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
