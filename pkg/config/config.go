// Package config loads the service configuration from YAML, a .env file and
// COMPOSITOR_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/raster"
	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "COMPOSITOR_"

// Config is the complete service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Compositor CompositorConfig `yaml:"compositor"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	ReadTimeout  schemas.Duration `yaml:"read_timeout"`
	WriteTimeout schemas.Duration `yaml:"write_timeout"`
	IdleTimeout  schemas.Duration `yaml:"idle_timeout"`
}

type AuthConfig struct {
	Enabled   bool             `yaml:"enabled"`
	JWTSecret string           `yaml:"jwt_secret"`
	TokenTTL  schemas.Duration `yaml:"token_ttl"`
	APIKeys   []string         `yaml:"api_keys"`
}

type ExecutorConfig struct {
	FFmpegPath    string           `yaml:"ffmpeg_path"`
	FFprobePath   string           `yaml:"ffprobe_path"`
	MaxConcurrent int              `yaml:"max_concurrent"`
	MaxDuration   schemas.Duration `yaml:"max_duration"` // ceiling applied when a job sets none
	ScratchRoot   string           `yaml:"scratch_root"`
	MinFreeDiskMB int              `yaml:"min_free_disk_mb"`
	FPS           int              `yaml:"fps"`
	VideoCodec    string           `yaml:"video_codec"`
	CRF           int              `yaml:"crf"`
	Preset        string           `yaml:"preset"`
	LoopVideos    *bool            `yaml:"loop_videos"`
}

type CompositorConfig struct {
	OutputFormat           string  `yaml:"output_format"` // "png" or "jpeg"
	JPEGQuality            int     `yaml:"jpeg_quality"`
	OverlayAspectTolerance float64 `yaml:"overlay_aspect_tolerance"`
	DecodeWorkers          int     `yaml:"decode_workers"`
}

type StorageConfig struct {
	Primary           string `yaml:"primary"` // "s3" or "local"
	Bucket            string `yaml:"bucket"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	PathStyle         bool   `yaml:"path_style"`
	PublicBaseURL     string `yaml:"public_base_url"`
	LocalRoot         string `yaml:"local_root"`
	LocalBaseURL      string `yaml:"local_base_url"`
	FallbackLocalRoot string `yaml:"fallback_local_root"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (optional), then dotenv (optional), then applies
// environment overrides and validates the result
func Load(path, dotenv string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if dotenv != "" {
		// a missing .env is normal outside development
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 15 * time.Second
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = 60 * time.Second
	}
	if c.Server.IdleTimeout.Duration == 0 {
		c.Server.IdleTimeout.Duration = 60 * time.Second
	}

	if c.Auth.TokenTTL.Duration == 0 {
		c.Auth.TokenTTL.Duration = 24 * time.Hour
	}

	out := executor.DefaultOutputOptions()
	lim := executor.DefaultConfig()
	if c.Executor.FFmpegPath == "" {
		c.Executor.FFmpegPath = out.FFmpegPath
	}
	if c.Executor.MaxConcurrent == 0 {
		c.Executor.MaxConcurrent = int(lim.MaxConcurrent)
	}
	if c.Executor.MaxDuration.Duration == 0 {
		c.Executor.MaxDuration.Duration = 30 * time.Second
	}
	if c.Executor.ScratchRoot == "" {
		c.Executor.ScratchRoot = lim.ScratchRoot
	}
	if c.Executor.MinFreeDiskMB == 0 {
		c.Executor.MinFreeDiskMB = int(lim.MinFreeBytes >> 20)
	}
	if c.Executor.FPS == 0 {
		c.Executor.FPS = out.FrameRate
	}
	if c.Executor.VideoCodec == "" {
		c.Executor.VideoCodec = out.Codec
	}
	if c.Executor.CRF == 0 {
		c.Executor.CRF = out.CRF
	}
	if c.Executor.Preset == "" {
		c.Executor.Preset = out.Preset
	}
	if c.Executor.LoopVideos == nil {
		loop := out.LoopVideos
		c.Executor.LoopVideos = &loop
	}

	comp := compositor.DefaultConfig()
	if c.Compositor.OutputFormat == "" {
		c.Compositor.OutputFormat = comp.OutputFormat
	}
	if c.Compositor.JPEGQuality == 0 {
		c.Compositor.JPEGQuality = comp.JPEGQuality
	}
	if c.Compositor.OverlayAspectTolerance == 0 {
		c.Compositor.OverlayAspectTolerance = comp.AspectTolerance
	}
	if c.Compositor.DecodeWorkers == 0 {
		c.Compositor.DecodeWorkers = comp.DecodeWorkers
	}

	if c.Storage.Primary == "" {
		c.Storage.Primary = "local"
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "./data/composites"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// applyEnv overrides fields from COMPOSITOR_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HOST":               &c.Server.Host,
		"AUTH_JWT_SECRET":    &c.Auth.JWTSecret,
		"FFMPEG_PATH":        &c.Executor.FFmpegPath,
		"FFPROBE_PATH":       &c.Executor.FFprobePath,
		"SCRATCH_ROOT":       &c.Executor.ScratchRoot,
		"OUTPUT_FORMAT":      &c.Compositor.OutputFormat,
		"STORAGE_PRIMARY":    &c.Storage.Primary,
		"STORAGE_BUCKET":     &c.Storage.Bucket,
		"STORAGE_REGION":     &c.Storage.Region,
		"STORAGE_ENDPOINT":   &c.Storage.Endpoint,
		"STORAGE_PUBLIC_URL": &c.Storage.PublicBaseURL,
		"STORAGE_LOCAL_ROOT": &c.Storage.LocalRoot,
		"STORAGE_FALLBACK":   &c.Storage.FallbackLocalRoot,
		"LOG_LEVEL":          &c.Logging.Level,
		"LOG_FORMAT":         &c.Logging.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":           &c.Server.Port,
		"MAX_CONCURRENT": &c.Executor.MaxConcurrent,
		"FPS":            &c.Executor.FPS,
		"DECODE_WORKERS": &c.Compositor.DecodeWorkers,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "AUTH_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAUTH_ENABLED: %w", EnvPrefix, err)
		}
		c.Auth.Enabled = b
	}
	if v, ok := lookup(EnvPrefix + "API_KEYS"); ok {
		c.Auth.APIKeys = nil
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.Auth.APIKeys = append(c.Auth.APIKeys, k)
			}
		}
	}
	if v, ok := lookup(EnvPrefix + "MAX_DURATION"); ok {
		d, err := schemas.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sMAX_DURATION: %w", EnvPrefix, err)
		}
		c.Executor.MaxDuration.Duration = d
	}
	return nil
}

// Validate rejects values that would only fail later at use time
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("auth.enabled needs auth.jwt_secret or auth.api_keys"))
	}
	if c.Executor.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("executor.max_concurrent must be at least 1, got %d", c.Executor.MaxConcurrent))
	}
	if c.Executor.MaxDuration.Duration <= 0 {
		errs = append(errs, errors.New("executor.max_duration must be positive"))
	}
	if c.Executor.MinFreeDiskMB < 0 {
		errs = append(errs, errors.New("executor.min_free_disk_mb must not be negative"))
	}
	if c.Executor.FPS <= 0 || c.Executor.FPS > 120 {
		errs = append(errs, fmt.Errorf("executor.fps %d out of range 1..120", c.Executor.FPS))
	}
	if c.Executor.CRF < 0 || c.Executor.CRF > 51 {
		errs = append(errs, fmt.Errorf("executor.crf %d out of range 0..51", c.Executor.CRF))
	}

	switch c.Compositor.OutputFormat {
	case raster.FormatPNG, raster.FormatJPEG:
	default:
		errs = append(errs, fmt.Errorf("compositor.output_format %q must be png or jpeg", c.Compositor.OutputFormat))
	}
	if c.Compositor.JPEGQuality < 1 || c.Compositor.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("compositor.jpeg_quality %d out of range 1..100", c.Compositor.JPEGQuality))
	}
	if c.Compositor.OverlayAspectTolerance < 0 {
		errs = append(errs, errors.New("compositor.overlay_aspect_tolerance must not be negative"))
	}
	if c.Compositor.DecodeWorkers < 1 {
		errs = append(errs, errors.New("compositor.decode_workers must be at least 1"))
	}

	switch c.Storage.Primary {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.primary %q must be s3 or local", c.Storage.Primary))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ExecutorLimits converts the executor section
func (c *Config) ExecutorLimits() executor.Config {
	return executor.Config{
		MaxConcurrent:   int64(c.Executor.MaxConcurrent),
		ScratchRoot:     c.Executor.ScratchRoot,
		MinFreeBytes:    uint64(c.Executor.MinFreeDiskMB) << 20,
		StderrTailBytes: executor.DefaultConfig().StderrTailBytes,
	}
}

// OutputOptions converts the encoder settings
func (c *Config) OutputOptions() executor.OutputOptions {
	opts := executor.DefaultOutputOptions()
	opts.FFmpegPath = c.Executor.FFmpegPath
	opts.FrameRate = c.Executor.FPS
	opts.Codec = c.Executor.VideoCodec
	opts.CRF = c.Executor.CRF
	opts.Preset = c.Executor.Preset
	if c.Executor.LoopVideos != nil {
		opts.LoopVideos = *c.Executor.LoopVideos
	}
	return opts
}

// CompositorConfig converts the compositor section
func (c *Config) CompositorConfig() compositor.Config {
	return compositor.Config{
		OutputFormat:    c.Compositor.OutputFormat,
		JPEGQuality:     c.Compositor.JPEGQuality,
		AspectTolerance: c.Compositor.OverlayAspectTolerance,
		DecodeWorkers:   c.Compositor.DecodeWorkers,
		ScratchRoot:     c.Executor.ScratchRoot,
		Output:          c.OutputOptions(),
	}
}

// NewLogger builds the zap logger described by the logging section
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
