// Package main runs one photo booth session against a hot folder
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/config"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/prober"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/session"
	"github.com/chicogong/slot-compositor/pkg/storage"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	dotenvPath = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
	layoutPath = flag.String("layout", "", "YAML layout file")
	captureDir = flag.String("captures", "captures", "Hot folder the camera writes <slot>.jpg and <slot>.mp4 into")
	workDir    = flag.String("work", "sessions", "Directory for session outputs")
	preset     = flag.String("preset", "", "Named filter preset")
	doPrint    = flag.Bool("print", false, "Print the still when the session is done")
	printer    = flag.String("printer", "", "CUPS destination (default printer when empty)")
	copies     = flag.Int("copies", 1, "Number of prints")
	qrSize     = flag.Int("qr-size", 256, "Share QR code size in pixels, 0 disables")
)

// summary is the session result as printed on stdout
type summary struct {
	SessionID  string   `json:"session_id"`
	State      string   `json:"state"`
	ImageURL   string   `json:"image_url,omitempty"`
	VideoURL   string   `json:"video_url,omitempty"`
	RawURLs    []string `json:"raw_urls,omitempty"`
	QRPath     string   `json:"qr_path,omitempty"`
	Degraded   bool     `json:"degraded,omitempty"`
	StillsOnly bool     `json:"stills_only,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
	Printed    bool     `json:"printed,omitempty"`
	PrintError string   `json:"print_error,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func main() {
	flag.Parse()
	if *layoutPath == "" {
		fmt.Fprintln(os.Stderr, "usage: booth -layout layout.yaml [-captures dir] [-print]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, *dotenvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ok, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("booth failed", zap.Error(err))
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (bool, error) {
	layout, err := loadLayout(*layoutPath)
	if err != nil {
		return false, err
	}

	var filter schemas.ColorFilter
	if *preset != "" {
		if filter, err = schemas.FilterPreset(*preset); err != nil {
			return false, err
		}
	}

	var s3 *storage.S3Storage
	if cfg.Storage.Primary == "s3" {
		s3, err = storage.NewS3Storage(ctx, storage.S3Options{
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			PathStyle:     cfg.Storage.PathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return false, err
		}
	}
	primary, fallback := uploaders(cfg, s3)
	if primary == nil {
		return false, fmt.Errorf("no uploader: set storage.primary to s3 or configure storage.local_root")
	}

	sm := executor.NewStorageManager(s3)
	var probeOpts []prober.ProberOption
	if cfg.Executor.FFprobePath != "" {
		probeOpts = append(probeOpts, prober.WithFFprobePath(cfg.Executor.FFprobePath))
	}
	exec := executor.NewExecutor(cfg.ExecutorLimits(), sm, logger.Named("executor"))
	comp := compositor.New(cfg.CompositorConfig(), exec, sm, prober.NewProber(probeOpts...), logger.Named("compositor"))

	orch := session.New(session.Config{
		Bucket:       cfg.Storage.Bucket,
		WorkDir:      *workDir,
		MaxDuration:  cfg.Executor.MaxDuration.Duration,
		Filter:       filter,
		Print:        *doPrint,
		PrintOptions: session.PrintOptions{Printer: *printer, Copies: *copies},
		QRSize:       *qrSize,
	}, comp, primary, fallback, logger.Named("session"))
	orch.OnStateChange = func(id string, from, to session.State) {
		logger.Info("session state", zap.String("session_id", id), zap.String("from", string(from)), zap.String("to", string(to)))
	}
	orch.SetCamera(&session.FolderCamera{Dir: *captureDir})
	if *doPrint {
		orch.SetPrinter(&session.CommandPrinter{})
	}

	res := orch.Run(ctx, layout)

	out := summary{
		SessionID:  res.SessionID,
		State:      string(res.State),
		ImageURL:   res.ImageURL,
		VideoURL:   res.VideoURL,
		RawURLs:    res.RawURLs,
		Degraded:   res.Degraded,
		StillsOnly: res.StillsOnly,
		Fallback:   res.Fallback,
		Printed:    res.Printed,
	}
	if res.PrintErr != nil {
		out.PrintError = res.PrintErr.Error()
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if len(res.ShareQR) > 0 {
		out.QRPath = filepath.Join(*workDir, "session-"+res.SessionID, "share-qr.png")
		if err := os.WriteFile(out.QRPath, res.ShareQR, 0644); err != nil {
			logger.Warn("failed to write share code", zap.Error(err))
			out.QRPath = ""
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return false, err
	}
	return res.Err == nil, nil
}

func loadLayout(path string) (schemas.Layout, error) {
	var layout schemas.Layout
	data, err := os.ReadFile(path)
	if err != nil {
		return layout, err
	}
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return layout, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return layout, nil
}

// uploaders picks S3 or the local publisher as primary; the fallback is
// always a local publisher when one is configured
func uploaders(cfg *config.Config, s3 *storage.S3Storage) (primary, fallback storage.Uploader) {
	switch {
	case s3 != nil:
		primary = s3
	case cfg.Storage.LocalRoot != "":
		primary = storage.NewLocalPublisher(cfg.Storage.LocalRoot, cfg.Storage.LocalBaseURL)
	}
	if cfg.Storage.FallbackLocalRoot != "" {
		fallback = storage.NewLocalPublisher(cfg.Storage.FallbackLocalRoot, "")
	}
	return primary, fallback
}
