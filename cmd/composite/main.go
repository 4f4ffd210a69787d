// Package main renders one composite from a YAML job file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/config"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/prober"
	"github.com/chicogong/slot-compositor/pkg/raster"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/share"
	"github.com/chicogong/slot-compositor/pkg/storage"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML config file")
	dotenvPath  = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
	jobPath     = flag.String("job", "", "YAML file with layout, assets and an optional filter")
	outPath     = flag.String("out", "composite.png", "Still output path")
	videoPath   = flag.String("video", "", "Also encode a video composite to this path")
	graphOnly   = flag.Bool("graph", false, "Print the filter graph and exit")
	preset      = flag.String("preset", "", "Named filter preset, replaces the job's filter")
	maxDuration = flag.Duration("max-duration", 0, "Video duration ceiling (default from config)")
	publish     = flag.Bool("publish", false, "Upload outputs to the configured storage")
	qrPath      = flag.String("qr", "", "Write a share QR code for the published still")
)

// jobFile is the on-disk form of a composite request
type jobFile struct {
	Layout schemas.Layout       `yaml:"layout"`
	Assets []schemas.MediaAsset `yaml:"assets"`
	Filter schemas.ColorFilter  `yaml:"filter"`
	Preset string               `yaml:"preset"`
}

func main() {
	flag.Parse()
	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "usage: composite -job job.yaml [-out strip.png] [-video strip.mp4]")
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("composite failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	req, err := loadJob(*jobPath, *preset)
	if err != nil {
		return err
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
			return err
		}
	}
	sm := executor.NewStorageManager(s3)

	var probeOpts []prober.ProberOption
	if cfg.Executor.FFprobePath != "" {
		probeOpts = append(probeOpts, prober.WithFFprobePath(cfg.Executor.FFprobePath))
	}
	exec := executor.NewExecutor(cfg.ExecutorLimits(), sm, logger.Named("executor"))
	comp := compositor.New(cfg.CompositorConfig(), exec, sm, prober.NewProber(probeOpts...), logger.Named("compositor"))

	if *graphOnly {
		graph, err := comp.BuildVideoGraph(ctx, req)
		if err != nil {
			return err
		}
		for i, in := range graph.InputOrder {
			fmt.Printf("# [%d] %s %s\n", i, in.Kind, in.Source)
		}
		if len(graph.Skipped) > 0 {
			fmt.Printf("# skipped: %s\n", strings.Join(graph.Skipped, ", "))
		}
		fmt.Println(graph.Description)
		return nil
	}

	req.Format = formatFor(*outPath)
	still, err := comp.BuildImageComposite(ctx, req)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, still, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *outPath, err)
	}
	logger.Info("still written", zap.String("path", *outPath), zap.Int("bytes", len(still)))

	outputs := []string{*outPath}
	if *videoPath != "" {
		limit := *maxDuration
		if limit <= 0 {
			limit = cfg.Executor.MaxDuration.Duration
		}
		if err := encodeVideo(ctx, comp, req, *videoPath, limit, logger); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Warn("video composite failed, keeping the still only", zap.Error(err))
		} else {
			outputs = append(outputs, *videoPath)
		}
	}

	if !*publish {
		return nil
	}

	up, err := uploader(cfg, s3)
	if err != nil {
		return err
	}
	var stillURL string
	for i, path := range outputs {
		url, err := publishFile(ctx, up, cfg.Storage.Bucket, req.JobID, path)
		if err != nil {
			return err
		}
		fmt.Println(url)
		if i == 0 {
			stillURL = url
		}
	}

	if *qrPath != "" {
		qr, err := share.QRCodePNG(stillURL, 256)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*qrPath, qr, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", *qrPath, err)
		}
	}
	return nil
}

func encodeVideo(ctx context.Context, comp *compositor.Service, req *compositor.Request, dest string, limit time.Duration, logger *zap.Logger) error {
	graph, err := comp.BuildVideoGraph(ctx, req)
	if err != nil {
		return err
	}
	if len(graph.Skipped) > 0 {
		logger.Info("slots without media", zap.Strings("slots", graph.Skipped))
	}

	result, err := comp.RunVideoComposite(ctx, graph, dest, limit, &executor.ExecuteOptions{
		OnProgress: func(p *executor.Progress) {
			logger.Debug("progress", zap.Int("frame", p.Frame), zap.Float64("speed", p.Speed))
		},
	})
	if err != nil {
		return err
	}
	logger.Info("video written",
		zap.String("path", result.OutputPath),
		zap.Int64("bytes", result.OutputSize),
		zap.Duration("took", result.Duration))
	return nil
}

func loadJob(path, presetName string) (*compositor.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job jobFile
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if presetName == "" {
		presetName = job.Preset
	}
	filter := job.Filter
	if presetName != "" {
		if filter, err = schemas.FilterPreset(presetName); err != nil {
			return nil, err
		}
	}

	return &compositor.Request{
		JobID:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Layout: job.Layout,
		Assets: job.Assets,
		Filter: filter,
	}, nil
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return raster.FormatJPEG
	default:
		return raster.FormatPNG
	}
}

func publishFile(ctx context.Context, up storage.Uploader, bucket, jobID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return up.Upload(ctx, bucket, jobID+"-"+filepath.Base(path), f, mime.TypeByExtension(filepath.Ext(path)))
}

func uploader(cfg *config.Config, s3 *storage.S3Storage) (storage.Uploader, error) {
	if s3 != nil {
		return s3, nil
	}
	if cfg.Storage.LocalRoot == "" {
		return nil, fmt.Errorf("publish needs storage.local_root or an s3 primary")
	}
	return storage.NewLocalPublisher(cfg.Storage.LocalRoot, cfg.Storage.LocalBaseURL), nil
}
