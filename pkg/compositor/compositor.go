// Package compositor is what callers use to turn a layout and its captured
// media into a still composite, a filter graph, or an encoded video. It
// validates and resolves the request once, then hands the layers to either
// the raster path or the graph path.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chicogong/slot-compositor/pkg/compiler/validator"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/operators"
	"github.com/chicogong/slot-compositor/pkg/planner"
	"github.com/chicogong/slot-compositor/pkg/prober"
	"github.com/chicogong/slot-compositor/pkg/raster"
	"github.com/chicogong/slot-compositor/pkg/resolve"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/storage"
)

// Config tunes both composite paths
type Config struct {
	// OutputFormat is raster.FormatPNG or raster.FormatJPEG
	OutputFormat string
	JPEGQuality  int

	// AspectTolerance decides between stretching and contain-fitting the
	// frame overlay on the raster path
	AspectTolerance float64

	DecodeWorkers int

	// ScratchRoot holds temporary copies of remote sources being measured
	ScratchRoot string

	Output executor.OutputOptions
}

// DefaultConfig returns PNG output and the default encoder settings
func DefaultConfig() Config {
	return Config{
		OutputFormat:    raster.FormatPNG,
		JPEGQuality:     90,
		AspectTolerance: raster.DefaultAspectTolerance,
		DecodeWorkers:   4,
		ScratchRoot:     os.TempDir(),
		Output:          executor.DefaultOutputOptions(),
	}
}

// Request is one composite: the layout, what was captured for it and an
// optional color filter for the still path
type Request struct {
	JobID  string
	Layout schemas.Layout
	Assets []schemas.MediaAsset
	Filter schemas.ColorFilter

	// Format overrides Config.OutputFormat for a still composite
	Format string

	// Sizes may carry known native sizes so sources are not measured again
	Sizes map[string]planner.SourceSize
}

// VideoGraph is a rendered filter graph and the inputs it references, in
// stream-index order. Callers hand InputOrder to the engine unchanged.
type VideoGraph struct {
	Description string
	InputOrder  []schemas.PlanInput
	Plan        *schemas.ProcessingPlan

	// Skipped lists slots that had no usable media
	Skipped []string
}

// Service builds still and video composites
type Service struct {
	cfg       Config
	validator *validator.Validator
	planner   *planner.Planner
	builder   *executor.CommandBuilder
	executor  *executor.Executor
	storage   *executor.StorageManager
	prober    *prober.Prober
	raster    *raster.Compositor
	logger    *zap.Logger
}

// New wires a Service. exec may be nil for callers that only build stills
// and graphs.
func New(cfg Config, exec *executor.Executor, sm *executor.StorageManager, p *prober.Prober, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sm == nil {
		sm = executor.NewStorageManager(nil)
	}
	if p == nil {
		p = prober.NewProber()
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = os.TempDir()
	}
	if cfg.Output.FFmpegPath == "" {
		cfg.Output = executor.DefaultOutputOptions()
	}

	return &Service{
		cfg:       cfg,
		validator: validator.New(),
		planner:   planner.NewPlanner(),
		builder:   executor.NewCommandBuilder(operators.GlobalRegistry(), cfg.Output),
		executor:  exec,
		storage:   sm,
		prober:    p,
		raster: raster.NewCompositor(sm, cfg.DecodeWorkers, raster.Options{
			AspectTolerance: cfg.AspectTolerance,
		}, logger),
		logger: logger,
	}
}

// Validator exposes the request validator, e.g. to relax SSRF checks
func (s *Service) Validator() *validator.Validator {
	return s.validator
}

// resolve validates req and binds every slot to its media. Slots without
// media are logged and skipped; ErrNoContent is returned when none remain.
func (s *Service) resolve(req *Request) (*resolve.Result, error) {
	if err := s.validator.ValidateLayout(&req.Layout); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateAssets(&req.Layout, req.Assets); err != nil {
		if errors.Is(err, schemas.ErrInvalidGeometry) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", schemas.ErrInvalidRequest, err)
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", schemas.ErrInvalidRequest, err)
	}

	res, err := resolve.Layers(&req.Layout, req.Assets)
	for _, id := range res.Skipped {
		s.logger.Warn("slot has no media", zap.String("job_id", req.JobID), zap.String("slot_id", id))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// BuildImageComposite renders req to encoded still bytes
func (s *Service) BuildImageComposite(ctx context.Context, req *Request) ([]byte, error) {
	res, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	img, err := s.raster.Composite(ctx, req.Layout.Canvas, res.Layers, req.Layout.FrameOverlay, req.Filter)
	if err != nil {
		return nil, err
	}

	data, err := raster.EncodeBytes(img, s.format(req), s.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode composite: %w", err)
	}

	s.logger.Debug("image composite built",
		zap.String("job_id", req.JobID),
		zap.Int("layers", len(res.Layers)),
		zap.Int("bytes", len(data)))
	return data, nil
}

// ContentType is the MIME type BuildImageComposite produces for req
func (s *Service) ContentType(req *Request) string {
	return raster.ContentType(s.format(req))
}

func (s *Service) format(req *Request) string {
	if req.Format != "" {
		return req.Format
	}
	return s.cfg.OutputFormat
}

// BuildVideoGraph plans the video composite for req. Every layer source is
// measured first because cover scaling depends on it; a source that cannot
// be measured is skipped like a missing capture.
func (s *Service) BuildVideoGraph(ctx context.Context, req *Request) (*VideoGraph, error) {
	res, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]planner.SourceSize, len(res.Layers))
	for src, size := range req.Sizes {
		sizes[src] = size
	}

	layers := make([]resolve.Layer, 0, len(res.Layers))
	skipped := append([]string(nil), res.Skipped...)
	for _, layer := range res.Layers {
		src := layer.Source(true)
		if _, ok := sizes[src]; !ok {
			size, err := s.measure(ctx, src)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn("skipping slot", zap.String("slot_id", layer.Slot.ID), zap.Error(err))
				skipped = append(skipped, layer.Slot.ID)
				continue
			}
			sizes[src] = size
		}
		layers = append(layers, layer)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w (%d slots)", schemas.ErrNoContent, len(req.Layout.Slots))
	}

	plan, err := s.planner.Plan(ctx, &planner.Request{
		JobID:        req.JobID,
		Canvas:       req.Layout.Canvas,
		Layers:       layers,
		Skipped:      skipped,
		FrameOverlay: req.Layout.FrameOverlay,
		Video:        true,
		Sizes:        sizes,
	})
	if err != nil {
		return nil, err
	}

	graph, err := s.builder.RenderFilterGraph(plan)
	if err != nil {
		return nil, err
	}

	return &VideoGraph{
		Description: graph,
		InputOrder:  plan.Inputs,
		Plan:        plan,
		Skipped:     skipped,
	}, nil
}

// measure returns the display size of src, staging remote sources in a
// throwaway scratch directory first
func (s *Service) measure(ctx context.Context, src string) (planner.SourceSize, error) {
	local, ok := storage.LocalPath(src)
	if !ok {
		dir, err := os.MkdirTemp(s.cfg.ScratchRoot, "job-")
		if err != nil {
			return planner.SourceSize{}, fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer s.storage.CleanupScratchDir(dir)

		local, err = s.storage.DownloadInput(ctx, src, dir, "probe")
		if err != nil {
			return planner.SourceSize{}, err
		}
	}

	w, h, err := s.prober.Measure(ctx, local)
	if err != nil {
		return planner.SourceSize{}, err
	}
	return planner.SourceSize{Width: w, Height: h}, nil
}

// RunVideoComposite encodes graph into outputPath, capped at maxDuration
func (s *Service) RunVideoComposite(ctx context.Context, graph *VideoGraph, outputPath string, maxDuration time.Duration, opts *executor.ExecuteOptions) (*executor.ExecutionResult, error) {
	if s.executor == nil {
		return nil, fmt.Errorf("no executor configured")
	}
	if graph == nil {
		return nil, fmt.Errorf("graph is nil")
	}

	cmd, err := s.builder.Assemble(graph.Description, graph.InputOrder, outputPath, maxDuration)
	if err != nil {
		return nil, err
	}
	s.logger.Info("running video composite",
		zap.String("output", outputPath),
		zap.Int("inputs", len(cmd.Inputs)),
		zap.Duration("max_duration", maxDuration))
	return s.executor.Execute(ctx, cmd, opts)
}

// RunSingleSource encodes one capture unmodified. It is the degraded path a
// caller may take after RunVideoComposite fails.
func (s *Service) RunSingleSource(ctx context.Context, asset schemas.MediaAsset, outputPath string, maxDuration time.Duration, opts *executor.ExecuteOptions) (*executor.ExecutionResult, error) {
	if s.executor == nil {
		return nil, fmt.Errorf("no executor configured")
	}

	source, kind := asset.ImagePath, schemas.InputImage
	if asset.HasVideo() {
		source, kind = asset.VideoPath, schemas.InputVideo
	}
	cmd, err := s.builder.SingleSource(source, kind, outputPath, maxDuration)
	if err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, cmd, opts)
}
