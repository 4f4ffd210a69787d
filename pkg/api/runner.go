package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/raster"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/store"
)

const formatMP4 = "mp4"

// startJob runs spec in the background under a cancellable context
func (s *Server) startJob(jobID string, spec *schemas.JobSpec) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.cancelJob(jobID)
		s.runJob(ctx, jobID, spec)
	}()
}

func (s *Server) cancelJob(jobID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	delete(s.cancels, jobID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// jobRun carries the state of one job through its stages
type jobRun struct {
	s      *Server
	ctx    context.Context
	jobID  string
	spec   *schemas.JobSpec
	logger *zap.Logger
}

func (s *Server) runJob(ctx context.Context, jobID string, spec *schemas.JobSpec) {
	run := &jobRun{
		s:      s,
		ctx:    ctx,
		jobID:  jobID,
		spec:   spec,
		logger: s.logger.With(zap.String("job_id", jobID)),
	}

	start := time.Now()
	out, err := run.execute()
	if err != nil {
		if ctx.Err() != nil {
			run.logger.Info("job stopped", zap.Error(err))
			return
		}
		run.fail(err)
		return
	}

	job, err := s.store.GetJob(context.Background(), jobID)
	if err != nil {
		run.logger.Error("job vanished before completion", zap.Error(err))
		return
	}
	job.OutputFiles = []schemas.OutputFile{*out}
	if err := s.store.UpdateJob(context.Background(), job); err != nil {
		run.logger.Error("failed to record outputs", zap.Error(err))
	}
	run.setStatus(schemas.JobStateCompleted, 100, "completed")

	run.logger.Info("job completed",
		zap.String("destination", out.Destination),
		zap.Int64("bytes", out.FileSize),
		zap.Bool("degraded", out.Degraded),
		zap.Duration("elapsed", time.Since(start)))
}

// execute builds the composite into scratch space and uploads it. A video
// composite that fails in the engine falls back to a still.
func (r *jobRun) execute() (*schemas.OutputFile, error) {
	dir, err := os.MkdirTemp(r.s.opts.ScratchRoot, "job-")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create scratch directory: %v", schemas.ErrResourceExhausted, err)
	}
	defer r.s.storage.CleanupScratchDir(dir)

	req := &compositor.Request{
		JobID:  r.jobID,
		Layout: r.spec.Layout,
		Assets: r.spec.Assets,
		Filter: r.spec.Filter,
	}
	dest := r.spec.Output.Destination
	format := outputFormat(r.spec.Output)

	if format == formatMP4 {
		local := filepath.Join(dir, "composite.mp4")
		size, err := r.video(req, local)
		if err == nil {
			return r.upload(local, dest, size, false)
		}
		if !degradable(err) || r.ctx.Err() != nil {
			return nil, err
		}

		r.logger.Warn("video composite failed, falling back to still", zap.Error(err))
		format = raster.FormatPNG
		dest = replaceExt(dest, ".png")
		local, size, err = r.still(req, dir, format)
		if err != nil {
			return nil, err
		}
		return r.upload(local, dest, size, true)
	}

	local, size, err := r.still(req, dir, format)
	if err != nil {
		return nil, err
	}
	return r.upload(local, dest, size, false)
}

func (r *jobRun) video(req *compositor.Request, local string) (int64, error) {
	r.setStatus(schemas.JobStatePlanning, 10, "planning")
	graph, err := r.s.comp.BuildVideoGraph(r.ctx, req)
	if err != nil {
		return 0, err
	}
	r.recordGraph(graph)

	maxDuration := r.s.opts.MaxDuration
	if r.spec.MaxDuration != nil {
		maxDuration = r.spec.MaxDuration.Duration
	}

	r.setStatus(schemas.JobStateProcessing, 20, "encoding")
	result, err := r.s.comp.RunVideoComposite(r.ctx, graph, local, maxDuration, &executor.ExecuteOptions{
		OnProgress: func(p *executor.Progress) {
			r.setProgress(20+p.Percent*0.7, "encoding", p)
		},
	})
	if err != nil {
		return 0, err
	}
	return result.OutputSize, nil
}

func (r *jobRun) still(req *compositor.Request, dir, format string) (string, int64, error) {
	r.setStatus(schemas.JobStateProcessing, 30, "compositing")
	req.Format = format
	data, err := r.s.comp.BuildImageComposite(r.ctx, req)
	if err != nil {
		return "", 0, err
	}

	ext := ".png"
	if format == raster.FormatJPEG {
		ext = ".jpg"
	}
	local := filepath.Join(dir, "composite"+ext)
	if err := os.WriteFile(local, data, 0644); err != nil {
		return "", 0, fmt.Errorf("failed to write composite: %w", err)
	}
	return local, int64(len(data)), nil
}

func (r *jobRun) upload(local, dest string, size int64, degraded bool) (*schemas.OutputFile, error) {
	r.setStatus(schemas.JobStateUploadingOutputs, 95, "uploading")
	if err := r.s.storage.UploadOutput(r.ctx, local, dest); err != nil {
		if !errors.Is(err, schemas.ErrUpload) {
			err = fmt.Errorf("%w: %w", schemas.ErrUpload, err)
		}
		return nil, err
	}

	out := &schemas.OutputFile{Destination: dest, FileSize: size, Degraded: degraded}
	if strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") {
		out.URL = dest
	}
	return out, nil
}

func (r *jobRun) recordGraph(graph *compositor.VideoGraph) {
	job, err := r.s.store.GetJob(r.ctx, r.jobID)
	if err != nil {
		return
	}
	job.Graph = graph.Description
	job.Plan = graph.Plan
	job.SkippedSlots = graph.Skipped
	if err := r.s.store.UpdateJob(r.ctx, job); err != nil {
		r.logger.Warn("failed to record graph", zap.Error(err))
	}
}

// setStatus is a no-op once the job has been cancelled so a late stage
// never overwrites the cancelled state
func (r *jobRun) setStatus(state schemas.JobState, percent float64, step string) {
	if r.ctx.Err() != nil {
		return
	}
	err := r.s.store.UpdateJobStatus(r.ctx, r.jobID, state, &schemas.Progress{
		OverallPercent: percent,
		CurrentStep:    step,
	})
	if err != nil && !errors.Is(err, store.ErrJobNotFound) {
		r.logger.Warn("failed to update status", zap.Error(err))
	}
}

func (r *jobRun) setProgress(percent float64, step string, p *executor.Progress) {
	if r.ctx.Err() != nil {
		return
	}
	r.s.store.UpdateJobStatus(r.ctx, r.jobID, schemas.JobStateProcessing, &schemas.Progress{
		OverallPercent: percent,
		CurrentStep:    step,
		FFmpegProgress: &schemas.FFmpegProgress{
			Frame:       p.Frame,
			FPS:         p.FPS,
			CurrentTime: p.Time.String(),
			Speed:       p.Speed,
		},
	})
}

func (r *jobRun) fail(err error) {
	info := schemas.NewErrorInfo(err)
	r.logger.Error("job failed", zap.String("code", info.Code), zap.Error(err))

	ctx := context.Background()
	if uerr := r.s.store.UpdateJobError(ctx, r.jobID, info); uerr != nil {
		r.logger.Warn("failed to record error", zap.Error(uerr))
	}
	if uerr := r.s.store.UpdateJobStatus(ctx, r.jobID, schemas.JobStateFailed, nil); uerr != nil {
		r.logger.Warn("failed to update status", zap.Error(uerr))
	}
}

// degradable reports whether a video failure may fall back to a still.
// Request errors would fail the still path the same way.
func degradable(err error) bool {
	return errors.Is(err, schemas.ErrPipelineExecution) ||
		errors.Is(err, schemas.ErrResourceExhausted)
}

func outputFormat(out schemas.Output) string {
	switch strings.ToLower(out.Format) {
	case "mp4":
		return formatMP4
	case "jpg", "jpeg":
		return raster.FormatJPEG
	case "png":
		return raster.FormatPNG
	}

	switch strings.ToLower(path.Ext(out.Destination)) {
	case ".mp4", ".mov":
		return formatMP4
	case ".jpg", ".jpeg":
		return raster.FormatJPEG
	default:
		return raster.FormatPNG
	}
}

func replaceExt(dest, ext string) string {
	return strings.TrimSuffix(dest, path.Ext(dest)) + ext
}
