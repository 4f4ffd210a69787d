// Package executor renders composite plans into FFmpeg invocations and runs
// them under a concurrency ceiling with per-run scratch space.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/storage"
)

// Config bounds what the executor may consume
type Config struct {
	// MaxConcurrent is the number of pipelines allowed to run at once
	MaxConcurrent int64

	// ScratchRoot holds one job-<uuid> directory per run
	ScratchRoot string

	// MinFreeBytes is the free space ScratchRoot must have before a run starts
	MinFreeBytes uint64

	// StderrTailBytes is how much diagnostic output is kept for errors
	StderrTailBytes int
}

// DefaultConfig returns limits suitable for a single booth host
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   2,
		ScratchRoot:     os.TempDir(),
		MinFreeBytes:    512 << 20,
		StderrTailBytes: 64 << 10,
	}
}

// Executor runs FFmpeg commands
type Executor struct {
	cfg            Config
	sem            *semaphore.Weighted
	storageManager *StorageManager
	logger         *zap.Logger

	diskUsage func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewExecutor creates a new executor
func NewExecutor(cfg Config, storageManager *StorageManager, logger *zap.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = os.TempDir()
	}
	if cfg.StderrTailBytes <= 0 {
		cfg.StderrTailBytes = DefaultConfig().StderrTailBytes
	}
	if storageManager == nil {
		storageManager = NewStorageManager(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		cfg:            cfg,
		sem:            semaphore.NewWeighted(cfg.MaxConcurrent),
		storageManager: storageManager,
		logger:         logger,
		diskUsage:      disk.UsageWithContext,
	}
}

// ExecuteOptions contains options for execution
type ExecuteOptions struct {
	// OnProgress is called for progress updates
	OnProgress func(*Progress)

	// OnLog is called for every line of FFmpeg output
	OnLog func(string)
}

// ExecutionResult describes a finished run
type ExecutionResult struct {
	OutputPath string
	OutputSize int64
	Duration   time.Duration
	FinalFrame int
}

// Execute runs cmd. It fails fast with schemas.ErrResourceExhausted when the
// concurrency ceiling is reached or scratch space is short, and reports
// engine failures as *schemas.PipelineError. Remote inputs are downloaded
// into a per-run scratch directory that is always removed afterwards.
func (e *Executor) Execute(ctx context.Context, cmd *Command, opts *ExecuteOptions) (*ExecutionResult, error) {
	if cmd == nil {
		return nil, fmt.Errorf("command is nil")
	}
	if opts == nil {
		opts = &ExecuteOptions{}
	}

	if !e.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: %d pipelines already running", schemas.ErrResourceExhausted, e.cfg.MaxConcurrent)
	}
	defer e.sem.Release(1)

	if err := e.checkScratchSpace(ctx); err != nil {
		return nil, err
	}

	scratch := filepath.Join(e.cfg.ScratchRoot, scratchPrefix+uuid.NewString())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := e.storageManager.CleanupScratchDir(scratch); err != nil {
			e.logger.Warn("scratch cleanup failed", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	inputs, err := e.storageManager.LocalizeInputs(ctx, cmd.Inputs, scratch)
	if err != nil {
		return nil, err
	}

	run := *cmd
	run.Inputs = inputs
	remote := e.storageManager.IsRemote(cmd.OutputPath)
	if remote {
		_, p, _ := storage.ParseURI(cmd.OutputPath)
		run.OutputPath = filepath.Join(scratch, "output"+path.Ext(p))
	} else {
		local, _ := storage.LocalPath(cmd.OutputPath)
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		run.OutputPath = local
	}

	start := time.Now()
	e.logger.Info("pipeline started",
		zap.Int("inputs", len(inputs)),
		zap.Duration("max_duration", cmd.MaxDuration),
		zap.String("output", cmd.OutputPath),
	)
	e.logger.Debug("ffmpeg command", zap.Strings("args", run.Args()))

	last, err := e.runCommand(ctx, &run, opts)
	if err != nil {
		e.logger.Error("pipeline failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, err
	}

	result := &ExecutionResult{
		OutputPath: cmd.OutputPath,
		Duration:   time.Since(start),
	}
	if last != nil {
		result.FinalFrame = last.Frame
	}
	if info, err := os.Stat(run.OutputPath); err == nil {
		result.OutputSize = info.Size()
	}

	if remote {
		if err := e.storageManager.UploadOutput(ctx, run.OutputPath, cmd.OutputPath); err != nil {
			return nil, err
		}
	}

	e.logger.Info("pipeline finished",
		zap.Duration("elapsed", result.Duration),
		zap.Int("frames", result.FinalFrame),
		zap.Int64("bytes", result.OutputSize),
	)
	return result, nil
}

// checkScratchSpace fails when the scratch volume is below the configured
// free-space floor
func (e *Executor) checkScratchSpace(ctx context.Context) error {
	if e.cfg.MinFreeBytes == 0 {
		return nil
	}

	usage, err := e.diskUsage(ctx, e.cfg.ScratchRoot)
	if err != nil {
		return fmt.Errorf("failed to inspect scratch space: %w", err)
	}
	if usage.Free < e.cfg.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free in %s, need %d",
			schemas.ErrResourceExhausted, usage.Free, e.cfg.ScratchRoot, e.cfg.MinFreeBytes)
	}
	return nil
}

// runCommand executes cmd and returns the last progress report
func (e *Executor) runCommand(ctx context.Context, cmd *Command, opts *ExecuteOptions) (*Progress, error) {
	args := cmd.Args()
	execCmd := exec.CommandContext(ctx, args[0], args[1:]...)

	// FFmpeg writes progress to stderr
	stderr, err := execCmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := execCmd.Start(); err != nil {
		return nil, &schemas.PipelineError{ExitCode: -1, Err: err}
	}

	tail := newTailBuffer(e.cfg.StderrTailBytes)
	parser := NewProgressParser(cmd.MaxDuration)

	var (
		wg   sync.WaitGroup
		last *Progress
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		last = e.streamStderr(stderr, parser, tail, opts)
	}()
	go func() {
		defer wg.Done()
		e.streamStdout(stdout, opts)
	}()

	// Pipes must be drained before Wait closes them
	wg.Wait()
	waitErr := execCmd.Wait()

	if waitErr != nil {
		pipeErr := &schemas.PipelineError{Stderr: tail.String(), ExitCode: -1, Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			pipeErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			pipeErr.Err = ctxErr
		}
		return last, pipeErr
	}

	return last, nil
}

// streamStderr feeds stats lines to the parser and keeps the tail for
// error reports
func (e *Executor) streamStderr(reader io.Reader, parser *ProgressParser, tail *tailBuffer, opts *ExecuteOptions) *Progress {
	var last *Progress

	scanner := bufio.NewScanner(reader)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if progress := parser.ParseLine(line); progress != nil {
			last = progress
			if opts.OnProgress != nil {
				opts.OnProgress(progress)
			}
		} else {
			tail.WriteLine(line)
		}

		if opts.OnLog != nil {
			opts.OnLog(line)
		}
	}
	if err := scanner.Err(); err != nil {
		e.logger.Debug("stderr scan stopped", zap.Error(err))
		// keep draining so the process never blocks on a full pipe
		_, _ = io.Copy(io.Discard, reader)
	}

	return last
}

// streamStdout forwards stdout lines to the log handler
func (e *Executor) streamStdout(reader io.Reader, opts *ExecuteOptions) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		if opts.OnLog != nil {
			opts.OnLog(scanner.Text())
		}
	}
	_, _ = io.Copy(io.Discard, reader)
}

// scanLinesOrCR splits on \n or \r; FFmpeg rewrites its stats line in place
// with carriage returns
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

// WriteLine appends line and a newline, dropping the oldest bytes over max
func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
