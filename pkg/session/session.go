// Package session runs one booth session end to end: capture every slot,
// composite, upload and print. Each step returns an explicit result and the
// later steps are gated on it, with fallbacks instead of unwinding:
//
//	Idle → Capturing → Saving → Uploading(Primary) → Uploading(Fallback) → Done | Failed
//
// A failed still composite degrades to uploading the raw captures; a failed
// video composite degrades the session to stills-only.
package session

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/share"
	"github.com/chicogong/slot-compositor/pkg/storage"
)

// State is where a session is in its pipeline
type State string

const (
	StateIdle              State = "idle"
	StateCapturing         State = "capturing"
	StateSaving            State = "saving"
	StateUploadingPrimary  State = "uploading_primary"
	StateUploadingFallback State = "uploading_fallback"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Capture is what a camera returns for one slot
type Capture struct {
	ImagePath string
	VideoPath string // optional companion clip
	Timestamp time.Time
}

// Camera captures media for a slot. Implementations fail with
// schemas.ErrCameraUnavailable when no device can be used.
type Camera interface {
	Capture(ctx context.Context, slotID string) (Capture, error)
}

// PrintOptions are passed through to the printer
type PrintOptions struct {
	Printer string
	Copies  int
}

// Printer prints a local file
type Printer interface {
	Print(ctx context.Context, path string, opts PrintOptions) error
}

// Compositor is the part of compositor.Service a session drives
type Compositor interface {
	BuildImageComposite(ctx context.Context, req *compositor.Request) ([]byte, error)
	ContentType(req *compositor.Request) string
	BuildVideoGraph(ctx context.Context, req *compositor.Request) (*compositor.VideoGraph, error)
	RunVideoComposite(ctx context.Context, graph *compositor.VideoGraph, outputPath string, maxDuration time.Duration, opts *executor.ExecuteOptions) (*executor.ExecutionResult, error)
}

// Config fixes per-booth session settings
type Config struct {
	Bucket      string
	WorkDir     string
	MaxDuration time.Duration
	Filter      schemas.ColorFilter

	Print        bool
	PrintOptions PrintOptions

	// QRSize is the edge of the share QR code; 0 disables it
	QRSize int
}

// Result is everything a finished session produced
type Result struct {
	SessionID string
	State     State
	Assets    []schemas.MediaAsset

	ImageURL string
	VideoURL string
	RawURLs  []string
	ShareQR  []byte

	// Degraded is set when raw stills were uploaded instead of a composite
	Degraded bool
	// StillsOnly is set when the video composite failed or was not possible
	StillsOnly bool
	// Fallback is set when the primary uploader failed
	Fallback bool

	Printed  bool
	PrintErr error

	Err error
}

// Orchestrator runs sessions. Camera and printer can be rebound at runtime,
// e.g. when a device is hot-plugged.
type Orchestrator struct {
	mu      sync.RWMutex
	camera  Camera
	printer Printer
	state   State

	compositor Compositor
	primary    storage.Uploader
	fallback   storage.Uploader
	cfg        Config
	logger     *zap.Logger

	// OnStateChange observes every transition
	OnStateChange func(sessionID string, from, to State)
}

// New creates an orchestrator. fallback may be nil.
func New(cfg Config, comp Compositor, primary, fallback storage.Uploader, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Orchestrator{
		state:      StateIdle,
		compositor: comp,
		primary:    primary,
		fallback:   fallback,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetCamera rebinds the capture device
func (o *Orchestrator) SetCamera(c Camera) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.camera = c
}

// SetPrinter rebinds the printer; nil disables printing
func (o *Orchestrator) SetPrinter(p Printer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.printer = p
}

// State returns the state of the session in progress, or of the last one
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) devices() (Camera, Printer) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.camera, o.printer
}

func (o *Orchestrator) transition(res *Result, to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	res.State = to
	o.logger.Debug("session state", zap.String("session_id", res.SessionID), zap.String("from", string(from)), zap.String("to", string(to)))
	if o.OnStateChange != nil {
		o.OnStateChange(res.SessionID, from, to)
	}
}

func (o *Orchestrator) fail(res *Result, err error) *Result {
	res.Err = err
	o.transition(res, StateFailed)
	o.logger.Error("session failed", zap.String("session_id", res.SessionID), zap.Error(err))
	return res
}

// artifact is a local file waiting to be uploaded
type artifact struct {
	path        string
	name        string
	contentType string
}

// Run executes one session for layout. The result always carries the final
// state; Err is set only when the session failed.
func (o *Orchestrator) Run(ctx context.Context, layout schemas.Layout) *Result {
	res := &Result{SessionID: uuid.NewString()}
	log := o.logger.With(zap.String("session_id", res.SessionID))

	camera, printer := o.devices()
	if camera == nil {
		return o.fail(res, fmt.Errorf("%w: no camera bound", schemas.ErrCameraUnavailable))
	}

	// Capturing
	o.transition(res, StateCapturing)
	for _, slot := range layout.Slots {
		if slot.IsDuplicate() {
			continue
		}
		c, err := camera.Capture(ctx, slot.ID)
		if err != nil {
			return o.fail(res, fmt.Errorf("capture slot %q: %w", slot.ID, err))
		}
		res.Assets = append(res.Assets, schemas.MediaAsset{SlotID: slot.ID, ImagePath: c.ImagePath, VideoPath: c.VideoPath})
	}

	if len(res.Assets) == 0 {
		return o.fail(res, schemas.ErrNoContent)
	}

	// Saving
	o.transition(res, StateSaving)
	dir := filepath.Join(o.cfg.WorkDir, "session-"+res.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return o.fail(res, fmt.Errorf("failed to create session directory: %w", err))
	}

	req := &compositor.Request{JobID: res.SessionID, Layout: layout, Assets: res.Assets, Filter: o.cfg.Filter}
	var uploads []artifact
	still, err := o.saveStill(ctx, req, dir)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return o.fail(res, err)
		}
		log.Warn("still composite failed, uploading raw captures", zap.Error(err))
		res.Degraded = true
		for _, a := range res.Assets {
			uploads = append(uploads, artifact{
				path:        a.ImagePath,
				name:        res.SessionID + "-raw-" + a.SlotID + filepath.Ext(a.ImagePath),
				contentType: mime.TypeByExtension(filepath.Ext(a.ImagePath)),
			})
		}
	} else {
		uploads = append(uploads, *still)
	}

	video, err := o.saveVideo(ctx, req, dir)
	switch {
	case err != nil:
		log.Warn("video composite failed, session is stills-only", zap.Error(err))
		res.StillsOnly = true
	case video == nil:
		res.StillsOnly = true
	default:
		uploads = append(uploads, *video)
	}

	// Uploading
	urls, err := o.uploadAll(ctx, res, uploads)
	if err != nil {
		return o.fail(res, err)
	}
	for i, u := range uploads {
		switch {
		case still != nil && u.path == still.path:
			res.ImageURL = urls[i]
		case video != nil && u.path == video.path:
			res.VideoURL = urls[i]
		default:
			res.RawURLs = append(res.RawURLs, urls[i])
		}
	}

	if res.ImageURL != "" && o.cfg.QRSize > 0 {
		if qr, err := share.QRCodePNG(res.ImageURL, o.cfg.QRSize); err == nil {
			res.ShareQR = qr
		} else {
			log.Warn("share code failed", zap.Error(err))
		}
	}

	if o.cfg.Print && printer != nil {
		target := uploads[0].path
		if err := printer.Print(ctx, target, o.cfg.PrintOptions); err != nil {
			log.Warn("print failed", zap.String("path", target), zap.Error(err))
			res.PrintErr = fmt.Errorf("%w: %v", schemas.ErrPrint, err)
		} else {
			res.Printed = true
		}
	}

	o.transition(res, StateDone)
	return res
}

// saveStill writes the still composite into dir
func (o *Orchestrator) saveStill(ctx context.Context, req *compositor.Request, dir string) (*artifact, error) {
	data, err := o.compositor.BuildImageComposite(ctx, req)
	if err != nil {
		return nil, err
	}

	contentType := o.compositor.ContentType(req)
	ext := ".png"
	if contentType == "image/jpeg" {
		ext = ".jpg"
	}
	path := filepath.Join(dir, "composite"+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save composite: %w", err)
	}
	return &artifact{path: path, name: req.JobID + "-composite" + ext, contentType: contentType}, nil
}

// saveVideo encodes the video composite into dir. It returns nil without an
// error when no slot captured a clip.
func (o *Orchestrator) saveVideo(ctx context.Context, req *compositor.Request, dir string) (*artifact, error) {
	hasVideo := false
	for _, a := range req.Assets {
		hasVideo = hasVideo || a.HasVideo()
	}
	if !hasVideo || o.cfg.MaxDuration <= 0 {
		return nil, nil
	}

	graph, err := o.compositor.BuildVideoGraph(ctx, req)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "composite.mp4")
	if _, err := o.compositor.RunVideoComposite(ctx, graph, path, o.cfg.MaxDuration, nil); err != nil {
		return nil, err
	}
	return &artifact{path: path, name: req.JobID + "-composite.mp4", contentType: "video/mp4"}, nil
}

// uploadAll publishes every artifact through the primary uploader, and
// retries the whole batch on the fallback if any primary upload fails
func (o *Orchestrator) uploadAll(ctx context.Context, res *Result, uploads []artifact) ([]string, error) {
	o.transition(res, StateUploadingPrimary)
	urls, err := o.uploadWith(ctx, o.primary, uploads)
	if err == nil {
		return urls, nil
	}
	o.logger.Warn("primary upload failed", zap.String("session_id", res.SessionID), zap.Error(err))

	if o.fallback == nil {
		return nil, err
	}
	o.transition(res, StateUploadingFallback)
	res.Fallback = true
	urls, fbErr := o.uploadWith(ctx, o.fallback, uploads)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return urls, nil
}

func (o *Orchestrator) uploadWith(ctx context.Context, up storage.Uploader, uploads []artifact) ([]string, error) {
	if up == nil {
		return nil, fmt.Errorf("%w: no uploader configured", schemas.ErrUpload)
	}

	urls := make([]string, 0, len(uploads))
	for _, a := range uploads {
		url, err := o.uploadFile(ctx, up, a)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (o *Orchestrator) uploadFile(ctx context.Context, up storage.Uploader, a artifact) (string, error) {
	local, ok := storage.LocalPath(a.path)
	if !ok {
		// remote captures are already published
		return a.path, nil
	}

	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", schemas.ErrUpload, a.name, err)
	}
	defer f.Close()

	url, err := up.Upload(ctx, o.cfg.Bucket, a.name, f, a.contentType)
	if err != nil {
		if errors.Is(err, schemas.ErrUpload) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", schemas.ErrUpload, a.name, err)
	}
	return url, nil
}
