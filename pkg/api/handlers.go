// Package api exposes composites over HTTP: synchronous still and graph
// endpoints plus asynchronous jobs that encode and upload the result.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/store"
)

// maxBodyBytes bounds request bodies; layouts and asset lists are small
const maxBodyBytes = 1 << 20

// Options configures a Server
type Options struct {
	// MaxDuration caps video composites whose spec has no max_duration
	MaxDuration time.Duration

	// ScratchRoot holds one job-<uuid> directory per running job
	ScratchRoot string

	// AllowedOrigins restricts the event socket; empty allows any origin
	AllowedOrigins []string
}

// Server holds the API server dependencies
type Server struct {
	store   store.Store
	comp    *compositor.Service
	storage *executor.StorageManager
	opts    Options
	logger  *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(s store.Store, comp *compositor.Service, sm *executor.StorageManager, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sm == nil {
		sm = executor.NewStorageManager(nil)
	}
	if opts.ScratchRoot == "" {
		opts.ScratchRoot = os.TempDir()
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 30 * time.Second
	}

	srv := &Server{
		store:   s,
		comp:    comp,
		storage: sm,
		opts:    opts,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     srv.checkOrigin,
	}
	return srv
}

// CompositeRequest is the body of the synchronous composite endpoints
type CompositeRequest struct {
	Layout schemas.Layout       `json:"layout"`
	Assets []schemas.MediaAsset `json:"assets"`
	Filter schemas.ColorFilter  `json:"filter,omitempty"`

	// Preset names a built-in filter and replaces Filter when set
	Preset string `json:"preset,omitempty"`

	// Format is "png" or "jpeg" for still composites
	Format string `json:"format,omitempty"`
}

// GraphResponse is the result of POST /api/v1/composites/graph
type GraphResponse struct {
	Graph   string              `json:"graph"`
	Inputs  []schemas.PlanInput `json:"inputs"`
	Skipped []string            `json:"skipped,omitempty"`
}

// CreateJobResponse represents the response for creating a job
type CreateJobResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse wraps every error body
type ErrorResponse struct {
	Error *schemas.ErrorInfo `json:"error"`
}

func (s *Server) compositeRequest(w http.ResponseWriter, r *http.Request) (*compositor.Request, bool) {
	var body CompositeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.sendError(w, err)
		return nil, false
	}

	filter := body.Filter
	if body.Preset != "" {
		preset, err := schemas.FilterPreset(body.Preset)
		if err != nil {
			s.sendError(w, fmt.Errorf("%w: %w", schemas.ErrInvalidRequest, err))
			return nil, false
		}
		filter = preset
	}
	switch body.Format {
	case "", "png", "jpeg":
	case "jpg":
		body.Format = "jpeg"
	default:
		s.sendError(w, fmt.Errorf("%w: format %q must be png or jpeg", schemas.ErrInvalidRequest, body.Format))
		return nil, false
	}

	return &compositor.Request{
		JobID:  uuid.NewString(),
		Layout: body.Layout,
		Assets: body.Assets,
		Filter: filter,
		Format: body.Format,
	}, true
}

// HandleImageComposite handles POST /api/v1/composites/image and answers
// with the encoded still
func (s *Server) HandleImageComposite(w http.ResponseWriter, r *http.Request) {
	req, ok := s.compositeRequest(w, r)
	if !ok {
		return
	}

	data, err := s.comp.BuildImageComposite(r.Context(), req)
	if err != nil {
		s.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", s.comp.ContentType(req))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleGraphComposite handles POST /api/v1/composites/graph and answers
// with the filter graph and its inputs, without running the engine
func (s *Server) HandleGraphComposite(w http.ResponseWriter, r *http.Request) {
	req, ok := s.compositeRequest(w, r)
	if !ok {
		return
	}

	graph, err := s.comp.BuildVideoGraph(r.Context(), req)
	if err != nil {
		s.sendError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, GraphResponse{
		Graph:   graph.Description,
		Inputs:  graph.InputOrder,
		Skipped: graph.Skipped,
	})
}

// HandleCreateJob handles POST /api/v1/jobs
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var spec schemas.JobSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		s.sendError(w, err)
		return
	}

	if err := s.comp.Validator().Validate(&spec); err != nil {
		if !errors.Is(err, schemas.ErrInvalidGeometry) {
			err = fmt.Errorf("%w: %w", schemas.ErrInvalidRequest, err)
		}
		s.sendError(w, err)
		return
	}

	now := time.Now()
	spec.JobID = uuid.NewString()
	spec.CreatedAt = now
	if id, ok := userID(r); ok {
		spec.UserID = id
	}

	job := &store.Job{
		JobID:   spec.JobID,
		Created: now,
		Updated: now,
		Status:  schemas.JobStatePending,
		Spec:    &spec,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.sendError(w, fmt.Errorf("failed to create job: %w", err))
		return
	}

	s.startJob(job.JobID, &spec)

	s.logger.Info("job created",
		zap.String("job_id", job.JobID),
		zap.Int("slots", len(spec.Layout.Slots)),
		zap.Bool("video", spec.HasVideo()))

	s.sendJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:     job.JobID,
		Status:    string(job.Status),
		CreatedAt: job.Created,
	})
}

// HandleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, job.ToJobStatus())
}

// HandleGetJobGraph handles GET /api/v1/jobs/{id}/graph
func (s *Server) HandleGetJobGraph(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Graph == "" {
		s.sendJSON(w, http.StatusNotFound, ErrorResponse{Error: &schemas.ErrorInfo{
			Code:    "NOT_FOUND",
			Message: "job has no filter graph",
		}})
		return
	}

	var inputs []schemas.PlanInput
	if job.Plan != nil {
		inputs = job.Plan.Inputs
	}
	s.sendJSON(w, http.StatusOK, GraphResponse{
		Graph:   job.Graph,
		Inputs:  inputs,
		Skipped: job.SkippedSlots,
	})
}

// HandleListJobs handles GET /api/v1/jobs
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		s.sendError(w, err)
		return
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.sendError(w, fmt.Errorf("failed to list jobs: %w", err))
		return
	}

	statuses := make([]*schemas.JobStatus, len(jobs))
	for i, job := range jobs {
		statuses[i] = job.ToJobStatus()
	}
	s.sendJSON(w, http.StatusOK, statuses)
}

// HandleDeleteJob handles DELETE /api/v1/jobs/{id}. A running job is
// cancelled and its engine process killed.
func (s *Server) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	if job.IsTerminal() {
		s.sendJSON(w, http.StatusConflict, ErrorResponse{Error: &schemas.ErrorInfo{
			Code:    "JOB_TERMINAL",
			Message: fmt.Sprintf("job is already %s", job.Status),
		}})
		return
	}

	s.cancelJob(job.JobID)
	if err := s.store.UpdateJobStatus(r.Context(), job.JobID, schemas.JobStateCancelled, nil); err != nil {
		s.sendError(w, fmt.Errorf("failed to cancel job: %w", err))
		return
	}

	s.logger.Info("job cancelled", zap.String("job_id", job.JobID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth handles GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := len(s.cancels)
	s.mu.Unlock()

	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"time":         time.Now(),
		"running_jobs": running,
	})
}

// Close cancels running jobs, waits for them and closes the store
func (s *Server) Close() error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*store.Job, bool) {
	jobID := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, store.ErrJobNotFound), errors.Is(err, store.ErrInvalidJobID):
		s.sendJSON(w, http.StatusNotFound, ErrorResponse{Error: &schemas.ErrorInfo{
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("job %q not found", jobID),
		}})
		return nil, false
	case err != nil:
		s.sendError(w, fmt.Errorf("failed to get job: %w", err))
		return nil, false
	}
	return job, true
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	info := schemas.NewErrorInfo(err)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", info.Code), zap.Error(err))
	}
	s.sendJSON(w, status, ErrorResponse{Error: info})
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, schemas.ErrInvalidGeometry), errors.Is(err, schemas.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, schemas.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, schemas.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, schemas.ErrPipelineExecution), errors.Is(err, schemas.ErrUpload):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", schemas.ErrInvalidRequest, err)
	}
	return nil
}

func parseListFilter(r *http.Request) (*store.ListFilter, error) {
	q := r.URL.Query()
	filter := &store.ListFilter{
		UserID:    q.Get("user_id"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}

	for _, st := range q["status"] {
		filter.Status = append(filter.Status, schemas.JobState(st))
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer", schemas.ErrInvalidRequest, name)
		}
		*dst = n
	}
	return filter, nil
}
