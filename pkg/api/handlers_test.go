package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chicogong/slot-compositor/pkg/auth"
	"github.com/chicogong/slot-compositor/pkg/compositor"
	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/chicogong/slot-compositor/pkg/store"
)

const (
	ffmpegFails = "#!/bin/sh\necho 'Conversion failed!' >&2\nexit 1\n"
	ffmpegHangs = "#!/bin/sh\nexec sleep 5\n"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	dir    string
}

func newTestEnv(t *testing.T, ffmpegScript string, authn *auth.AuthMiddleware) *testEnv {
	t.Helper()
	if ffmpegScript != "" && runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	cfg := compositor.DefaultConfig()
	cfg.ScratchRoot = t.TempDir()
	if ffmpegScript != "" {
		cfg.Output.FFmpegPath = filepath.Join(dir, "ffmpeg")
		require.NoError(t, os.WriteFile(cfg.Output.FFmpegPath, []byte(ffmpegScript), 0755))
	}

	sm := executor.NewStorageManager(nil)
	exec := executor.NewExecutor(executor.Config{MaxConcurrent: 2, ScratchRoot: t.TempDir()}, sm, logger)
	comp := compositor.New(cfg, exec, sm, nil, logger)

	srv := NewServer(store.NewMemoryStore(), comp, sm, Options{
		MaxDuration: 2 * time.Second,
		ScratchRoot: t.TempDir(),
	}, logger)
	ts := httptest.NewServer(srv.Routes(authn, logger))
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	return &testEnv{server: srv, http: ts, dir: dir}
}

func (e *testEnv) writePNG(t *testing.T, name string, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// waitForJob polls until the job reaches one of states
func (e *testEnv) waitForJob(t *testing.T, id string, states ...schemas.JobState) *store.Job {
	t.Helper()
	var job *store.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = e.server.store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		for _, st := range states {
			if job.Status == st {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "job never reached %v", states)
	return job
}

func booth() schemas.Layout {
	return schemas.Layout{
		Canvas: schemas.Canvas{Width: 200, Height: 600, Background: "#FFFFFF"},
		Slots: []schemas.Slot{
			{ID: "top", X: 10, Y: 10, Width: 180, Height: 180},
			{ID: "middle", X: 10, Y: 210, Width: 180, Height: 180, Rotation: -4},
			{ID: "copy", X: 10, Y: 410, Width: 180, Height: 180, DuplicateOfSlotID: "top"},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleImageComposite(t *testing.T) {
	env := newTestEnv(t, "", nil)
	red := env.writePNG(t, "top.png", 90, 60, color.NRGBA{R: 255, A: 255})

	resp := env.do(t, http.MethodPost, "/api/v1/composites/image", CompositeRequest{
		Layout: booth(),
		Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: red}},
		Preset: "grayscale",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 600), img.Bounds())

	// grayscale red, drawn in the slot and its duplicate; the middle slot is empty
	for _, pt := range []image.Point{{100, 100}, {100, 500}} {
		r, g, b, _ := img.At(pt.X, pt.Y).RGBA()
		assert.InDelta(t, 54, r>>8, 2, "at %v", pt)
		assert.Equal(t, r, g)
		assert.Equal(t, g, b)
	}
	r, _, _, _ := img.At(100, 300).RGBA()
	assert.Equal(t, uint32(0xff), r>>8)
}

func TestHandleComposite_Errors(t *testing.T) {
	env := newTestEnv(t, "", nil)
	red := env.writePNG(t, "top.png", 10, 10, color.NRGBA{R: 255, A: 255})

	badGeometry := booth()
	badGeometry.Slots[0].Width = 0
	selfDuplicate := booth()
	selfDuplicate.Slots[2].DuplicateOfSlotID = "copy"

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "zero width slot",
			body:       CompositeRequest{Layout: badGeometry, Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: red}}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_GEOMETRY",
		},
		{
			name:       "self duplicate",
			body:       CompositeRequest{Layout: selfDuplicate},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_GEOMETRY",
		},
		{
			name:       "no media at all",
			body:       CompositeRequest{Layout: booth()},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "NO_CONTENT",
		},
		{
			name:       "unknown preset",
			body:       CompositeRequest{Layout: booth(), Preset: "psychedelic"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown format",
			body:       CompositeRequest{Layout: booth(), Format: "gif"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown field",
			body:       map[string]any{"layout": booth(), "colour": "red"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "bad filter",
			body: CompositeRequest{
				Layout: booth(),
				Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: red}},
				Filter: schemas.ColorFilter{{Kind: "blur", Amount: 1}},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/composites/image", tt.body, nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
}

func TestHandleGraphComposite(t *testing.T) {
	env := newTestEnv(t, "", nil)
	top := env.writePNG(t, "top.png", 192, 108, color.NRGBA{A: 255})

	layout := booth()
	layout.FrameOverlay = env.writePNG(t, "frame.png", 200, 600, color.NRGBA{})

	resp := env.do(t, http.MethodPost, "/api/v1/composites/graph", CompositeRequest{
		Layout: layout,
		Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: top}},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[GraphResponse](t, resp)
	assert.Equal(t, []string{"middle"}, body.Skipped)
	require.Len(t, body.Inputs, 4)
	assert.Equal(t, schemas.InputColor, body.Inputs[0].Kind)
	assert.Equal(t, top, body.Inputs[1].Source)
	assert.Equal(t, top, body.Inputs[2].Source)
	assert.Equal(t, schemas.InputFrame, body.Inputs[3].Kind)
	assert.Contains(t, body.Graph, "shortest=1")
	assert.Equal(t, 1, strings.Count(body.Graph, "shortest=1"))
	assert.True(t, strings.HasSuffix(body.Graph, "overlay=0:0[out]"), body.Graph)
}

func TestJobs_StillLifecycle(t *testing.T) {
	env := newTestEnv(t, "", nil)
	top := env.writePNG(t, "top.png", 40, 40, color.NRGBA{G: 255, A: 255})
	dest := filepath.Join(t.TempDir(), "prints", "strip.jpg")

	resp := env.do(t, http.MethodPost, "/api/v1/jobs", schemas.JobSpec{
		Layout: booth(),
		Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: top}},
		Output: schemas.Output{Destination: "file://" + dest},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[CreateJobResponse](t, resp)
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, "pending", created.Status)

	job := env.waitForJob(t, created.JobID, schemas.JobStateCompleted, schemas.JobStateFailed)
	require.Equal(t, schemas.JobStateCompleted, job.Status, "error: %+v", job.Error)
	require.Len(t, job.OutputFiles, 1)
	assert.False(t, job.OutputFiles[0].Degraded)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	resp = env.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[schemas.JobStatus](t, resp)
	assert.Equal(t, schemas.JobStateCompleted, status.Status)
	assert.Equal(t, 100.0, status.Progress.OverallPercent)
	assert.NotNil(t, status.CompletedAt)

	resp = env.do(t, http.MethodGet, "/api/v1/jobs?status=completed&limit=5", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]schemas.JobStatus](t, resp), 1)

	resp = env.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID+"/graph", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "still jobs have no graph")

	resp = env.do(t, http.MethodDelete, "/api/v1/jobs/"+created.JobID, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestJobs_VideoFailureFallsBackToStill(t *testing.T) {
	env := newTestEnv(t, ffmpegFails, nil)
	top := env.writePNG(t, "top.png", 40, 40, color.NRGBA{B: 255, A: 255})
	dir := t.TempDir()

	resp := env.do(t, http.MethodPost, "/api/v1/jobs", schemas.JobSpec{
		Layout: booth(),
		Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: top}},
		Output: schemas.Output{Destination: "file://" + filepath.Join(dir, "strip.mp4")},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[CreateJobResponse](t, resp)

	job := env.waitForJob(t, created.JobID, schemas.JobStateCompleted, schemas.JobStateFailed)
	require.Equal(t, schemas.JobStateCompleted, job.Status, "error: %+v", job.Error)
	require.Len(t, job.OutputFiles, 1)
	assert.True(t, job.OutputFiles[0].Degraded)
	assert.True(t, strings.HasSuffix(job.OutputFiles[0].Destination, "strip.png"))
	assert.FileExists(t, filepath.Join(dir, "strip.png"))
	assert.NoFileExists(t, filepath.Join(dir, "strip.mp4"))

	assert.NotEmpty(t, job.Graph, "the graph is recorded before encoding")
	assert.Equal(t, []string{"middle"}, job.SkippedSlots)

	resp = env.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID+"/graph", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	graph := decodeBody[GraphResponse](t, resp)
	assert.Equal(t, job.Graph, graph.Graph)
	assert.Len(t, graph.Inputs, 3)
}

func TestJobs_NoContentFails(t *testing.T) {
	env := newTestEnv(t, "", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/jobs", schemas.JobSpec{
		Layout: booth(),
		Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: filepath.Join(env.dir, "missing.png")}},
		Output: schemas.Output{Destination: "file://" + filepath.Join(t.TempDir(), "strip.png")},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[CreateJobResponse](t, resp)

	job := env.waitForJob(t, created.JobID, schemas.JobStateFailed, schemas.JobStateCompleted)
	assert.Equal(t, schemas.JobStateFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "NO_CONTENT", job.Error.Code)
	assert.False(t, job.Error.Retryable)
}

func TestJobs_Cancel(t *testing.T) {
	env := newTestEnv(t, ffmpegHangs, nil)
	top := env.writePNG(t, "top.png", 40, 40, color.NRGBA{A: 255})

	resp := env.do(t, http.MethodPost, "/api/v1/jobs", schemas.JobSpec{
		Layout: booth(),
		Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: top}},
		Output: schemas.Output{Destination: "file://" + filepath.Join(t.TempDir(), "strip.mp4")},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[CreateJobResponse](t, resp)

	env.waitForJob(t, created.JobID, schemas.JobStateProcessing)

	resp = env.do(t, http.MethodDelete, "/api/v1/jobs/"+created.JobID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// the runner must not overwrite the cancelled state once the engine dies
	time.Sleep(100 * time.Millisecond)
	job, err := env.server.store.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, schemas.JobStateCancelled, job.Status)

	resp = env.do(t, http.MethodDelete, "/api/v1/jobs/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobs_Validation(t *testing.T) {
	env := newTestEnv(t, "", nil)

	tests := []struct {
		name string
		spec schemas.JobSpec
		code string
	}{
		{name: "no destination", spec: schemas.JobSpec{Layout: booth()}, code: "INVALID_REQUEST"},
		{name: "ftp destination", spec: schemas.JobSpec{Layout: booth(), Output: schemas.Output{Destination: "ftp://x/y.png"}}, code: "INVALID_REQUEST"},
		{name: "bad canvas", spec: schemas.JobSpec{Layout: schemas.Layout{}, Output: schemas.Output{Destination: "file:///tmp/x.png"}}, code: "INVALID_GEOMETRY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/jobs", tt.spec, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, resp).Error.Code)
		})
	}

	resp := env.do(t, http.MethodGet, "/api/v1/jobs?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobEvents_WebSocket(t *testing.T) {
	env := newTestEnv(t, "", nil)
	top := env.writePNG(t, "top.png", 40, 40, color.NRGBA{R: 255, A: 255})

	resp := env.do(t, http.MethodPost, "/api/v1/jobs", schemas.JobSpec{
		Layout: booth(),
		Assets: []schemas.MediaAsset{{SlotID: "top", ImagePath: top}},
		Output: schemas.Output{Destination: "file://" + filepath.Join(t.TempDir(), "strip.png")},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[CreateJobResponse](t, resp)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/jobs/" + created.JobID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var last schemas.JobStatus
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var status schemas.JobStatus
		err := conn.ReadJSON(&status)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		last = status
	}
	assert.Equal(t, created.JobID, last.JobID)
	assert.Equal(t, schemas.JobStateCompleted, last.Status)

	_, resp2, err := websocket.DefaultDialer.Dial(strings.Replace(wsURL, created.JobID, "nope", 1), nil)
	assert.Error(t, err)
	if resp2 != nil {
		assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	}
}

func TestRoutes_Auth(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	keys := auth.NewAPIKeyManager()
	require.NoError(t, keys.Register("kiosk-key-123", "booth-1", auth.RoleKiosk))

	env := newTestEnv(t, "", auth.NewAuthMiddleware(jwtManager, keys, false))

	resp := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp = env.do(t, http.MethodGet, "/api/v1/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"X-API-Key": "kiosk-key-123"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/jobs/any", nil, map[string]string{"X-API-Key": "kiosk-key-123"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	token, err := jwtManager.Generate("op-1", "", auth.RoleOperator)
	require.NoError(t, err)
	resp = env.do(t, http.MethodDelete, "/api/v1/jobs/any", nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&schemas.GeometryError{Field: "canvas", Reason: "zero"}, http.StatusBadRequest},
		{fmt.Errorf("%w: bad", schemas.ErrInvalidRequest), http.StatusBadRequest},
		{schemas.ErrNoContent, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: busy", schemas.ErrResourceExhausted), http.StatusTooManyRequests},
		{&schemas.PipelineError{ExitCode: 1}, http.StatusBadGateway},
		{fmt.Errorf("%w: s3 down", schemas.ErrUpload), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		out  schemas.Output
		want string
	}{
		{schemas.Output{Destination: "s3://b/strip.mp4"}, "mp4"},
		{schemas.Output{Destination: "s3://b/strip.JPG"}, "jpeg"},
		{schemas.Output{Destination: "file:///x/strip"}, "png"},
		{schemas.Output{Destination: "file:///x/strip.png", Format: "mp4"}, "mp4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outputFormat(tt.out), tt.out.Destination)
	}
	assert.Equal(t, "s3://b/strip.png", replaceExt("s3://b/strip.mp4", ".png"))
}
