package compositor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chicogong/slot-compositor/pkg/executor"
	"github.com/chicogong/slot-compositor/pkg/planner"
	"github.com/chicogong/slot-compositor/pkg/raster"
	"github.com/chicogong/slot-compositor/pkg/schemas"
)

func writePNG(t *testing.T, dir, name string, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func newTestService(t *testing.T, ffmpeg string) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ScratchRoot = t.TempDir()
	if ffmpeg != "" {
		cfg.Output.FFmpegPath = ffmpeg
	}

	logger := zaptest.NewLogger(t)
	sm := executor.NewStorageManager(nil)
	exec := executor.NewExecutor(executor.Config{MaxConcurrent: 1, ScratchRoot: t.TempDir()}, sm, logger)
	return New(cfg, exec, sm, nil, logger)
}

func twoSlotLayout() schemas.Layout {
	return schemas.Layout{
		Canvas: schemas.Canvas{Width: 400, Height: 600, Background: "#FFFFFF"},
		Slots: []schemas.Slot{
			{ID: "a", X: 0, Y: 0, Width: 200, Height: 200},
			{ID: "b", X: 200, Y: 200, Width: 200, Height: 200},
		},
	}
}

func TestService_BuildImageComposite_SkipsMissingSlot(t *testing.T) {
	dir := t.TempDir()
	layout := twoSlotLayout()
	layout.FrameOverlay = writePNG(t, dir, "frame.png", 4, 6, color.NRGBA{})

	svc := newTestService(t, "")
	req := &Request{
		Layout: layout,
		Assets: []schemas.MediaAsset{{SlotID: "a", ImagePath: writePNG(t, dir, "a.png", 300, 300, color.NRGBA{R: 255, A: 255})}},
	}

	data, err := svc.BuildImageComposite(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "image/png", svc.ContentType(req))

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 400, 600), img.Bounds())

	r, g, b, _ := img.At(100, 100).RGBA()
	assert.Equal(t, []uint32{0xff, 0, 0}, []uint32{r >> 8, g >> 8, b >> 8})
	r, g, b, _ = img.At(300, 300).RGBA()
	assert.Equal(t, []uint32{0xff, 0xff, 0xff}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestService_BuildImageComposite_JPEG(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, "")
	req := &Request{
		Layout: twoSlotLayout(),
		Assets: []schemas.MediaAsset{{SlotID: "b", ImagePath: writePNG(t, dir, "b.png", 50, 80, color.NRGBA{B: 255, A: 255})}},
		Format: raster.FormatJPEG,
	}

	data, err := svc.BuildImageComposite(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", svc.ContentType(req))

	_, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestService_BuildImageComposite_Errors(t *testing.T) {
	svc := newTestService(t, "")

	_, err := svc.BuildImageComposite(context.Background(), &Request{Layout: twoSlotLayout()})
	assert.ErrorIs(t, err, schemas.ErrNoContent)

	layout := twoSlotLayout()
	layout.Slots[1].DuplicateOfSlotID = "b"
	_, err = svc.BuildImageComposite(context.Background(), &Request{Layout: layout})
	assert.ErrorIs(t, err, schemas.ErrInvalidGeometry)

	layout = twoSlotLayout()
	layout.Canvas.Width = 0
	_, err = svc.BuildImageComposite(context.Background(), &Request{Layout: layout})
	assert.ErrorIs(t, err, schemas.ErrInvalidGeometry)

	_, err = svc.BuildImageComposite(context.Background(), &Request{
		Layout: twoSlotLayout(),
		Assets: []schemas.MediaAsset{{SlotID: "a", ImagePath: "/nowhere/a.png"}},
	})
	assert.ErrorIs(t, err, schemas.ErrNoContent)
}

func TestService_SubPixelSlotFailsBothPaths(t *testing.T) {
	dir := t.TempDir()
	layout := twoSlotLayout()
	layout.Slots = append(layout.Slots, schemas.Slot{ID: "c", X: 10, Y: 400, Width: 0.4, Height: 100, DuplicateOfSlotID: "a"})
	req := &Request{
		Layout: layout,
		Assets: []schemas.MediaAsset{{SlotID: "a", ImagePath: writePNG(t, dir, "a.png", 64, 64, color.NRGBA{R: 255, A: 255})}},
	}

	svc := newTestService(t, "")

	_, err := svc.BuildImageComposite(context.Background(), req)
	assert.ErrorIs(t, err, schemas.ErrInvalidGeometry)

	_, err = svc.BuildVideoGraph(context.Background(), req)
	assert.ErrorIs(t, err, schemas.ErrInvalidGeometry)
	assert.Equal(t, "INVALID_GEOMETRY", schemas.ErrorCode(err))
}

func TestService_BuildVideoGraph(t *testing.T) {
	layout := twoSlotLayout()
	layout.Slots = append(layout.Slots, schemas.Slot{ID: "c", X: 50, Y: 400, Width: 300, Height: 150, Rotation: -15, DuplicateOfSlotID: "a"})
	layout.FrameOverlay = "/frames/party.png"

	req := &Request{
		Layout: layout,
		Assets: []schemas.MediaAsset{{SlotID: "a", ImagePath: "/captures/a.jpg", VideoPath: "/captures/a.mp4"}},
		Sizes:  map[string]planner.SourceSize{"/captures/a.mp4": {Width: 1920, Height: 1080}},
	}

	svc := newTestService(t, "")
	graph, err := svc.BuildVideoGraph(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, graph.InputOrder, 4)
	assert.Equal(t, schemas.InputColor, graph.InputOrder[0].Kind)
	for i, in := range graph.InputOrder[1:3] {
		assert.Equal(t, i+1, in.Index)
		assert.Equal(t, schemas.InputVideo, in.Kind)
		assert.Equal(t, "/captures/a.mp4", in.Source, "duplicate slots reuse the target clip")
	}
	assert.Equal(t, schemas.InputFrame, graph.InputOrder[3].Kind)
	assert.Equal(t, []string{"b"}, graph.Skipped)
	assert.True(t, strings.HasSuffix(graph.Description, "[overlay2][frame_scale]overlay=0:0[out]"), graph.Description)
	assert.Contains(t, graph.Description, "rotate=-15*PI/180")

	again, err := svc.BuildVideoGraph(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, graph.Description, again.Description)
}

func TestService_BuildVideoGraph_MeasuresSources(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.jpg")
	require.NoError(t, os.WriteFile(junk, []byte("not a picture"), 0644))

	svc := newTestService(t, "")

	graph, err := svc.BuildVideoGraph(context.Background(), &Request{
		Layout: schemas.Layout{
			Canvas: schemas.Canvas{Width: 800, Height: 1200},
			Slots: []schemas.Slot{
				{ID: "a", X: 200, Y: 200, Width: 400, Height: 300},
				{ID: "b", X: 0, Y: 0, Width: 100, Height: 100},
			},
		},
		Assets: []schemas.MediaAsset{
			{SlotID: "a", ImagePath: writePNG(t, dir, "a.png", 192, 108, color.NRGBA{A: 255})},
			{SlotID: "b", ImagePath: junk},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, graph.Description, "scale=534:300")
	assert.Contains(t, graph.Description, "overlay=200:200:shortest=1[out]")
	assert.Len(t, graph.InputOrder, 2)
	assert.Equal(t, []string{"b"}, graph.Skipped)
}

func TestService_RunVideoComposite(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	ffmpeg := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpeg, []byte("#!/bin/sh\nfor last; do :; done\nprintf 'mp4' > \"$last\"\n"), 0755))

	svc := newTestService(t, ffmpeg)
	graph, err := svc.BuildVideoGraph(context.Background(), &Request{
		Layout: twoSlotLayout(),
		Assets: []schemas.MediaAsset{{SlotID: "a", ImagePath: writePNG(t, t.TempDir(), "a.png", 10, 10, color.NRGBA{A: 255})}},
	})
	require.NoError(t, err)

	output := filepath.Join(t.TempDir(), "strip.mp4")
	result, err := svc.RunVideoComposite(context.Background(), graph, output, 3*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.OutputSize)

	_, err = svc.RunVideoComposite(context.Background(), graph, output, 0, nil)
	assert.ErrorContains(t, err, "max duration")

	result, err = svc.RunSingleSource(context.Background(), schemas.MediaAsset{SlotID: "a", ImagePath: graph.InputOrder[1].Source}, output, time.Second, nil)
	require.NoError(t, err)
	assert.FileExists(t, result.OutputPath)
}

func TestService_NoExecutor(t *testing.T) {
	svc := New(DefaultConfig(), nil, nil, nil, nil)

	_, err := svc.RunVideoComposite(context.Background(), &VideoGraph{}, "/out.mp4", time.Second, nil)
	assert.ErrorContains(t, err, "no executor")
}
