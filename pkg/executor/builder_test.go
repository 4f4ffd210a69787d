package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chicogong/slot-compositor/pkg/operators"
	"github.com/chicogong/slot-compositor/pkg/planner"
	"github.com/chicogong/slot-compositor/pkg/resolve"
	"github.com/chicogong/slot-compositor/pkg/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hd = planner.SourceSize{Width: 1920, Height: 1080}

func singleSlotPlan(t *testing.T, rotation float64) *schemas.ProcessingPlan {
	t.Helper()

	plan, err := planner.NewPlanner().Plan(context.Background(), &planner.Request{
		Canvas: schemas.Canvas{Width: 800, Height: 1200, Background: "#FFFFFF"},
		Layers: []resolve.Layer{{
			Slot:  schemas.Slot{ID: "a", X: 200, Y: 200, Width: 400, Height: 300, Rotation: rotation},
			Asset: schemas.MediaAsset{SlotID: "a", ImagePath: "/captures/a.jpg"},
		}},
		Sizes: map[string]planner.SourceSize{"/captures/a.jpg": hd},
	})
	require.NoError(t, err)
	return plan
}

func newTestBuilder() *CommandBuilder {
	return NewCommandBuilder(operators.GlobalRegistry(), DefaultOutputOptions())
}

func TestCommandBuilder_RenderFilterGraph(t *testing.T) {
	tests := []struct {
		name     string
		rotation float64
		want     string
	}{
		{
			name:     "unrotated slot",
			rotation: 0,
			want: "[1:v]format=rgba[layer1_format];" +
				"[layer1_format]scale=534:300:flags=bicubic[layer1_scale];" +
				"[layer1_scale]crop=400:300:(iw-ow)/2:(ih-oh)/2[layer1_crop];" +
				"[0:v][layer1_crop]overlay=200:200:shortest=1[out]",
		},
		{
			name:     "quarter turn",
			rotation: 90,
			want: "[1:v]format=rgba[layer1_format];" +
				"[layer1_format]scale=534:300:flags=bicubic[layer1_scale];" +
				"[layer1_scale]crop=400:300:(iw-ow)/2:(ih-oh)/2[layer1_crop];" +
				"[layer1_crop]rotate=90*PI/180:ow=300:oh=400:c=none[layer1_rotate];" +
				"[0:v][layer1_rotate]overlay=250:150:shortest=1[out]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := newTestBuilder().RenderFilterGraph(singleSlotPlan(t, tt.rotation))
			require.NoError(t, err)
			assert.Equal(t, tt.want, graph)
		})
	}
}

func TestCommandBuilder_OddCanvasEncodesEven(t *testing.T) {
	plan, err := planner.NewPlanner().Plan(context.Background(), &planner.Request{
		Canvas: schemas.Canvas{Width: 801, Height: 1201},
		Layers: []resolve.Layer{{
			Slot:  schemas.Slot{ID: "a", X: 10, Y: 10, Width: 400, Height: 300},
			Asset: schemas.MediaAsset{SlotID: "a", ImagePath: "/captures/a.jpg"},
		}},
		Sizes: map[string]planner.SourceSize{"/captures/a.jpg": hd},
	})
	require.NoError(t, err)

	cmd, err := newTestBuilder().Build(context.Background(), plan, "/out/strip.mp4", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cmd.FilterGraph,
		"[0:v][layer1_crop]overlay=10:10:shortest=1[overlay1];[overlay1]pad=802:1202:0:0:color=black[out]"),
		cmd.FilterGraph)
	assert.Contains(t, cmd.Args(), "color=c=black@0:s=801x1201:r=30")
}

func TestCommandBuilder_SequentialOverlaysWithFrameLast(t *testing.T) {
	layers := make([]resolve.Layer, 0, 3)
	sizes := map[string]planner.SourceSize{}
	for _, id := range []string{"a", "b", "c"} {
		src := "/captures/" + id + ".jpg"
		layers = append(layers, resolve.Layer{
			Slot:  schemas.Slot{ID: id, X: 100, Y: 100, Width: 400, Height: 300},
			Asset: schemas.MediaAsset{SlotID: id, ImagePath: src},
		})
		sizes[src] = hd
	}

	plan, err := planner.NewPlanner().Plan(context.Background(), &planner.Request{
		Canvas:       schemas.Canvas{Width: 800, Height: 1200},
		Layers:       layers,
		FrameOverlay: "/frames/party.png",
		Sizes:        sizes,
	})
	require.NoError(t, err)

	graph, err := newTestBuilder().RenderFilterGraph(plan)
	require.NoError(t, err)

	fragments := strings.Split(graph, ";")
	var overlays []string
	for _, f := range fragments {
		if strings.Contains(f, "overlay=") {
			overlays = append(overlays, f)
		}
	}

	assert.Equal(t, []string{
		"[0:v][layer1_crop]overlay=100:100:shortest=1[overlay1]",
		"[overlay1][layer2_crop]overlay=100:100[overlay2]",
		"[overlay2][layer3_crop]overlay=100:100[overlay3]",
		"[overlay3][frame_scale]overlay=0:0[out]",
	}, overlays)
	assert.Equal(t, "[4:v]format=rgba[frame_format]", fragments[len(fragments)-3])
	assert.Equal(t, "[frame_format]scale=800:1200:flags=bicubic[frame_scale]", fragments[len(fragments)-2])
	assert.Equal(t, 1, strings.Count(graph, "shortest=1"))
}

func TestCommandBuilder_Build(t *testing.T) {
	plan := singleSlotPlan(t, 0)

	cmd, err := newTestBuilder().Build(context.Background(), plan, "/out/strip.mp4", 8*time.Second)
	require.NoError(t, err)

	args := cmd.Args()
	assert.Equal(t, "ffmpeg", args[0])
	assert.Equal(t, "/out/strip.mp4", args[len(args)-1])

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f lavfi -i color=c=0xFFFFFF:s=800x1200:r=30 -loop 1 -framerate 30 -i /captures/a.jpg")
	assert.Contains(t, joined, "-filter_complex "+cmd.FilterGraph+" -map [out]")
	assert.Contains(t, joined, "-t 8 ")
	assert.Contains(t, joined, "-c:v libx264 -preset veryfast -crf 23 -pix_fmt yuv420p -an")
}

func TestCommandBuilder_InputFlags(t *testing.T) {
	opts := DefaultOutputOptions()

	assert.Equal(t, []string{"-stream_loop", "-1", "-i", "a.mp4"},
		inputArgs(schemas.PlanInput{Kind: schemas.InputVideo, Source: "a.mp4"}, opts))
	assert.Equal(t, []string{"-loop", "1", "-framerate", "30", "-i", "frame.png"},
		inputArgs(schemas.PlanInput{Kind: schemas.InputFrame, Source: "frame.png"}, opts))

	opts.LoopVideos = false
	assert.Equal(t, []string{"-i", "a.mp4"},
		inputArgs(schemas.PlanInput{Kind: schemas.InputVideo, Source: "a.mp4"}, opts))
}

func TestLavfiColor(t *testing.T) {
	tests := map[string]string{
		"":            "black@0",
		"transparent": "black@0",
		"#ff8800":     "0xFF8800",
		"#ff880080":   "0xFF8800@0.502",
		"#00000000":   "black@0",
		"not-a-color": "black@0",
	}
	for in, want := range tests {
		assert.Equal(t, want, lavfiColor(in), in)
	}
}

func TestCommandBuilder_Assemble_Errors(t *testing.T) {
	cb := newTestBuilder()
	inputs := []schemas.PlanInput{{Index: 0, Kind: schemas.InputColor, Width: 10, Height: 10}}

	_, err := cb.Assemble("g", inputs, "/out.mp4", 0)
	assert.ErrorContains(t, err, "max duration")

	_, err = cb.Assemble("g", inputs, "", time.Second)
	assert.ErrorContains(t, err, "output path")

	_, err = cb.Assemble("g", nil, "/out.mp4", time.Second)
	assert.Error(t, err)

	_, err = cb.Assemble("g", []schemas.PlanInput{{Index: 1}}, "/out.mp4", time.Second)
	assert.ErrorContains(t, err, "stream index")
}

func TestCommandBuilder_SingleSource(t *testing.T) {
	cb := newTestBuilder()

	cmd, err := cb.SingleSource("/captures/a.mp4", schemas.InputVideo, "/out/a.mp4", 5*time.Second)
	require.NoError(t, err)

	joined := strings.Join(cmd.Args(), " ")
	assert.Contains(t, joined, "-stream_loop -1 -i /captures/a.mp4 -map 0:v")
	assert.NotContains(t, joined, "-filter_complex")

	_, err = cb.SingleSource("", schemas.InputImage, "/out/a.mp4", time.Second)
	assert.ErrorIs(t, err, schemas.ErrNoContent)
}

func TestCommandBuilder_RenderFilterGraph_BrokenPlan(t *testing.T) {
	plan := singleSlotPlan(t, 0)
	plan.ExecutionOrder = append([]string{"layer1_crop"}, plan.ExecutionOrder...)

	_, err := newTestBuilder().RenderFilterGraph(plan)
	assert.ErrorContains(t, err, "before it is produced")
}
